package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// errChecksFailed is returned when the run completed but at least one check
// failed. The transcript already explains why, so nothing more is printed.
var errChecksFailed = errors.New("checks failed")

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "mapcheck",
	Short: "Visual assertions against the soil quality map",
	Long: "mapcheck drives headless Chrome against the soil quality choropleth map and\n" +
		"checks shape fills, hover info text, the legend and the data sources panel.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		setupLogging(verbose)
	},
	RunE: runChecks,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "debug logging on stderr")
	rootCmd.SetVersionTemplate("mapcheck {{.Version}}\n")
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and maps the outcome to an exit code. A
// panic anywhere in the run exits 1 like any other failure.
func execute(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "mapcheck: panic: %v\n", r)
			slog.Debug("panic", "stack", string(debug.Stack()))
			code = 1
		}
	}()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintf(os.Stderr, "mapcheck: %v\n", err)
		}
		return 1
	}
	return 0
}
