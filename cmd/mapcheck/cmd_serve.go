package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pinchtab/mapcheck/internal/config"
	"github.com/pinchtab/mapcheck/internal/web"
)

var (
	serveDir  string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the map assets (or the built-in fixture) without running checks",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDir, "dir", "", "directory to serve (default MAPCHECK_SERVE_DIR, else the built-in fixture)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (default MAPCHECK_SERVE_PORT or "+config.DefaultServePort+")")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if serveDir != "" {
		cfg.ServeDir = serveDir
	}
	if servePort != "" {
		cfg.ServePort = servePort
	}

	h, err := assetHandler(cfg, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- web.Serve(ctx, cfg.ServeAddr(), h, ready) }()

	select {
	case addr := <-ready:
		source := cfg.ServeDir
		if source == "" {
			source = "built-in fixture"
		}
		slog.Info("serving", "source", source)
		fmt.Fprintf(cmd.OutOrStdout(), "http://%s/\n", addr)
	case err := <-errCh:
		return err
	}
	return <-errCh
}
