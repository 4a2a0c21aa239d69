package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pinchtab/mapcheck/internal/config"
	"github.com/pinchtab/mapcheck/internal/history"
	"github.com/pinchtab/mapcheck/internal/report"
)

var (
	historyPath  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs and per-check failure rates",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyPath, "db", "", "history database (default MAPCHECK_HISTORY)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of recent runs to consider")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	path := historyPath
	if path == "" {
		path = config.Load().HistoryPath
	}
	if path == "" {
		return fmt.Errorf("no history database: pass --db or set MAPCHECK_HISTORY")
	}
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	runs, err := store.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	stats, err := store.FailureRates(ctx, historyLimit)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), runs, stats)
	return nil
}

func printHistory(w io.Writer, runs []history.Run, stats []history.CheckStat) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		dur := "-"
		if !r.Finished.IsZero() {
			dur = r.Finished.Sub(r.Started).Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.Started.Local().Format("2006-01-02 15:04:05"),
			r.BaseURL,
			strconv.Itoa(r.Passed),
			strconv.Itoa(r.Failed),
			dur,
		})
	}
	fmt.Fprintln(w, "Recent runs:")
	report.Table(w, []string{"Started", "URL", "Passed", "Failed", "Duration"}, rows)

	rows = rows[:0]
	for _, s := range stats {
		if s.Failures == 0 {
			continue
		}
		rows = append(rows, []string{
			s.Name,
			fmt.Sprintf("%d/%d", s.Failures, s.Runs),
			fmt.Sprintf("%.0f%%", 100*s.FailureRate()),
			s.LastError,
		})
	}
	fmt.Fprintln(w)
	if len(rows) == 0 {
		fmt.Fprintln(w, "No failing checks.")
		return
	}
	fmt.Fprintln(w, "Failing checks:")
	report.Table(w, []string{"Check", "Failures", "Rate", "Last error"}, rows)
}
