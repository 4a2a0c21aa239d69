package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pinchtab/mapcheck/internal/assets"
	"github.com/pinchtab/mapcheck/internal/config"
	"github.com/pinchtab/mapcheck/internal/driver"
	"github.com/pinchtab/mapcheck/internal/history"
	"github.com/pinchtab/mapcheck/internal/inspect"
	"github.com/pinchtab/mapcheck/internal/live"
	"github.com/pinchtab/mapcheck/internal/report"
	"github.com/pinchtab/mapcheck/internal/session"
	"github.com/pinchtab/mapcheck/internal/soilmap"
	"github.com/pinchtab/mapcheck/internal/suite"
	"github.com/pinchtab/mapcheck/internal/web"
)

type runFlags struct {
	url      string
	suite    string
	serveDir string
	fixture  bool
	report   string
	history  string
	live     string
	headed   bool
	noColor  bool
	details  bool
}

var runOpts runFlags

func init() {
	f := rootCmd.Flags()
	f.StringVar(&runOpts.url, "url", "", "map URL (default TEST_URL or "+config.DefaultBaseURL+")")
	f.StringVar(&runOpts.suite, "suite", "", "expectations YAML (default built-in)")
	f.StringVar(&runOpts.serveDir, "serve-dir", "", "serve this directory and test it")
	f.BoolVar(&runOpts.fixture, "fixture", false, "serve and test the built-in fixture map")
	f.StringVar(&runOpts.report, "report", "", "write a JSON or YAML report to this path")
	f.StringVar(&runOpts.history, "history", "", "record the run in this SQLite database")
	f.StringVar(&runOpts.live, "live", "", "stream progress over /ws and /events on this address")
	f.BoolVar(&runOpts.headed, "headed", false, "show the browser window")
	f.BoolVar(&runOpts.noColor, "no-color", false, "disable coloured output")
	f.BoolVar(&runOpts.details, "details", false, "print check details under each line")
}

// apply layers command-line flags over the loaded configuration.
func (o runFlags) apply(cfg *config.RuntimeConfig) {
	if o.url != "" {
		cfg.BaseURL = o.url
	}
	if o.suite != "" {
		cfg.SuitePath = o.suite
	}
	if o.serveDir != "" {
		cfg.ServeDir = o.serveDir
	}
	if o.report != "" {
		cfg.ReportPath = o.report
	}
	if o.history != "" {
		cfg.HistoryPath = o.history
	}
	if o.live != "" {
		cfg.LiveAddr = o.live
	}
	if o.headed {
		cfg.Headless = false
	}
}

// baseURLFixed reports whether the target was named rather than defaulted,
// in which case a local asset server does not replace it.
func (o runFlags) baseURLFixed(cfg *config.RuntimeConfig) bool {
	return o.url != "" || cfg.BaseURLSet
}

func runChecks(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	runOpts.apply(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := runSuite(ctx, cfg, runOpts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if rep.ExitCode() != 0 {
		return errChecksFailed
	}
	return nil
}

// assetHandler picks what the local asset server serves, or nil when no
// server is wanted.
func assetHandler(cfg *config.RuntimeConfig, fixture bool) (http.Handler, error) {
	if cfg.ServeDir != "" {
		return web.NewStatic(cfg.ServeDir)
	}
	if fixture {
		return web.NewStaticFS(assets.Fixture()), nil
	}
	return nil, nil
}

// runSuite executes one full run. Only setup problems are returned as errors;
// check failures are in the report.
func runSuite(ctx context.Context, cfg *config.RuntimeConfig, opts runFlags, out io.Writer) (*suite.Report, error) {
	exp, err := soilmap.LoadExpectations(cfg.SuitePath)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServers := context.WithCancel(gctx)
	defer func() {
		stopServers()
		if err := g.Wait(); err != nil {
			slog.Warn("server stopped with error", "err", err)
		}
	}()

	assetsH, err := assetHandler(cfg, opts.fixture)
	if err != nil {
		return nil, err
	}
	if assetsH != nil {
		ready := make(chan string, 1)
		g.Go(func() error { return web.Serve(srvCtx, cfg.ServeAddr(), assetsH, ready) })
		select {
		case addr := <-ready:
			slog.Info("serving map assets", "addr", addr)
			if !opts.baseURLFixed(cfg) {
				cfg.BaseURL = "http://" + addr + "/"
			}
		case <-gctx.Done():
			return nil, fmt.Errorf("asset server: %w", g.Wait())
		}
	}

	var hub *live.Hub
	if cfg.LiveAddr != "" {
		hub = live.NewHub()
		mux := http.NewServeMux()
		hub.RegisterHandlers(mux)
		g.Go(func() error { return web.Serve(srvCtx, cfg.LiveAddr, mux, nil) })
		slog.Info("live progress", "addr", cfg.LiveAddr)
	}

	sess, err := session.Start(ctx, session.OptionsFrom(cfg))
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	insp := inspect.New(sess, exp.Selectors)
	env := &soilmap.Env{
		Driver:          driver.New(sess, insp, driver.TimingFrom(cfg), cfg.ArtifactDir),
		Inspector:       insp,
		Diagnostics:     sess.Diagnostics,
		Exp:             exp,
		BaseURL:         cfg.BaseURL,
		NavigateTimeout: cfg.NavigateTimeout,
		ReadyTimeout:    cfg.ReadyTimeout,
	}

	topts := []report.Option{report.WithDetails(opts.details)}
	if opts.noColor {
		topts = append(topts, report.WithColor(false))
	}
	transcript := report.NewTranscript(out, topts...)
	runner := suite.NewRunner(cfg.CheckTimeout, transcript)
	if hub != nil {
		runner.Observe(hub)
	}

	rep := suite.NewReport(cfg.BaseURL)

	var store *history.Store
	progressive := false
	if cfg.HistoryPath != "" {
		store, err = history.Open(cfg.HistoryPath)
		if err != nil {
			slog.Warn("history disabled", "err", err)
			store = nil
		} else {
			defer store.Close()
			if err := store.BeginRun(ctx, rep); err != nil {
				slog.Warn("recording history after the run", "err", err)
			} else {
				progressive = true
				runner.Observe(store)
			}
		}
	}

	transcript.Header(cfg.BaseURL)
	runner.Run(ctx, rep, soilmap.Steps(env))
	transcript.Summary(rep)

	if hub != nil {
		hub.Finish(rep)
	}
	if store != nil {
		if err := recordHistory(ctx, store, rep, progressive); err != nil {
			slog.Warn("history write failed", "err", err)
		}
	}
	if cfg.ReportPath != "" {
		if err := report.WriteFile(cfg.ReportPath, rep); err != nil {
			return rep, err
		}
		slog.Info("report written", "path", cfg.ReportPath)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return rep, ctx.Err()
	}
	return rep, nil
}

// recordHistory closes out a run that was recorded check by check, or writes
// the whole report when the run row could not be created up front.
func recordHistory(ctx context.Context, store *history.Store, rep *suite.Report, progressive bool) error {
	// The run context may already be cancelled; the summary row still has
	// to be written.
	ctx = context.WithoutCancel(ctx)
	if progressive {
		return store.FinishRun(ctx, rep)
	}
	return store.Save(ctx, rep)
}
