package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/pinchtab/mapcheck/internal/config"
	"github.com/pinchtab/mapcheck/internal/diag"
)

// StartupError reports that the browser could not be spawned or connected.
// It is fatal for the run and never retried.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return "browser startup: " + e.Err.Error()
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Options is the subset of configuration the session needs.
type Options struct {
	Headless         bool
	NoSandbox        bool
	ViewportWidth    int
	ViewportHeight   int
	ChromeBinary     string
	ChromeExtraFlags string
	NoAnimations     bool
	StartTimeout     time.Duration
}

func OptionsFrom(cfg *config.RuntimeConfig) Options {
	return Options{
		Headless:         cfg.Headless,
		NoSandbox:        cfg.NoSandbox,
		ViewportWidth:    cfg.ViewportWidth,
		ViewportHeight:   cfg.ViewportHeight,
		ChromeBinary:     cfg.ChromeBinary,
		ChromeExtraFlags: cfg.ChromeExtraFlags,
		NoAnimations:     cfg.NoAnimations,
		StartTimeout:     cfg.StartTimeout,
	}
}

// Session is one browser process with a single page. Acquire it with Start
// and release it with a deferred Close; Close is safe to call more than once.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once

	Diagnostics *diag.Buffer
	net         *netTracker
}

func buildChromeOpts(opts Options) []chromedp.ExecAllocatorOption {
	out := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),

		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	}

	if opts.NoSandbox {
		out = append(out,
			chromedp.NoSandbox,
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	if opts.ChromeBinary != "" {
		out = append(out, chromedp.ExecPath(opts.ChromeBinary))
	}
	if opts.ChromeExtraFlags != "" {
		for _, f := range strings.Fields(opts.ChromeExtraFlags) {
			if k, v, ok := strings.Cut(f, "="); ok {
				out = append(out, chromedp.Flag(strings.TrimLeft(k, "-"), v))
			} else {
				out = append(out, chromedp.Flag(strings.TrimLeft(f, "-"), true))
			}
		}
	}

	if opts.Headless {
		out = append(out, chromedp.Headless)
	} else {
		out = append(out, chromedp.Flag("headless", false))
	}

	return out
}

// Start launches Chrome, opens a page with the configured viewport and begins
// capturing diagnostics. Any failure is a *StartupError and leaves no process
// behind.
func Start(ctx context.Context, opts Options) (*Session, error) {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 15 * time.Second
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1280, 800
	}

	slog.Info("launching chrome", "headless", opts.Headless, "viewport", fmt.Sprintf("%dx%d", opts.ViewportWidth, opts.ViewportHeight))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildChromeOpts(opts)...)
	bCtx, bCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         bCtx,
		cancel:      bCancel,
		allocCancel: allocCancel,
		Diagnostics: diag.NewBuffer(),
		net:         newNetTracker(),
	}
	// Listeners registered before the first Run are installed when the target
	// is created, so nothing emitted during the first load is missed.
	s.Diagnostics.Attach(bCtx)
	s.net.attach(bCtx)

	setup := []chromedp.Action{
		network.Enable(),
		chromedp.EmulateViewport(int64(opts.ViewportWidth), int64(opts.ViewportHeight)),
	}
	if opts.NoAnimations {
		setup = append(setup, noAnimations()...)
	}

	startCtx, startDone := context.WithTimeout(ctx, opts.StartTimeout)
	defer startDone()

	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(bCtx, setup...)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Close()
			return nil, &StartupError{Err: err}
		}
	case <-startCtx.Done():
		s.Close()
		return nil, &StartupError{Err: fmt.Errorf("timed out after %s", opts.StartTimeout)}
	}

	slog.Debug("chrome ready")
	return s, nil
}

// Close tears down the page, the browser and the allocator.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
		slog.Debug("chrome closed")
	})
}

// Context is the chromedp context of the page. It is done once the session
// is closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

// bind derives a chromedp-capable context from the session that also honours
// the caller's deadline and cancellation.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) Evaluate(ctx context.Context, expr string, res any) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, res))
}

// MouseMove moves the virtual pointer to viewport coordinates.
func (s *Session) MouseMove(ctx context.Context, x, y float64) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		}),
	)
}

// Navigate issues Page.navigate and polls document.readyState until the
// document is complete.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	s.net.reset()
	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errText, _, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errText != "" {
				return fmt.Errorf("navigate %s: %s", url, errText)
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-ticker.C:
			var state string
			err = chromedp.Run(runCtx,
				chromedp.Evaluate("document.readyState", &state),
			)
			if err == nil && state == "complete" {
				slog.Debug("document complete", "url", url, "pending", s.net.pending())
				return nil
			}
		}
	}
}

// NetworkIdle reports whether no request has been in flight for at least
// quiet.
func (s *Session) NetworkIdle(quiet time.Duration) bool {
	return s.net.idle(quiet, time.Now())
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// DisableAnimationsCSS force-disables CSS animations and transitions so that
// map panning and hover styling finish before the next read.
const DisableAnimationsCSS = `
(function() {
  const style = document.createElement('style');
  style.setAttribute('data-mapcheck', 'no-animations');
  style.textContent = '*, *::before, *::after { animation: none !important; animation-duration: 0s !important; transition: none !important; transition-duration: 0s !important; scroll-behavior: auto !important; }';
  (document.head || document.documentElement).appendChild(style);
})();
`

func noAnimations() []chromedp.Action {
	return []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(DisableAnimationsCSS).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetEmulatedMedia().
				WithFeatures([]*emulation.MediaFeature{
					{Name: "prefers-reduced-motion", Value: "reduce"},
				}).Do(ctx)
		}),
	}
}
