// Package driver issues navigation, pointer and map-view commands against the
// page under test. Every state-changing action settles before returning, so a
// caller may read page state as soon as the call completes.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pinchtab/mapcheck/internal/config"
	"github.com/pinchtab/mapcheck/internal/inspect"
	"github.com/pinchtab/mapcheck/internal/settle"
)

var (
	ErrNavigationTimeout  = errors.New("navigation timeout")
	ErrElementWaitTimeout = errors.New("element wait timeout")
)

// Page is the browser surface the driver needs. *session.Session implements it.
type Page interface {
	inspect.Evaluator
	MouseMove(ctx context.Context, x, y float64) error
	Navigate(ctx context.Context, url string) error
	NetworkIdle(quiet time.Duration) bool
	Screenshot(ctx context.Context) ([]byte, error)
}

// Condition is a readiness predicate polled by Navigate and WaitFor.
type Condition = settle.Predicate

// Timing bounds each settle step. The settle values are budgets: polling
// stops as soon as the page is quiet, and at the latest when the budget ends.
type Timing struct {
	Poll         time.Duration
	NetworkQuiet time.Duration
	HoverSettle  time.Duration
	ScanSettle   time.Duration
	ViewSettle   time.Duration
	ModeSettle   time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Poll:         100 * time.Millisecond,
		NetworkQuiet: 500 * time.Millisecond,
		HoverSettle:  500 * time.Millisecond,
		ScanSettle:   50 * time.Millisecond,
		ViewSettle:   1500 * time.Millisecond,
		ModeSettle:   2 * time.Second,
	}
}

func TimingFrom(cfg *config.RuntimeConfig) Timing {
	t := DefaultTiming()
	if cfg.PollInterval > 0 {
		t.Poll = cfg.PollInterval
	}
	t.HoverSettle = cfg.HoverSettle
	t.ViewSettle = cfg.ViewSettle
	t.ModeSettle = cfg.ModeSettle
	return t
}

// Point is a pointer position in viewport coordinates.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type Driver struct {
	page        Page
	insp        *inspect.Inspector
	sel         inspect.Selectors
	timing      Timing
	artifactDir string
}

func New(page Page, insp *inspect.Inspector, timing Timing, artifactDir string) *Driver {
	if artifactDir == "" {
		artifactDir = "."
	}
	return &Driver{
		page:        page,
		insp:        insp,
		sel:         insp.Selectors(),
		timing:      timing,
		artifactDir: artifactDir,
	}
}

// Navigate loads url and waits until the network is idle and ready holds.
// Exceeding timeout yields an error wrapping ErrNavigationTimeout.
func (d *Driver) Navigate(ctx context.Context, url string, ready Condition, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("navigating", "url", url, "timeout", timeout)
	if err := d.page.Navigate(tctx, url); err != nil {
		if tctx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: %s: document did not finish loading", ErrNavigationTimeout, url)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	err := settle.Until(tctx, d.timing.Poll, timeout, func(ctx context.Context) (bool, error) {
		if !d.page.NetworkIdle(d.timing.NetworkQuiet) {
			return false, nil
		}
		if ready == nil {
			return true, nil
		}
		return ready(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrNavigationTimeout, url, err)
	}
	return nil
}

// WaitFor polls cond until it holds; exceeding timeout yields an error
// wrapping ErrElementWaitTimeout.
func (d *Driver) WaitFor(ctx context.Context, what string, cond Condition, timeout time.Duration) error {
	if err := settle.Until(ctx, d.timing.Poll, timeout, cond); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrElementWaitTimeout, what, err)
	}
	return nil
}

// SelectorExists holds once selector matches at least one element.
func (d *Driver) SelectorExists(selector string) Condition {
	return func(ctx context.Context) (bool, error) {
		var ok bool
		expr := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
		if err := d.page.Evaluate(ctx, expr, &ok); err != nil {
			return false, err
		}
		return ok, nil
	}
}

// MinShapes holds once more than n interactive shapes are rendered.
func (d *Driver) MinShapes(n int) Condition {
	return func(ctx context.Context) (bool, error) {
		count, err := d.insp.CountInteractiveShapes(ctx)
		if err != nil {
			return false, err
		}
		return count > n, nil
	}
}

// All holds when every condition holds, evaluated in order.
func All(conds ...Condition) Condition {
	return func(ctx context.Context) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

type rect struct {
	Found  bool    `json:"found"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// containerBox reads the map container's bounding box. It is read on every
// call because the container may have been resized or scrolled.
func (d *Driver) containerBox(ctx context.Context) (rect, error) {
	var r rect
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return {found: false};
  const r = el.getBoundingClientRect();
  return {found: true, x: r.x, y: r.y, width: r.width, height: r.height};
})()`, d.sel.Container)
	if err := d.page.Evaluate(ctx, expr, &r); err != nil {
		return rect{}, fmt.Errorf("map container box: %w", err)
	}
	if !r.Found {
		return rect{}, fmt.Errorf("map container %q: %w", d.sel.Container, inspect.ErrElementNotFound)
	}
	return r, nil
}

// PointAt converts fractional container coordinates into a viewport point.
func PointAt(box rect, xFrac, yFrac float64) Point {
	return Point{
		X: math.Round(box.X + box.Width*xFrac),
		Y: math.Round(box.Y + box.Height*yFrac),
	}
}

// HoverAt moves the pointer to (xFrac, yFrac) of the map container, both in
// [0, 1], and waits for the info panel to stop changing.
func (d *Driver) HoverAt(ctx context.Context, xFrac, yFrac float64) (Point, error) {
	if xFrac < 0 || xFrac > 1 || yFrac < 0 || yFrac > 1 {
		return Point{}, fmt.Errorf("hover fraction (%v, %v) outside [0, 1]", xFrac, yFrac)
	}
	box, err := d.containerBox(ctx)
	if err != nil {
		return Point{}, err
	}
	p := PointAt(box, xFrac, yFrac)
	before := d.panelText(ctx)
	if err := d.page.MouseMove(ctx, p.X, p.Y); err != nil {
		return p, fmt.Errorf("move pointer to (%v, %v): %w", p.X, p.Y, err)
	}
	slog.Debug("hover", "x", p.X, "y", p.Y)
	return p, d.settlePanel(ctx, before, d.timing.HoverSettle)
}

// panelText reads the info panel ahead of a pointer move. A missing or
// unreadable panel reads as empty.
func (d *Driver) panelText(ctx context.Context) string {
	text, _ := d.insp.InfoPanelText(ctx)
	return text
}

// settlePanel waits for the info panel to move away from before and then to
// hold still. A panel that keeps the before text is given the whole budget,
// since the app may repaint late or the new hover may show the same region.
func (d *Driver) settlePanel(ctx context.Context, before string, budget time.Duration) error {
	start := time.Now()
	interval := d.timing.Poll / 2
	err := settle.Until(ctx, interval, budget, func(ctx context.Context) (bool, error) {
		text, err := d.insp.InfoPanelText(ctx)
		if errors.Is(err, inspect.ErrElementNotFound) && before != "" {
			// The panel went away, which is a change too.
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return text != before, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, inspect.ErrElementNotFound):
		// No panel to watch; Until has already spent the budget.
		return nil
	case err == settle.ErrTimeout:
		return nil
	default:
		return err
	}

	rest := max(budget-time.Since(start), interval)
	_, err = settle.Stable(ctx, interval, rest, d.insp.InfoPanelText)
	if errors.Is(err, inspect.ErrElementNotFound) {
		return nil
	}
	return err
}

type hitTest struct {
	Found bool    `json:"found"`
	Hit   bool    `json:"hit"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// HoverShape moves the pointer onto a visible point of the index-th shape.
// The point is found by sampling the shape's bounding box with
// elementFromPoint, since the box centre of a multi-part region may lie over
// a neighbour. It reports false when no part of the shape is hittable.
func (d *Driver) HoverShape(ctx context.Context, index int) (Point, bool, error) {
	var h hitTest
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelectorAll(%q)[%d];
  if (!el) return {found: false};
  const r = el.getBoundingClientRect();
  const vw = window.innerWidth, vh = window.innerHeight;
  const steps = [4, 3, 5, 2, 6, 1, 7];
  for (const gy of steps) {
    for (const gx of steps) {
      const x = r.left + r.width * gx / 8, y = r.top + r.height * gy / 8;
      if (x < 0 || y < 0 || x >= vw || y >= vh) continue;
      if (document.elementFromPoint(x, y) === el) return {found: true, hit: true, x, y};
    }
  }
  return {found: true, hit: false};
})()`, d.sel.Shapes, index)
	if err := d.page.Evaluate(ctx, expr, &h); err != nil {
		return Point{}, false, fmt.Errorf("locate shape %d: %w", index, err)
	}
	if !h.Found {
		return Point{}, false, fmt.Errorf("shape %d: %w", index, inspect.ErrElementNotFound)
	}
	if !h.Hit {
		return Point{}, false, nil
	}
	p := Point{X: h.X, Y: h.Y}
	before := d.panelText(ctx)
	if err := d.page.MouseMove(ctx, p.X, p.Y); err != nil {
		return p, false, fmt.Errorf("move pointer to shape %d: %w", index, err)
	}
	return p, true, d.settlePanel(ctx, before, d.timing.ScanSettle)
}

// SetMapView centres the application's map on (lat, lng) at zoom through the
// global map handle. When no handle is exposed the call does nothing and
// reports false.
func (d *Driver) SetMapView(ctx context.Context, lat, lng float64, zoom int) (bool, error) {
	var applied bool
	expr := fmt.Sprintf(`(() => {
  for (const h of %s) {
    const m = window[h];
    if (m && typeof m.setView === "function") {
      m.setView([%v, %v], %d, {animate: false});
      return true;
    }
  }
  return false;
})()`, jsStrings(d.sel.MapHandles), lat, lng, zoom)
	if err := d.page.Evaluate(ctx, expr, &applied); err != nil {
		return false, fmt.Errorf("set map view: %w", err)
	}
	if !applied {
		slog.Warn("no map handle on page, view unchanged", "handles", d.sel.MapHandles)
		return false, nil
	}

	settled := fmt.Sprintf(`(() => {
  for (const h of %s) {
    const m = window[h];
    if (m && typeof m.getCenter === "function") {
      const c = m.getCenter();
      return Math.abs(c.lat - %v) < 1 && Math.abs(c.lng - %v) < 1 && m.getZoom() === %d;
    }
  }
  return true;
})()`, jsStrings(d.sel.MapHandles), lat, lng, zoom)
	d.settleUntil(ctx, d.timing.ViewSettle, func(ctx context.Context) (bool, error) {
		var ok bool
		if err := d.page.Evaluate(ctx, settled, &ok); err != nil {
			return false, err
		}
		return ok && d.page.NetworkIdle(d.timing.NetworkQuiet), nil
	})
	return true, ctx.Err()
}

// ClickLabelContaining clicks the first label whose text contains substring
// and waits for the resulting data load to finish.
func (d *Driver) ClickLabelContaining(ctx context.Context, substring string) error {
	var clicked bool
	expr := fmt.Sprintf(`(() => {
  for (const l of document.querySelectorAll(%q)) {
    if ((l.innerText || l.textContent || "").includes(%q)) {
      l.click();
      return true;
    }
  }
  return false;
})()`, d.sel.Labels, substring)
	if err := d.page.Evaluate(ctx, expr, &clicked); err != nil {
		return fmt.Errorf("click label %q: %w", substring, err)
	}
	if !clicked {
		return fmt.Errorf("label containing %q: %w", substring, inspect.ErrElementNotFound)
	}
	slog.Debug("clicked label", "text", substring)

	d.settleUntil(ctx, d.timing.ModeSettle, func(context.Context) (bool, error) {
		return d.page.NetworkIdle(d.timing.NetworkQuiet), nil
	})
	_, err := settle.Stable(ctx, d.timing.Poll, d.timing.ModeSettle/2, d.insp.CountInteractiveShapes)
	return err
}

// settleUntil polls fn within budget. Running out of budget is not a failure:
// the budget is the fixed settle delay the page is given in the worst case.
func (d *Driver) settleUntil(ctx context.Context, budget time.Duration, fn Condition) {
	if err := settle.Until(ctx, d.timing.Poll, budget, fn); err != nil && ctx.Err() == nil {
		slog.Debug("settle budget used up", "budget", budget, "err", err)
	}
}

// Screenshot writes a full-page PNG to the artifact directory and returns its
// path.
func (d *Driver) Screenshot(ctx context.Context, name string) (string, error) {
	buf, err := d.page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(d.artifactDir, 0750); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(d.artifactDir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	slog.Info("screenshot saved", "path", path, "bytes", len(buf))
	return path, nil
}

func jsStrings(ss []string) string {
	out := "["
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", s)
	}
	return out + "]"
}
