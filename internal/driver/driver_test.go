package driver

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pinchtab/mapcheck/internal/inspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	mu       sync.Mutex
	rules    []rule
	evals    map[string]int
	moves    []Point
	movedAt  time.Time
	idle     bool
	navigate func(ctx context.Context, url string) error
	shot     []byte
}

type rule struct {
	contains string
	reply    func() string
}

func newFakePage() *fakePage {
	return &fakePage{evals: map[string]int{}, idle: true}
}

func (f *fakePage) on(contains string, reply func() string) *fakePage {
	f.rules = append(f.rules, rule{contains, reply})
	return f
}

func (f *fakePage) onJSON(contains, reply string) *fakePage {
	return f.on(contains, func() string { return reply })
}

func (f *fakePage) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evals[key]
}

func (f *fakePage) Evaluate(_ context.Context, expr string, res any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if strings.Contains(expr, r.contains) {
			f.evals[r.contains]++
			return json.Unmarshal([]byte(r.reply()), res)
		}
	}
	return errors.New("no rule for expression")
}

func (f *fakePage) MouseMove(_ context.Context, x, y float64) error {
	f.mu.Lock()
	f.moves = append(f.moves, Point{x, y})
	f.movedAt = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	if f.navigate != nil {
		return f.navigate(ctx, url)
	}
	return nil
}

func (f *fakePage) NetworkIdle(time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *fakePage) Screenshot(context.Context) ([]byte, error) {
	if f.shot == nil {
		return nil, errors.New("capture failed")
	}
	return f.shot, nil
}

func fastTiming() Timing {
	return Timing{
		Poll:         5 * time.Millisecond,
		NetworkQuiet: 0,
		HoverSettle:  40 * time.Millisecond,
		ScanSettle:   20 * time.Millisecond,
		ViewSettle:   40 * time.Millisecond,
		ModeSettle:   40 * time.Millisecond,
	}
}

func newDriver(p *fakePage, dir string) *Driver {
	return New(p, inspect.New(p, inspect.DefaultSelectors()), fastTiming(), dir)
}

func TestHoverAtComputesRoundedPoint(t *testing.T) {
	p := newFakePage().
		onJSON("getBoundingClientRect", `{"found": true, "x": 10, "y": 20, "width": 1001, "height": 601}`).
		onJSON(`".info"`, `{"found": true, "text": "Canada\n58%"}`)
	d := newDriver(p, t.TempDir())

	pt, err := d.HoverAt(context.Background(), 0.25, 0.35)
	require.NoError(t, err)
	// 10 + 1001*0.25 = 260.25, 20 + 601*0.35 = 230.35
	assert.Equal(t, Point{X: 260, Y: 230}, pt)
	assert.Equal(t, []Point{{260, 230}}, p.moves)
}

func TestHoverAtRereadsContainerBox(t *testing.T) {
	width := 1000
	p := newFakePage().
		on("getBoundingClientRect", func() string {
			b, _ := json.Marshal(map[string]any{"found": true, "x": 0, "y": 0, "width": width, "height": 500})
			return string(b)
		}).
		onJSON(`".info"`, `{"found": true, "text": ""}`)
	d := newDriver(p, t.TempDir())

	_, err := d.HoverAt(context.Background(), 0.5, 0.5)
	require.NoError(t, err)
	width = 400
	pt, err := d.HoverAt(context.Background(), 0.5, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 2, p.count("getBoundingClientRect"))
	assert.Equal(t, Point{X: 200, Y: 250}, pt)
}

func TestHoverAtRejectsOutOfRange(t *testing.T) {
	d := newDriver(newFakePage(), t.TempDir())
	for _, c := range [][2]float64{{-0.1, 0.5}, {0.5, 1.01}, {2, 2}} {
		_, err := d.HoverAt(context.Background(), c[0], c[1])
		assert.Error(t, err, "fraction %v", c)
	}
}

func TestHoverAtMissingContainer(t *testing.T) {
	p := newFakePage().onJSON("getBoundingClientRect", `{"found": false}`)
	_, err := newDriver(p, t.TempDir()).HoverAt(context.Background(), 0.5, 0.5)
	assert.ErrorIs(t, err, inspect.ErrElementNotFound)
	assert.Empty(t, p.moves)
}

func TestHoverAtWithoutInfoPanelStillSettles(t *testing.T) {
	p := newFakePage().
		onJSON("getBoundingClientRect", `{"found": true, "x": 0, "y": 0, "width": 100, "height": 100}`).
		onJSON(`".info"`, `{"found": false}`)
	start := time.Now()
	_, err := newDriver(p, t.TempDir()).HoverAt(context.Background(), 0.5, 0.5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

// repaintAfter makes the info panel show from until delay has passed since
// the last pointer move, then to. Replies run with f.mu held.
func (f *fakePage) repaintAfter(delay time.Duration, from, to string) *fakePage {
	return f.on(`".info"`, func() string {
		text := from
		if !f.movedAt.IsZero() && time.Since(f.movedAt) >= delay {
			text = to
		}
		b, _ := json.Marshal(map[string]any{"found": true, "text": text})
		return string(b)
	})
}

func TestHoverAtWaitsForLateRepaint(t *testing.T) {
	p := newFakePage().
		onJSON("getBoundingClientRect", `{"found": true, "x": 0, "y": 0, "width": 1000, "height": 600}`).
		repaintAfter(80*time.Millisecond, "Canada\n58%", "Hover over a country")
	timing := fastTiming()
	timing.Poll = 20 * time.Millisecond
	timing.HoverSettle = time.Second
	d := New(p, inspect.New(p, inspect.DefaultSelectors()), timing, t.TempDir())

	start := time.Now()
	_, err := d.HoverAt(context.Background(), 0.9, 0.9)
	require.NoError(t, err)
	elapsed := time.Since(start)

	text, err := d.insp.InfoPanelText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hover over a country", text)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, timing.HoverSettle, "settles once the new text holds")
}

func TestHoverShapeWaitsForLateRepaint(t *testing.T) {
	p := newFakePage().
		onJSON("elementFromPoint", `{"found": true, "hit": true, "x": 40, "y": 40}`).
		repaintAfter(60*time.Millisecond, "Canada\n58%", "Spain\n71%")
	timing := fastTiming()
	timing.Poll = 20 * time.Millisecond
	timing.ScanSettle = 500 * time.Millisecond
	d := New(p, inspect.New(p, inspect.DefaultSelectors()), timing, t.TempDir())

	_, ok, err := d.HoverShape(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	text, err := d.insp.InfoPanelText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Spain\n71%", text)
}

func TestHoverAtUnchangedPanelWaitsFullBudget(t *testing.T) {
	p := newFakePage().
		onJSON("getBoundingClientRect", `{"found": true, "x": 0, "y": 0, "width": 100, "height": 100}`).
		onJSON(`".info"`, `{"found": true, "text": "Canada\n58%"}`)
	start := time.Now()
	_, err := newDriver(p, t.TempDir()).HoverAt(context.Background(), 0.5, 0.5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), fastTiming().HoverSettle)
}

func TestHoverShape(t *testing.T) {
	p := newFakePage().
		onJSON("elementFromPoint", `{"found": true, "hit": true, "x": 312.5, "y": 140}`).
		onJSON(`".info"`, `{"found": true, "text": "Spain"}`)
	pt, ok, err := newDriver(p, t.TempDir()).HoverShape(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Point{X: 312.5, Y: 140}, pt)
	assert.Len(t, p.moves, 1)
}

func TestHoverShapeNotHittable(t *testing.T) {
	p := newFakePage().onJSON("elementFromPoint", `{"found": true, "hit": false}`)
	_, ok, err := newDriver(p, t.TempDir()).HoverShape(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, p.moves)

	gone := newFakePage().onJSON("elementFromPoint", `{"found": false}`)
	_, _, err = newDriver(gone, t.TempDir()).HoverShape(context.Background(), 400)
	assert.ErrorIs(t, err, inspect.ErrElementNotFound)
}

func TestSetMapViewWithoutHandleIsNoop(t *testing.T) {
	p := newFakePage().onJSON("setView", `false`)
	applied, err := newDriver(p, t.TempDir()).SetMapView(context.Background(), 38, -98, 4)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, p.count("getCenter"))
}

func TestSetMapViewWaitsForView(t *testing.T) {
	reads := 0
	p := newFakePage().
		onJSON("setView", `true`).
		on("getCenter", func() string {
			reads++
			if reads < 3 {
				return `false`
			}
			return `true`
		})
	applied, err := newDriver(p, t.TempDir()).SetMapView(context.Background(), 40, -3, 5)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 3, reads)
}

func TestSetMapViewBudgetIsNotAFailure(t *testing.T) {
	p := newFakePage().
		onJSON("setView", `true`).
		onJSON("getCenter", `false`)
	applied, err := newDriver(p, t.TempDir()).SetMapView(context.Background(), 40, -3, 5)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestClickLabelContaining(t *testing.T) {
	p := newFakePage().
		onJSON("l.click()", `true`).
		onJSON(".length", `412`)
	require.NoError(t, newDriver(p, t.TempDir()).ClickLabelContaining(context.Background(), "Regions"))

	none := newFakePage().onJSON("l.click()", `false`)
	err := newDriver(none, t.TempDir()).ClickLabelContaining(context.Background(), "Regions")
	assert.ErrorIs(t, err, inspect.ErrElementNotFound)
}

func TestNavigateWaitsForReadiness(t *testing.T) {
	shapes := 0
	p := newFakePage().on(".length", func() string {
		shapes += 40
		b, _ := json.Marshal(shapes)
		return string(b)
	})
	d := newDriver(p, t.TempDir())
	require.NoError(t, d.Navigate(context.Background(), "http://localhost:8080", d.MinShapes(50), time.Second))
	assert.Equal(t, 80, shapes)
}

func TestNavigateTimeoutWhenNetworkBusy(t *testing.T) {
	p := newFakePage()
	p.idle = false
	d := newDriver(p, t.TempDir())
	err := d.Navigate(context.Background(), "http://localhost:8080", nil, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrNavigationTimeout)
}

func TestNavigateTimeoutWhenDocumentNeverLoads(t *testing.T) {
	p := newFakePage()
	p.navigate = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	err := newDriver(p, t.TempDir()).Navigate(context.Background(), "http://localhost:8080", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNavigationTimeout)
}

func TestNavigatePropagatesLoadError(t *testing.T) {
	p := newFakePage()
	p.navigate = func(context.Context, string) error { return errors.New("net::ERR_CONNECTION_REFUSED") }
	err := newDriver(p, t.TempDir()).Navigate(context.Background(), "http://localhost:1", nil, time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNavigationTimeout)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
}

func TestWaitForTimeout(t *testing.T) {
	p := newFakePage().onJSON("!== null", `false`)
	d := newDriver(p, t.TempDir())
	err := d.WaitFor(context.Background(), ".legend", d.SelectorExists(".legend"), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrElementWaitTimeout)
}

func TestAll(t *testing.T) {
	yes := func(context.Context) (bool, error) { return true, nil }
	no := func(context.Context) (bool, error) { return false, nil }
	boom := func(context.Context) (bool, error) { return false, errors.New("boom") }

	ok, err := All(yes, yes)(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, _ = All(yes, no)(context.Background())
	assert.False(t, ok)

	_, err = All(boom, yes)(context.Background())
	assert.Error(t, err)
}

func TestScreenshotWritesArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	p := newFakePage()
	p.shot = []byte("\x89PNG fake")

	path, err := newDriver(p, dir).Screenshot(context.Background(), "usa-screenshot.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "usa-screenshot.png"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.shot, b)

	_, err = newDriver(newFakePage(), dir).Screenshot(context.Background(), "x.png")
	assert.Error(t, err)
}

func TestJSStrings(t *testing.T) {
	assert.Equal(t, `["soilMap", "map"]`, jsStrings([]string{"soilMap", "map"}))
	assert.Equal(t, `[]`, jsStrings(nil))
}
