// Package soilmap is the check suite for the soil quality choropleth map.
package soilmap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pinchtab/mapcheck/internal/diag"
	"github.com/pinchtab/mapcheck/internal/driver"
	"github.com/pinchtab/mapcheck/internal/inspect"
	"github.com/pinchtab/mapcheck/internal/report"
	"github.com/pinchtab/mapcheck/internal/suite"
)

// Env is what the steps operate on. All fields are required.
type Env struct {
	Driver      *driver.Driver
	Inspector   *inspect.Inspector
	Diagnostics *diag.Buffer
	Exp         *Expectations

	BaseURL         string
	NavigateTimeout time.Duration
	ReadyTimeout    time.Duration
}

// Steps returns the suite in execution order. Later steps rely on the map
// view and mode left by earlier ones; the diagnostic summary is always last.
func Steps(env *Env) []suite.Step {
	e := env.Exp
	steps := []suite.Step{
		{Name: "Map renders interactive shapes", Run: env.load},
		{Name: "Every interactive shape has a fill", Run: env.fills},
		{Name: e.CountryHover.Name, Run: env.hoverCheck(e.CountryHover)},
		{Name: e.EmptyHover.Name, Run: env.hoverCheck(e.EmptyHover)},
		{Name: "Repeated hover yields identical info text", Run: env.repeatHover},
	}
	for _, c := range e.Countries {
		steps = append(steps, suite.Step{Name: c.Name, Run: env.countryFill(c)})
	}
	if e.RegionalToggle != "" {
		steps = append(steps, suite.Step{Name: "Switch to regional mode", Run: env.regionalMode})
	}
	for _, p := range e.Regional {
		steps = append(steps, suite.Step{Name: p.Name, Run: env.hoverCheck(p)})
	}
	steps = append(steps,
		suite.Step{Name: "Data sources panel is visible", Run: env.sources},
		suite.Step{Name: "Soil quality legend is visible", Run: env.legend},
	)
	for _, cat := range e.LegendCategories {
		steps = append(steps, suite.Step{Name: "Legend lists " + cat, Run: env.legendCategory(cat)})
	}
	if e.Overview.Screenshot != "" {
		steps = append(steps, suite.Step{Name: "World overview screenshot", Run: env.overview})
	}
	return append(steps, suite.Step{Name: "No uncaught page errors", Run: env.diagnostics})
}

func (env *Env) load(ctx context.Context, c *suite.Check) error {
	d := env.Driver
	sel := env.Inspector.Selectors()
	if err := d.Navigate(ctx, env.BaseURL, d.SelectorExists(sel.Container), env.NavigateTimeout); err != nil {
		return err
	}
	if err := d.WaitFor(ctx, "interactive shapes", d.MinShapes(env.Exp.MinShapes), env.ReadyTimeout); err != nil {
		return err
	}
	n, err := env.Inspector.CountInteractiveShapes(ctx)
	if err != nil {
		return err
	}
	c.AddDetailf("%d interactive shapes", n)
	return suite.GreaterThan("interactive shapes", n, env.Exp.MinShapes)
}

func (env *Env) fills(ctx context.Context, c *suite.Check) error {
	shapes, err := env.Inspector.AllShapeFills(ctx)
	if err != nil {
		return err
	}
	dist := inspect.Distribution(shapes)

	var buf bytes.Buffer
	report.FillTable(&buf, dist)
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		c.AddDetail(line)
	}

	missing := 0
	for _, s := range shapes {
		if s.Fill == "" {
			missing++
		}
	}
	if missing > 0 {
		return &suite.AssertionError{
			Message:  fmt.Sprintf("%d of %d shapes have no fill attribute", missing, len(shapes)),
			Expected: 0,
			Actual:   missing,
		}
	}
	return suite.GreaterThan("filled shapes", len(shapes), 0)
}

// hoverCheck optionally moves the view, hovers the configured point and
// checks the info panel text.
func (env *Env) hoverCheck(p HoverCheck) func(context.Context, *suite.Check) error {
	return func(ctx context.Context, c *suite.Check) error {
		if p.View != nil {
			if _, err := env.Driver.SetMapView(ctx, p.View.Lat, p.View.Lng, p.View.Zoom); err != nil {
				return err
			}
		}
		if _, err := env.Driver.HoverAt(ctx, p.X, p.Y); err != nil {
			return err
		}
		text, err := env.Inspector.InfoPanelText(ctx)
		if err != nil {
			return err
		}
		c.AddDetailf("info: %q", text)
		if len(p.ContainsAll) > 0 {
			if err := suite.Contains("info panel", text, p.ContainsAll...); err != nil {
				return err
			}
		}
		if len(p.ContainsAny) > 0 {
			if err := suite.ContainsAny("info panel", text, p.ContainsAny...); err != nil {
				return err
			}
		}
		if p.MinLines > 0 {
			return suite.AtLeast("info panel lines", len(inspect.Lines(text)), p.MinLines)
		}
		return nil
	}
}

func (env *Env) repeatHover(ctx context.Context, c *suite.Check) error {
	p := env.Exp.CountryHover
	read := func() (string, error) {
		if _, err := env.Driver.HoverAt(ctx, p.X, p.Y); err != nil {
			return "", err
		}
		return env.Inspector.InfoPanelText(ctx)
	}
	first, err := read()
	if err != nil {
		return err
	}
	second, err := read()
	if err != nil {
		return err
	}
	c.AddDetailf("info: %q", first)
	return suite.Equal("info text on repeated hover", first, second)
}

func (env *Env) countryFill(want CountryFill) func(context.Context, *suite.Check) error {
	return func(ctx context.Context, c *suite.Check) error {
		applied, err := env.Driver.SetMapView(ctx, want.View.Lat, want.View.Lng, want.View.Zoom)
		if err != nil {
			return err
		}
		if !applied {
			c.AddDetail("no map handle; scanning the current view")
		}

		res, err := env.scan(ctx, want)
		c.AddDetailf("regions seen: %s", listNames(res.names))
		if want.Screenshot != "" {
			if path, serr := env.Driver.Screenshot(ctx, want.Screenshot); serr != nil {
				c.AddDetailf("screenshot failed: %v", serr)
			} else {
				c.AddDetailf("screenshot: %s", path)
			}
		}
		if err != nil {
			return err
		}
		env.debugSwatch(ctx, want, c)
		found := res.found
		if found == nil {
			return &suite.AssertionError{
				Message:  fmt.Sprintf("no shape matching %s among %d scanned at %s", strings.Join(slices.Concat(want.Names, want.Exact), "/"), res.scanned, want.View),
				Expected: want.Fill,
				Actual:   "not found",
			}
		}
		c.AddDetailf("found %q at shape %d, fill %s", found.name, found.shape.Index, found.shape.Fill)
		return suite.Equal(found.name+" fill", want.Fill, found.shape.Fill)
	}
}

type match struct {
	name  string
	shape inspect.Shape
}

// scanResult is what a country scan saw: the match, if any, the number of
// shapes visited and the distinct region names in the order first shown.
type scanResult struct {
	found   *match
	scanned int
	names   []string
}

// scan hovers each rendered shape in turn until the info panel names the
// wanted country. The fill compared is the one read before hovering, so a
// hover highlight cannot leak into it. Shapes that cannot be hovered are
// skipped.
func (env *Env) scan(ctx context.Context, want CountryFill) (scanResult, error) {
	var res scanResult
	for i, shape := range env.Inspector.Shapes(ctx) {
		res.scanned++
		_, ok, err := env.Driver.HoverShape(ctx, i)
		if err != nil || !ok {
			if err != nil {
				slog.Debug("skip shape", "index", i, "err", err)
			}
			continue
		}
		name, err := env.Inspector.RegionName(ctx)
		if err != nil || name == "" {
			continue
		}
		if !slices.Contains(res.names, name) {
			res.names = append(res.names, name)
		}
		if want.Matches(name) {
			res.found = &match{name: name, shape: shape}
			return res, nil
		}
	}
	return res, ctx.Err()
}

const maxListedNames = 25

// listNames joins names for a details line, eliding past maxListedNames.
func listNames(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	if len(names) <= maxListedNames {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:maxListedNames], ", "), len(names)-maxListedNames)
}

// debugSwatch reports the page's own colour chip for a country when the page
// has one.
func (env *Env) debugSwatch(ctx context.Context, want CountryFill, c *suite.Check) {
	if want.Debug == nil {
		return
	}
	sw, err := env.Inspector.Swatch(ctx, want.Debug.Color, want.Debug.Value)
	if err != nil {
		slog.Debug("no debug swatch", "id", want.Debug.Color, "err", err)
		return
	}
	c.AddDetailf("debug panel: %q colour %s", sw.Value, sw.Color)
}

func (env *Env) regionalMode(ctx context.Context, c *suite.Check) error {
	if err := env.Driver.ClickLabelContaining(ctx, env.Exp.RegionalToggle); err != nil {
		return err
	}
	n, err := env.Inspector.CountInteractiveShapes(ctx)
	if err != nil {
		return err
	}
	c.AddDetailf("%d interactive shapes after switch", n)
	return suite.GreaterThan("interactive shapes", n, 0)
}

func (env *Env) sources(ctx context.Context, _ *suite.Check) error {
	ok, err := env.Inspector.DataSourcesPanelVisible(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return suite.Failf("%s panel not found", env.Inspector.Selectors().SourcesTitle)
	}
	return nil
}

func (env *Env) legend(ctx context.Context, c *suite.Check) error {
	text, err := env.Inspector.LegendText(ctx)
	if err != nil {
		return err
	}
	c.AddDetailf("%d lines", len(inspect.Lines(text)))
	return nil
}

func (env *Env) legendCategory(label string) func(context.Context, *suite.Check) error {
	return func(ctx context.Context, _ *suite.Check) error {
		got, err := env.Inspector.LegendCategories(ctx, []string{label})
		if err != nil {
			return err
		}
		if !got[label] {
			return suite.Failf("Missing %s category", label)
		}
		return nil
	}
}

func (env *Env) overview(ctx context.Context, c *suite.Check) error {
	v := env.Exp.Overview.View
	if _, err := env.Driver.SetMapView(ctx, v.Lat, v.Lng, v.Zoom); err != nil {
		return err
	}
	path, err := env.Driver.Screenshot(ctx, env.Exp.Overview.Screenshot)
	if err != nil {
		return err
	}
	c.AddDetailf("screenshot: %s", path)
	return nil
}

func (env *Env) diagnostics(_ context.Context, c *suite.Check) error {
	notes, err := diag.Verdict(env.Diagnostics.Snapshot(), env.Exp.Escalate)
	for _, n := range notes {
		c.AddDetail(n)
	}
	return err
}
