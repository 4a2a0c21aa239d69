// Package inspect reads observable state from the rendered map page. Every
// operation is a read; none of them mutate the document.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
)

// ErrElementNotFound is returned when the container an operation reads from
// is absent. An empty result from a present container is not an error.
var ErrElementNotFound = errors.New("element not found")

// Evaluator runs a JavaScript expression in the page and decodes the result
// into res.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, res any) error
}

// Selectors locate the map application's DOM surface.
type Selectors struct {
	Container    string   `yaml:"container"`
	Shapes       string   `yaml:"shapes"`
	InfoPanel    string   `yaml:"infoPanel"`
	RegionName   string   `yaml:"regionName"`
	Controls     string   `yaml:"controls"`
	Labels       string   `yaml:"labels"`
	LegendTitle  string   `yaml:"legendTitle"`
	SourcesTitle string   `yaml:"sourcesTitle"`
	MapHandles   []string `yaml:"mapHandles"`
}

// DefaultSelectors match the Leaflet soil-quality map.
func DefaultSelectors() Selectors {
	return Selectors{
		Container:    ".leaflet-container",
		Shapes:       ".leaflet-interactive",
		InfoPanel:    ".info",
		RegionName:   ".info .region-name",
		Controls:     ".leaflet-control",
		Labels:       "label",
		LegendTitle:  "Soil Quality Guide",
		SourcesTitle: "Data Sources",
		MapHandles:   []string{"soilMap", "map"},
	}
}

// WithDefaults fills empty fields from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	if s.Container == "" {
		s.Container = d.Container
	}
	if s.Shapes == "" {
		s.Shapes = d.Shapes
	}
	if s.InfoPanel == "" {
		s.InfoPanel = d.InfoPanel
	}
	if s.RegionName == "" {
		s.RegionName = d.RegionName
	}
	if s.Controls == "" {
		s.Controls = d.Controls
	}
	if s.Labels == "" {
		s.Labels = d.Labels
	}
	if s.LegendTitle == "" {
		s.LegendTitle = d.LegendTitle
	}
	if s.SourcesTitle == "" {
		s.SourcesTitle = d.SourcesTitle
	}
	if len(s.MapHandles) == 0 {
		s.MapHandles = d.MapHandles
	}
	return s
}

// Shape is the presentation state of one interactive map shape.
type Shape struct {
	Index  int    `json:"index" yaml:"index"`
	Fill   string `json:"fill" yaml:"fill"`
	Stroke string `json:"stroke" yaml:"stroke"`
}

type Inspector struct {
	page Evaluator
	sel  Selectors
}

func New(page Evaluator, sel Selectors) *Inspector {
	return &Inspector{page: page, sel: sel.WithDefaults()}
}

func (in *Inspector) Selectors() Selectors {
	return in.sel
}

// textResult is the decoded result of a lookup that must distinguish a missing
// element from an empty one.
type textResult struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

func (in *Inspector) CountInteractiveShapes(ctx context.Context) (int, error) {
	var n int
	expr := fmt.Sprintf(`document.querySelectorAll(%q).length`, in.sel.Shapes)
	if err := in.page.Evaluate(ctx, expr, &n); err != nil {
		return 0, fmt.Errorf("count shapes: %w", err)
	}
	return n, nil
}

// ShapeFillAndStroke reads the fill and stroke attributes of the index-th
// shape as set by the application, not the computed style.
func (in *Inspector) ShapeFillAndStroke(ctx context.Context, index int) (Shape, error) {
	if index < 0 {
		return Shape{}, fmt.Errorf("shape %d: %w", index, ErrElementNotFound)
	}
	var res struct {
		Found  bool   `json:"found"`
		Fill   string `json:"fill"`
		Stroke string `json:"stroke"`
	}
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelectorAll(%q)[%d];
  if (!el) return {found: false, fill: "", stroke: ""};
  return {found: true, fill: el.getAttribute("fill") || "", stroke: el.getAttribute("stroke") || ""};
})()`, in.sel.Shapes, index)
	if err := in.page.Evaluate(ctx, expr, &res); err != nil {
		return Shape{}, fmt.Errorf("shape %d attributes: %w", index, err)
	}
	if !res.Found {
		return Shape{}, fmt.Errorf("shape %d: %w", index, ErrElementNotFound)
	}
	return Shape{Index: index, Fill: res.Fill, Stroke: res.Stroke}, nil
}

func (in *Inspector) AllShapeFills(ctx context.Context) ([]Shape, error) {
	var res []Shape
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map((el, i) => ({
  index: i,
  fill: el.getAttribute("fill") || "",
  stroke: el.getAttribute("stroke") || ""
}))`, in.sel.Shapes)
	if err := in.page.Evaluate(ctx, expr, &res); err != nil {
		return nil, fmt.Errorf("shape fills: %w", err)
	}
	return res, nil
}

// Shapes yields the shapes currently rendered, fetching each one lazily.
// Ranging over the sequence again re-queries the document, so a sequence
// taken before a mode switch reflects the new shapes when restarted.
// Iteration stops at the first shape that can no longer be read.
func (in *Inspector) Shapes(ctx context.Context) iter.Seq2[int, Shape] {
	return func(yield func(int, Shape) bool) {
		for i := 0; ; i++ {
			if ctx.Err() != nil {
				return
			}
			s, err := in.ShapeFillAndStroke(ctx, i)
			if err != nil {
				return
			}
			if !yield(i, s) {
				return
			}
		}
	}
}

// FillCount is one row of a fill colour distribution.
type FillCount struct {
	Fill  string `json:"fill" yaml:"fill"`
	Count int    `json:"count" yaml:"count"`
}

// FillDistribution counts shapes per fill colour, most common first.
func (in *Inspector) FillDistribution(ctx context.Context) ([]FillCount, error) {
	shapes, err := in.AllShapeFills(ctx)
	if err != nil {
		return nil, err
	}
	return Distribution(shapes), nil
}

func Distribution(shapes []Shape) []FillCount {
	counts := map[string]int{}
	for _, s := range shapes {
		counts[s.Fill]++
	}
	out := make([]FillCount, 0, len(counts))
	for fill, n := range counts {
		out = append(out, FillCount{Fill: fill, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Fill < out[j].Fill
	})
	return out
}

// InfoPanelText returns the rendered text of the hover info panel. An empty
// string means nothing is hovered.
func (in *Inspector) InfoPanelText(ctx context.Context) (string, error) {
	return in.text(ctx, in.sel.InfoPanel, "info panel")
}

// RegionName returns the text of the name element nested in the info panel.
func (in *Inspector) RegionName(ctx context.Context) (string, error) {
	return in.text(ctx, in.sel.RegionName, "region name")
}

func (in *Inspector) text(ctx context.Context, selector, what string) (string, error) {
	var res textResult
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  return el ? {found: true, text: el.innerText || el.textContent || ""} : {found: false, text: ""};
})()`, selector)
	if err := in.page.Evaluate(ctx, expr, &res); err != nil {
		return "", fmt.Errorf("read %s: %w", what, err)
	}
	if !res.Found {
		return "", fmt.Errorf("%s %q: %w", what, selector, ErrElementNotFound)
	}
	return Normalize(res.Text), nil
}

// controlText returns the text of the first control panel containing title.
func (in *Inspector) controlText(ctx context.Context, title string) (string, error) {
	var res textResult
	expr := fmt.Sprintf(`(() => {
  for (const c of document.querySelectorAll(%q)) {
    const t = c.innerText || "";
    if (t.includes(%q)) return {found: true, text: t};
  }
  return {found: false, text: ""};
})()`, in.sel.Controls, title)
	if err := in.page.Evaluate(ctx, expr, &res); err != nil {
		return "", fmt.Errorf("read control %q: %w", title, err)
	}
	if !res.Found {
		return "", fmt.Errorf("control %q: %w", title, ErrElementNotFound)
	}
	return Normalize(res.Text), nil
}

// LegendText returns the full text of the legend control.
func (in *Inspector) LegendText(ctx context.Context) (string, error) {
	return in.controlText(ctx, in.sel.LegendTitle)
}

// LegendCategories returns which of the wanted labels the legend contains.
// Every wanted label is a key; the value reports presence.
func (in *Inspector) LegendCategories(ctx context.Context, want []string) (map[string]bool, error) {
	text, err := in.LegendText(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(want))
	for _, label := range want {
		out[label] = Contains(text, label)
	}
	return out, nil
}

func (in *Inspector) DataSourcesPanelVisible(ctx context.Context) (bool, error) {
	_, err := in.controlText(ctx, in.sel.SourcesTitle)
	if errors.Is(err, ErrElementNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Swatch is a colour chip and its caption.
type Swatch struct {
	Color string `json:"color"`
	Value string `json:"value"`
}

// Swatch reads the inline background of the element with id colorID and the
// text of the element with id valueID. The caption may be absent.
func (in *Inspector) Swatch(ctx context.Context, colorID, valueID string) (Swatch, error) {
	var res struct {
		Found bool `json:"found"`
		Swatch
	}
	expr := fmt.Sprintf(`(() => {
  const c = document.getElementById(%q);
  if (!c) return {found: false};
  const v = document.getElementById(%q);
  return {found: true, color: c.style.background || c.style.backgroundColor || "", value: v ? v.textContent : ""};
})()`, colorID, valueID)
	if err := in.page.Evaluate(ctx, expr, &res); err != nil {
		return Swatch{}, fmt.Errorf("read swatch #%s: %w", colorID, err)
	}
	if !res.Found {
		return Swatch{}, fmt.Errorf("swatch #%s: %w", colorID, ErrElementNotFound)
	}
	return Swatch{Color: strings.TrimSpace(res.Color), Value: Normalize(res.Value)}, nil
}
