package soilmap

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/pinchtab/mapcheck/internal/assets"
	"github.com/pinchtab/mapcheck/internal/diag"
	"github.com/pinchtab/mapcheck/internal/inspect"
	"gopkg.in/yaml.v3"
)

// View is a Leaflet setView target.
type View struct {
	Lat  float64 `yaml:"lat"`
	Lng  float64 `yaml:"lng"`
	Zoom int     `yaml:"zoom"`
}

func (v View) String() string {
	return fmt.Sprintf("%g,%g z%d", v.Lat, v.Lng, v.Zoom)
}

// HoverCheck hovers a point of the map container and checks the info panel.
type HoverCheck struct {
	Name        string   `yaml:"name"`
	View        *View    `yaml:"view,omitempty"`
	X           float64  `yaml:"x"`
	Y           float64  `yaml:"y"`
	ContainsAll []string `yaml:"containsAll,omitempty"`
	ContainsAny []string `yaml:"containsAny,omitempty"`
	MinLines    int      `yaml:"minLines,omitempty"`
}

// CountryFill locates a country by hovering shapes until the name element
// matches, then compares that shape's fill.
type CountryFill struct {
	Name       string   `yaml:"name"`
	Names      []string `yaml:"names"`
	Exact      []string `yaml:"exact,omitempty"`
	View       View     `yaml:"view"`
	Fill       string   `yaml:"fill"`
	Screenshot string   `yaml:"screenshot,omitempty"`
	// Debug names the element ids of the page's own colour chip for this
	// country. It is reported, never asserted.
	Debug *DebugSwatch `yaml:"debug,omitempty"`
}

type DebugSwatch struct {
	Color string `yaml:"color"`
	Value string `yaml:"value"`
}

// Matches reports whether a hovered region name identifies this country.
func (c CountryFill) Matches(name string) bool {
	name = inspect.Normalize(name)
	if name == "" {
		return false
	}
	for _, e := range c.Exact {
		if name == e {
			return true
		}
	}
	return inspect.ContainsAnyFold(name, c.Names)
}

type Overview struct {
	View       View   `yaml:"view"`
	Screenshot string `yaml:"screenshot"`
}

// Expectations parameterise the suite.
type Expectations struct {
	Selectors        inspect.Selectors `yaml:"selectors,omitempty"`
	MinShapes        int               `yaml:"minShapes"`
	CountryHover     HoverCheck        `yaml:"countryHover"`
	EmptyHover       HoverCheck        `yaml:"emptyHover"`
	Countries        []CountryFill     `yaml:"countries"`
	RegionalToggle   string            `yaml:"regionalToggle"`
	Regional         []HoverCheck      `yaml:"regional"`
	LegendCategories []string          `yaml:"legendCategories"`
	Overview         Overview          `yaml:"overview"`
	Escalate         []string          `yaml:"escalate"`
}

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// LoadExpectations reads the expectation file at path, or the built-in one
// when path is empty.
func LoadExpectations(path string) (*Expectations, error) {
	data := assets.DefaultSuite
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read suite: %w", err)
		}
		data = b
	}
	return ParseExpectations(data)
}

func ParseExpectations(data []byte) (*Expectations, error) {
	var e Expectations
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}
	e.Selectors = e.Selectors.WithDefaults()
	if e.Escalate == nil {
		e.Escalate = diag.DefaultEscalate
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Expectations) Validate() error {
	var errs []error
	if e.MinShapes < 0 {
		errs = append(errs, fmt.Errorf("minShapes must not be negative"))
	}
	checks := append([]HoverCheck{e.CountryHover, e.EmptyHover}, e.Regional...)
	for _, p := range checks {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("hover check at (%v, %v) has no name", p.X, p.Y))
		}
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			errs = append(errs, fmt.Errorf("%q: hover point (%v, %v) outside [0, 1]", p.Name, p.X, p.Y))
		}
	}
	for _, c := range e.Countries {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("country check has no name"))
		}
		if len(c.Names) == 0 && len(c.Exact) == 0 {
			errs = append(errs, fmt.Errorf("%q: no names to match", c.Name))
		}
		if !hexColor.MatchString(c.Fill) {
			errs = append(errs, fmt.Errorf("%q: fill %q is not #RRGGBB", c.Name, c.Fill))
		}
	}
	if len(e.Regional) > 0 && e.RegionalToggle == "" {
		errs = append(errs, fmt.Errorf("regional checks need regionalToggle"))
	}
	return errors.Join(errs...)
}
