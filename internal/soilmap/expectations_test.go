package soilmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pinchtab/mapcheck/internal/diag"
	"github.com/pinchtab/mapcheck/internal/inspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltInExpectations(t *testing.T) {
	e, err := LoadExpectations("")
	require.NoError(t, err)

	assert.Equal(t, 50, e.MinShapes)
	assert.Equal(t, []string{"Canada", "%"}, e.CountryHover.ContainsAll)
	assert.Equal(t, 0.25, e.CountryHover.X)
	assert.Equal(t, 0.35, e.CountryHover.Y)
	assert.Equal(t, []string{"Hover over", "%"}, e.EmptyHover.ContainsAny)

	require.Len(t, e.Countries, 2)
	assert.Equal(t, "#795548", e.Countries[0].Fill)
	assert.Equal(t, View{Lat: 38, Lng: -98, Zoom: 4}, e.Countries[0].View)
	assert.Equal(t, "#A1887F", e.Countries[1].Fill)
	assert.Equal(t, View{Lat: 40, Lng: -3, Zoom: 5}, e.Countries[1].View)

	assert.Equal(t, "Regions", e.RegionalToggle)
	require.Len(t, e.Regional, 2)
	assert.Equal(t, 2, e.Regional[0].MinLines)
	assert.Equal(t, &View{Lat: 22, Lng: 78, Zoom: 4}, e.Regional[0].View)

	assert.Equal(t, []string{"Excellent", "Good", "Moderate", "Poor", "Very Poor", "Peatland"}, e.LegendCategories)
	assert.Equal(t, "map-screenshot.png", e.Overview.Screenshot)
	assert.Equal(t, inspect.DefaultSelectors(), e.Selectors)
}

func TestParseFillsDefaults(t *testing.T) {
	e, err := ParseExpectations([]byte(`
minShapes: 3
countryHover: {name: hover, x: 0.1, y: 0.1}
emptyHover: {name: empty, x: 0.9, y: 0.9}
selectors:
  infoPanel: "#panel"
`))
	require.NoError(t, err)
	assert.Equal(t, "#panel", e.Selectors.InfoPanel)
	assert.Equal(t, ".leaflet-container", e.Selectors.Container)
	assert.Equal(t, diag.DefaultEscalate, e.Escalate)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := ParseExpectations([]byte("minShapes: 3\nminShape: 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minShape")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	_, err := ParseExpectations([]byte(`
minShapes: -1
countryHover: {name: hover, x: 1.5, y: 0.1}
emptyHover: {x: 0.5, y: 0.5}
countries:
  - name: Bad
    fill: brown
regional:
  - {name: states, x: 0.5, y: 0.5}
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "minShapes must not be negative")
	assert.Contains(t, msg, `"hover": hover point (1.5, 0.1) outside [0, 1]`)
	assert.Contains(t, msg, "hover check at (0.5, 0.5) has no name")
	assert.Contains(t, msg, `"Bad": no names to match`)
	assert.Contains(t, msg, `"Bad": fill "brown" is not #RRGGBB`)
	assert.Contains(t, msg, "regional checks need regionalToggle")
}

func TestLoadExpectationsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
minShapes: 10
countryHover: {name: hover, x: 0.1, y: 0.1}
emptyHover: {name: empty, x: 0.9, y: 0.9}
legendCategories: [Good]
`), 0644))

	e, err := LoadExpectations(path)
	require.NoError(t, err)
	assert.Equal(t, 10, e.MinShapes)
	assert.Empty(t, e.Countries)

	_, err = LoadExpectations(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read suite")
}

func TestCountryFillMatches(t *testing.T) {
	usa := CountryFill{Names: []string{"united states"}, Exact: []string{"USA"}}
	spain := CountryFill{Names: []string{"spain", "españa"}, Exact: []string{"ESP"}}

	tests := []struct {
		c    CountryFill
		name string
		want bool
	}{
		{usa, "United States of America", true},
		{usa, "  USA ", true},
		{usa, "usa", false},
		{usa, "United Kingdom", false},
		{usa, "", false},
		{spain, "Spain", true},
		{spain, "ESPAÑA", true},
		{spain, "ESP", true},
		{spain, "Espírito Santo", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Matches(tt.name))
		})
	}
}

func TestViewString(t *testing.T) {
	assert.Equal(t, "38,-98 z4", View{Lat: 38, Lng: -98, Zoom: 4}.String())
	assert.Equal(t, "22.5,78 z4", View{Lat: 22.5, Lng: 78, Zoom: 4}.String())
}
