package assets

import (
	"embed"
	"io/fs"
)

// DefaultSuite is the expectation file used when no suite path is configured.
//
//go:embed default_suite.yaml
var DefaultSuite []byte

//go:embed fixture
var fixture embed.FS

// Fixture is a self-contained stand-in for the soil map: same selectors, same
// global map handle, static shapes. `mapcheck serve` falls back to it when no
// document root is configured.
func Fixture() fs.FS {
	sub, err := fs.Sub(fixture, "fixture")
	if err != nil {
		panic(err)
	}
	return sub
}
