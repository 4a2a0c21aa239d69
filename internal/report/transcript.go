// Package report renders run results: the Pass/Fail transcript, tables and
// machine-readable report files.
package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pinchtab/mapcheck/internal/suite"
)

// Transcript prints one line per finished check as the run progresses. It is
// a suite.Observer.
type Transcript struct {
	w       io.Writer
	colored bool
	details bool
}

type Option func(*Transcript)

// WithColor forces colour on or off. By default colour follows the terminal.
func WithColor(on bool) Option {
	return func(t *Transcript) { t.colored = on }
}

// WithDetails prints check details under each line.
func WithDetails(on bool) Option {
	return func(t *Transcript) { t.details = on }
}

func NewTranscript(w io.Writer, opts ...Option) *Transcript {
	t := &Transcript{w: w, colored: !color.NoColor}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transcript) paint(text string, attrs ...color.Attribute) string {
	c := color.New(attrs...)
	if t.colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(text)
}

// Header opens the transcript.
func (t *Transcript) Header(baseURL string) {
	fmt.Fprintf(t.w, "\n%s %s\n\n", t.paint("Running map checks against", color.Bold), baseURL)
}

func (t *Transcript) CheckStarted(string, string) {}

func (t *Transcript) CheckFinished(_ string, c suite.Check) {
	if c.Passed() {
		fmt.Fprintf(t.w, "%s %s\n", t.paint("✓", color.FgGreen), c.Name)
	} else {
		fmt.Fprintf(t.w, "%s %s\n", t.paint("✗", color.FgRed), c.Name)
		fmt.Fprintf(t.w, "  Error: %s\n", c.Error)
	}
	if t.details {
		for _, d := range c.Details {
			fmt.Fprintf(t.w, "    %s\n", t.paint(d, color.FgHiBlack))
		}
	}
}

// Summary closes the transcript with the aggregate counts.
func (t *Transcript) Summary(r *suite.Report) {
	counts := fmt.Sprintf("%d passed, %d failed", r.Passed, r.Failed)
	if r.Failed == 0 {
		counts = t.paint(counts, color.FgGreen)
	} else {
		counts = t.paint(counts, color.FgRed, color.Bold)
	}
	fmt.Fprintf(t.w, "\n%s\n\n", counts)
}
