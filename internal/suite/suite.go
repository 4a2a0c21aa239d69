// Package suite runs named checks in a fixed order and collects a report.
//
// Checks run strictly one after another on the caller's goroutine. Page state
// left behind by a check (map view, application mode) is visible to the next
// one. A failing, timed-out or panicking check is recorded as Fail and the run
// moves on; nothing short of the caller's context ending stops the sequence.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
)

// Check is the recorded result of one step.
type Check struct {
	Name     string        `json:"name" yaml:"name"`
	Outcome  Outcome       `json:"outcome" yaml:"outcome"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Expected string        `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   string        `json:"actual,omitempty" yaml:"actual,omitempty"`
	Details  []string      `json:"details,omitempty" yaml:"details,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	Err error `json:"-" yaml:"-"`
}

func (c *Check) Passed() bool {
	return c.Outcome == Pass
}

// AddDetail appends an informational line shown under the check.
func (c *Check) AddDetail(detail string) *Check {
	c.Details = append(c.Details, detail)
	return c
}

func (c *Check) AddDetailf(format string, args ...any) *Check {
	return c.AddDetail(fmt.Sprintf(format, args...))
}

// Step is one named check. Run returns nil on pass. It may annotate the check
// it is recording through c.
type Step struct {
	Name string
	Run  func(ctx context.Context, c *Check) error
}

// Report is the ordered outcome of a run.
type Report struct {
	RunID    string    `json:"runId" yaml:"runId"`
	BaseURL  string    `json:"baseUrl" yaml:"baseUrl"`
	Started  time.Time `json:"started" yaml:"started"`
	Finished time.Time `json:"finished" yaml:"finished"`
	Checks   []Check   `json:"checks" yaml:"checks"`
	Passed   int       `json:"passed" yaml:"passed"`
	Failed   int       `json:"failed" yaml:"failed"`
}

func NewReport(baseURL string) *Report {
	return &Report{
		RunID:   uuid.NewString(),
		BaseURL: baseURL,
		Started: time.Now().UTC(),
	}
}

// Record appends c and updates the counts.
func (r *Report) Record(c Check) {
	r.Checks = append(r.Checks, c)
	if c.Passed() {
		r.Passed++
	} else {
		r.Failed++
	}
}

// ExitCode is 0 when no check failed and 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed == 0 {
		return 0
	}
	return 1
}

// Observer is notified as checks start and finish. Calls happen on the
// runner's goroutine, in order.
type Observer interface {
	CheckStarted(runID, name string)
	CheckFinished(runID string, c Check)
}

type Runner struct {
	timeout   time.Duration
	observers []Observer
}

// NewRunner returns a runner giving each step at most timeout. A zero timeout
// leaves steps bounded only by the caller's context.
func NewRunner(timeout time.Duration, observers ...Observer) *Runner {
	return &Runner{timeout: timeout, observers: observers}
}

func (r *Runner) Observe(o Observer) {
	r.observers = append(r.observers, o)
}

// Run executes steps in order and returns the filled report. Once ctx ends,
// every remaining step is recorded as Fail without running.
func (r *Runner) Run(ctx context.Context, report *Report, steps []Step) *Report {
	for _, step := range steps {
		for _, o := range r.observers {
			o.CheckStarted(report.RunID, step.Name)
		}

		var c Check
		if err := ctx.Err(); err != nil {
			c = Check{Name: step.Name, Outcome: Fail, Err: err, Error: "not run: " + err.Error()}
		} else {
			c = r.runStep(ctx, step)
		}

		report.Record(c)
		slog.Debug("check finished", "name", c.Name, "outcome", c.Outcome, "duration", c.Duration)
		for _, o := range r.observers {
			o.CheckFinished(report.RunID, c)
		}
	}
	report.Finished = time.Now().UTC()
	return report
}

func (r *Runner) runStep(ctx context.Context, step Step) (c Check) {
	c.Name = step.Name
	stepCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	start := time.Now()
	defer func() {
		c.Duration = time.Since(start)
		if p := recover(); p != nil {
			slog.Error("check panicked", "name", step.Name, "panic", p, "stack", string(debug.Stack()))
			c.fail(fmt.Errorf("panic: %v", p))
		}
	}()

	err := step.Run(stepCtx, &c)
	if err == nil {
		c.Outcome = Pass
		return c
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", r.timeout, err)
	}
	c.fail(err)
	return c
}

func (c *Check) fail(err error) {
	c.Outcome = Fail
	c.Err = err
	c.Error = err.Error()
	var ae *AssertionError
	if errors.As(err, &ae) && ae.hasValues() {
		c.Expected = fmt.Sprint(ae.Expected)
		c.Actual = fmt.Sprint(ae.Actual)
	}
}
