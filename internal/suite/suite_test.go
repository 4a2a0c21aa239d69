package suite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	started  []string
	finished []Check
}

func (r *recorder) CheckStarted(_ string, name string) { r.started = append(r.started, name) }
func (r *recorder) CheckFinished(_ string, c Check)    { r.finished = append(r.finished, c) }

func pass(name string) Step {
	return Step{Name: name, Run: func(context.Context, *Check) error { return nil }}
}

func TestRunSequentialAndIsolated(t *testing.T) {
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Run: func(context.Context, *Check) error {
			order = append(order, name)
			return err
		}}
	}
	panicky := Step{Name: "panics", Run: func(context.Context, *Check) error {
		order = append(order, "panics")
		var m map[string]int
		m["x"] = 1
		return nil
	}}

	rec := &recorder{}
	r := NewRunner(time.Second, rec)
	rep := r.Run(context.Background(), NewReport("http://localhost:8080"), []Step{
		step("a", nil),
		step("b", Failf("wrong colour")),
		panicky,
		step("d", nil),
	})

	assert.Equal(t, []string{"a", "b", "panics", "d"}, order)
	assert.Equal(t, 2, rep.Passed)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, rep.ExitCode())
	require.Len(t, rep.Checks, 4)
	assert.Equal(t, "wrong colour", rep.Checks[1].Error)
	assert.Contains(t, rep.Checks[2].Error, "panic:")
	assert.Equal(t, Pass, rep.Checks[3].Outcome)
	assert.Equal(t, []string{"a", "b", "panics", "d"}, rec.started)
	assert.Len(t, rec.finished, 4)
	assert.False(t, rep.Finished.IsZero())
	assert.NotEmpty(t, rep.RunID)
}

func TestCountsAndExitCode(t *testing.T) {
	cases := []struct {
		name     string
		errs     []error
		exit     int
		pass     int
		failures int
	}{
		{"all pass", []error{nil, nil, nil}, 0, 3, 0},
		{"one fail", []error{nil, errors.New("x"), nil}, 1, 2, 1},
		{"all fail", []error{errors.New("x"), errors.New("y")}, 1, 0, 2},
		{"empty", nil, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var steps []Step
			for _, err := range tc.errs {
				err := err
				steps = append(steps, Step{Name: "s", Run: func(context.Context, *Check) error { return err }})
			}
			rep := NewRunner(0).Run(context.Background(), NewReport(""), steps)
			assert.Equal(t, tc.exit, rep.ExitCode())
			assert.Equal(t, tc.pass, rep.Passed)
			assert.Equal(t, tc.failures, rep.Failed)
			assert.Equal(t, len(tc.errs), rep.Passed+rep.Failed)
		})
	}
}

func TestStepTimeoutIsLocal(t *testing.T) {
	slow := Step{Name: "slow", Run: func(ctx context.Context, _ *Check) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	rep := NewRunner(20*time.Millisecond).Run(context.Background(), NewReport(""), []Step{slow, pass("after")})

	require.Len(t, rep.Checks, 2)
	assert.Equal(t, Fail, rep.Checks[0].Outcome)
	assert.Contains(t, rep.Checks[0].Error, "timed out after 20ms")
	assert.ErrorIs(t, rep.Checks[0].Err, context.DeadlineExceeded)
	assert.Equal(t, Pass, rep.Checks[1].Outcome)
}

func TestCancelledRunMarksRemainingFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := Step{Name: "stop", Run: func(context.Context, *Check) error {
		cancel()
		return nil
	}}
	rep := NewRunner(0).Run(ctx, NewReport(""), []Step{stop, pass("never")})

	assert.Equal(t, Pass, rep.Checks[0].Outcome)
	assert.Equal(t, Fail, rep.Checks[1].Outcome)
	assert.Contains(t, rep.Checks[1].Error, "not run")
	assert.Equal(t, 1, rep.ExitCode())
}

func TestDetailsAndAssertionValues(t *testing.T) {
	step := Step{Name: "USA has correct color", Run: func(_ context.Context, c *Check) error {
		c.AddDetailf("found %s at shape %d", "United States", 12)
		return Equal("fill", "#795548", "#8D6E63")
	}}
	rep := NewRunner(0).Run(context.Background(), NewReport(""), []Step{step})
	c := rep.Checks[0]
	assert.Equal(t, []string{"found United States at shape 12"}, c.Details)
	assert.Equal(t, "#795548", c.Expected)
	assert.Equal(t, "#8D6E63", c.Actual)
	assert.Equal(t, "fill mismatch (expected #795548, got #8D6E63)", c.Error)
}

func TestAssertHelpers(t *testing.T) {
	assert.NoError(t, Contains("info panel", "Canada\n58%", "Canada", "%"))
	err := Contains("info panel", "Mexico", "Canada")
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Canada", ae.Expected)

	assert.NoError(t, ContainsAny("info panel", "Hover over a region", "Hover over", "%"))
	assert.NoError(t, ContainsAny("info panel", "42%", "Hover over", "%"))
	assert.EqualError(t, ContainsAny("info panel", "", "Hover over", "%"),
		`info panel should contain one of "Hover over", "%" (expected Hover over | %, got "")`)

	assert.NoError(t, GreaterThan("shapes", 51, 50))
	assert.Error(t, GreaterThan("shapes", 50, 50))
	assert.NoError(t, AtLeast("lines", 2, 2))
	assert.Error(t, AtLeast("lines", 1, 2))

	assert.NoError(t, Equal("text", "a", "a"))
	assert.EqualError(t, Failf("legend not found"), "legend not found")
}
