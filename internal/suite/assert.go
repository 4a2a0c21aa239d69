package suite

import (
	"fmt"
	"strings"
)

// AssertionError is an expectation mismatch. Expected and Actual are optional
// and, when set, are copied onto the recorded check.
type AssertionError struct {
	Message  string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	if !e.hasValues() {
		return e.Message
	}
	return fmt.Sprintf("%s (expected %v, got %v)", e.Message, e.Expected, e.Actual)
}

func (e *AssertionError) hasValues() bool {
	return e.Expected != nil || e.Actual != nil
}

// Failf returns a bare assertion failure.
func Failf(format string, args ...any) error {
	return &AssertionError{Message: fmt.Sprintf(format, args...)}
}

// Equal fails unless got == want.
func Equal[T comparable](what string, want, got T) error {
	if got == want {
		return nil
	}
	return &AssertionError{Message: what + " mismatch", Expected: want, Actual: got}
}

// GreaterThan fails unless got > floor.
func GreaterThan(what string, got, floor int) error {
	if got > floor {
		return nil
	}
	return &AssertionError{Message: fmt.Sprintf("expected more than %d %s", floor, what), Expected: fmt.Sprintf("> %d", floor), Actual: got}
}

// AtLeast fails unless got >= floor.
func AtLeast(what string, got, floor int) error {
	if got >= floor {
		return nil
	}
	return &AssertionError{Message: fmt.Sprintf("expected at least %d %s", floor, what), Expected: fmt.Sprintf(">= %d", floor), Actual: got}
}

// Contains fails unless every sub occurs in text.
func Contains(what, text string, subs ...string) error {
	for _, sub := range subs {
		if !strings.Contains(text, sub) {
			return &AssertionError{Message: fmt.Sprintf("%s should contain %q", what, sub), Expected: sub, Actual: quote(text)}
		}
	}
	return nil
}

// ContainsAny fails unless at least one of subs occurs in text.
func ContainsAny(what, text string, subs ...string) error {
	for _, sub := range subs {
		if strings.Contains(text, sub) {
			return nil
		}
	}
	return &AssertionError{
		Message:  fmt.Sprintf("%s should contain one of %s", what, strings.Join(quoteAll(subs), ", ")),
		Expected: strings.Join(subs, " | "),
		Actual:   quote(text),
	}
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = quote(s)
	}
	return out
}
