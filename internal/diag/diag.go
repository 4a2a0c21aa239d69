// Package diag buffers console errors and uncaught exceptions emitted by the
// page under test.
package diag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
)

// ErrPageException marks a run in which the page threw an uncaught exception
// or logged an escalated console error.
var ErrPageException = errors.New("page reported errors")

type Kind string

const (
	KindConsoleError Kind = "console-error"
	KindPageError    Kind = "page-error"
)

// DefaultEscalate lists console-error substrings that fail a run: they name the
// data-loading path of the map.
var DefaultEscalate = []string{"geojson", "topojson", "failed to fetch"}

type Event struct {
	Kind    Kind      `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
	At      time.Time `json:"at" yaml:"at"`
}

// Buffer is appended to from chromedp's event goroutine and read from the
// check sequence, hence the mutex.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Add(kind Kind, msg string) {
	b.mu.Lock()
	b.events = append(b.events, Event{Kind: kind, Message: msg, At: time.Now()})
	b.mu.Unlock()
}

// Snapshot returns a copy of the events in arrival order.
func (b *Buffer) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Attach subscribes the buffer to the target behind ctx. It must be called
// before the first navigation so that load-time errors are captured.
func (b *Buffer) Attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if e.Type == runtime.APITypeError {
				b.Add(KindConsoleError, consoleText(e.Args))
			}
		case *runtime.EventExceptionThrown:
			b.Add(KindPageError, exceptionText(e.ExceptionDetails))
		}
	})
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, remoteText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteText(obj *runtime.RemoteObject) string {
	if len(obj.Value) > 0 {
		return gjson.ParseBytes([]byte(obj.Value)).String()
	}
	if obj.Description != "" {
		return obj.Description
	}
	if obj.UnserializableValue != "" {
		return string(obj.UnserializableValue)
	}
	return string(obj.Type)
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d == nil {
		return "unknown exception"
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	if d.Text != "" {
		return d.Text
	}
	return "unknown exception"
}

// Verdict folds the buffered events into the run summary. Page errors always
// fail; console errors fail only when they contain one of the escalate
// substrings (case-insensitive). Non-escalated console errors are returned as
// notes for the transcript.
func Verdict(events []Event, escalate []string) (notes []string, err error) {
	var failures []string
	for _, ev := range events {
		switch ev.Kind {
		case KindPageError:
			failures = append(failures, "page error: "+ev.Message)
		case KindConsoleError:
			if matchesAny(ev.Message, escalate) {
				failures = append(failures, "console error: "+ev.Message)
			} else {
				notes = append(notes, "console error: "+ev.Message)
			}
		}
	}
	if len(failures) > 0 {
		return notes, fmt.Errorf("%w: %s", ErrPageException, strings.Join(failures, "; "))
	}
	return notes, nil
}

func matchesAny(msg string, subs []string) bool {
	lower := strings.ToLower(msg)
	for _, s := range subs {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
