// Package live streams check progress to browsers or scripts watching a run,
// over WebSocket (/ws) or server-sent events (/events).
package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pinchtab/mapcheck/internal/suite"
	"github.com/pinchtab/mapcheck/internal/web"
)

type EventType string

const (
	CheckStarted  EventType = "check-started"
	CheckFinished EventType = "check-finished"
	RunFinished   EventType = "run-finished"
)

type Event struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"runId"`
	Name      string        `json:"name,omitempty"`
	Outcome   suite.Outcome `json:"outcome,omitempty"`
	Error     string        `json:"error,omitempty"`
	Passed    int           `json:"passed,omitempty"`
	Failed    int           `json:"failed,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const defaultBuffer = 64

// Hub fans events out to every connected client. Slow clients miss events
// rather than stall the run. New clients first receive every event recorded
// so far.
type Hub struct {
	mu      sync.RWMutex
	events  []Event
	clients map[chan Event]struct{}
	buffer  int
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan Event]struct{}),
		buffer:  defaultBuffer,
		now:     time.Now,
	}
}

func (h *Hub) Record(evt Event) {
	h.mu.Lock()
	h.events = append(h.events, evt)
	chans := make([]chan Event, 0, len(h.clients))
	for ch := range h.clients {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Events returns a copy of everything recorded so far.
func (h *Hub) Events() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

func (h *Hub) CheckStarted(runID, name string) {
	h.Record(Event{Type: CheckStarted, RunID: runID, Name: name, Timestamp: h.now()})
}

func (h *Hub) CheckFinished(runID string, c suite.Check) {
	h.Record(Event{Type: CheckFinished, RunID: runID, Name: c.Name, Outcome: c.Outcome, Error: c.Error, Timestamp: h.now()})
}

// Finish announces the final counts.
func (h *Hub) Finish(r *suite.Report) {
	h.Record(Event{Type: RunFinished, RunID: r.RunID, Passed: r.Passed, Failed: r.Failed, Timestamp: h.now()})
}

func (h *Hub) subscribe() (chan Event, []Event) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	backlog := make([]Event, len(h.events))
	copy(backlog, h.events)
	h.mu.Unlock()
	return ch, backlog
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *Hub) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events", h.handleEvents)
	mux.HandleFunc("GET /events", h.handleSSE)
	mux.HandleFunc("GET /ws", h.handleWS)
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, http.StatusOK, h.Events())
}

func (h *Hub) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, backlog := h.subscribe()
	defer h.unsubscribe(ch)

	for _, evt := range backlog {
		data, _ := json.Marshal(evt)
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	}
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			_, _ = fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, backlog := h.subscribe()
	defer h.unsubscribe(ch)

	var once sync.Once
	done := make(chan struct{})
	go func() {
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				once.Do(func() { close(done) })
				return
			}
		}
	}()

	for _, evt := range backlog {
		data, _ := json.Marshal(evt)
		if err := wsutil.WriteServerText(conn, data); err != nil {
			return
		}
	}

	for {
		select {
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		case <-done:
			return
		case <-time.After(10 * time.Second):
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
