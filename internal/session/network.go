package session

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// netTracker counts in-flight requests to provide a network-idle signal
// equivalent to "no requests for a quiet period".
type netTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
}

func newNetTracker() *netTracker {
	return &netTracker{inflight: make(map[network.RequestID]struct{}), last: time.Now()}
}

func (n *netTracker) attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			n.begin(e.RequestID, time.Now())
		case *network.EventLoadingFinished:
			n.end(e.RequestID, time.Now())
		case *network.EventLoadingFailed:
			n.end(e.RequestID, time.Now())
		}
	})
}

func (n *netTracker) begin(id network.RequestID, now time.Time) {
	n.mu.Lock()
	n.inflight[id] = struct{}{}
	n.last = now
	n.mu.Unlock()
}

func (n *netTracker) end(id network.RequestID, now time.Time) {
	n.mu.Lock()
	if _, ok := n.inflight[id]; ok {
		delete(n.inflight, id)
		n.last = now
	}
	n.mu.Unlock()
}

// reset forgets requests from the previous document; their completion events
// may never arrive after a navigation.
func (n *netTracker) reset() {
	n.mu.Lock()
	n.inflight = make(map[network.RequestID]struct{})
	n.last = time.Now()
	n.mu.Unlock()
}

func (n *netTracker) idle(quiet time.Duration, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight) == 0 && now.Sub(n.last) >= quiet
}

func (n *netTracker) pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}
