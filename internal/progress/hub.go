package progress

import (
	"context"
	"sync"
	"time"

	"issuedigest/internal/summarize"
)

const (
	EventRunStarted  = "run_started"
	EventProgress    = "progress"
	EventItemFailed  = "item_failed"
	EventRunFinished = "run_finished"
)

// Event is one progress notification pushed to subscribers.
type Event struct {
	Type    string    `json:"type"`
	RunID   string    `json:"runId,omitempty"`
	Done    int       `json:"done,omitempty"`
	Total   int       `json:"total,omitempty"`
	Index   int       `json:"index,omitempty"`
	Key     string    `json:"key,omitempty"`
	Message string    `json:"message,omitempty"`
	Version string    `json:"version,omitempty"`
	Time    time.Time `json:"time"`
}

// Hub fans progress events out to subscribers. Slow subscribers miss
// events rather than stalling the batch.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	buffer int
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}, buffer: 64, now: time.Now}
}

// Subscribe registers a listener until ctx is done or cancel is called.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Observer adapts the hub to a batch observer tagged with runID.
func (h *Hub) Observer(runID string) summarize.Observer {
	return &runObserver{hub: h, runID: runID}
}

type runObserver struct {
	hub   *Hub
	runID string
}

func (o *runObserver) Progress(done, total int) {
	o.hub.Publish(Event{Type: EventProgress, RunID: o.runID, Done: done, Total: total})
}

func (o *runObserver) ItemFailed(index int, key string, err error) {
	ev := Event{Type: EventItemFailed, RunID: o.runID, Index: index, Key: key}
	if err != nil {
		ev.Message = err.Error()
	}
	o.hub.Publish(ev)
}
