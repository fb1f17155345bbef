// Package sse implements a Server-Sent Events broker that streams publish
// progress to HTTP clients.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/notepub/internal/publish"
)

// Event types.
const (
	EventDeleted  = "publish.deleted"
	EventProgress = "publish.progress"
	EventDone     = "publish.done"
	EventFailed   = "publish.failed"
)

// DefaultKeepAlive is the interval between comment frames on idle streams.
const DefaultKeepAlive = 15 * time.Second

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Progress is the payload of a publish.progress event.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Path      string `json:"path"`
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets the keep-alive interval of ServeHTTP streams.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.keepAlive = d
		}
	}
}

// Broker fans publish events out to subscribed clients.
//
// One goroutine owns the client set, the progress throttle, the event
// sequence and the last frame sent. A client that subscribes while a run is
// in flight first receives that last frame, so it can render the current
// state without waiting for the next event.
type Broker struct {
	progressMin time.Duration
	keepAlive   time.Duration

	join   chan chan []byte
	leave  chan chan []byte
	events chan Event
	count  chan chan int

	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

var _ publish.Reporter = (*Broker)(nil)

// NewBroker creates a broker. Progress events closer together than
// progressThrottle are dropped, except the final one of a run.
func NewBroker(progressThrottle time.Duration, opts ...Option) *Broker {
	if progressThrottle < 0 {
		progressThrottle = 0
	}
	b := &Broker{
		progressMin: progressThrottle,
		keepAlive:   DefaultKeepAlive,
		join:        make(chan chan []byte),
		leave:       make(chan chan []byte),
		events:      make(chan Event, 256),
		count:       make(chan chan int),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.done)

	clients := make(map[chan []byte]struct{})
	var (
		seq          uint64
		lastProgress time.Time
		latest       []byte
	)

	for {
		select {
		case <-b.quit:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.join:
			clients[ch] = struct{}{}
			if latest != nil {
				ch <- latest
			}

		case ch := <-b.leave:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.events:
			if p, ok := ev.Data.(Progress); ok && ev.Type == EventProgress {
				now := time.Now()
				if p.Completed < p.Total && now.Sub(lastProgress) < b.progressMin {
					continue
				}
				lastProgress = now
			}
			raw, err := encode(seq+1, ev)
			if err != nil {
				continue
			}
			seq++
			latest = raw
			for ch := range clients {
				select {
				case ch <- raw:
				default:
					// slow client; drop the frame
				}
			}

		case resp := <-b.count:
			resp <- len(clients)
		}
	}
}

func encode(id uint64, ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Type, payload), nil
}

// Close stops the broker and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.done
}

// Subscribe adds a client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.done:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.done:
		return 0
	}
}

// Publish queues an event for every client. It is a no-op after Close.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- event:
	case <-b.done:
	}
}

// Deleted implements publish.Reporter.
func (b *Broker) Deleted(count int) {
	b.Publish(Event{Type: EventDeleted, Data: map[string]int{"count": count}})
}

// Progress implements publish.Reporter. It is throttled.
func (b *Broker) Progress(completed, total int, path string) {
	b.Publish(Event{Type: EventProgress, Data: Progress{Completed: completed, Total: total, Path: path}})
}

// Done implements publish.Reporter.
func (b *Broker) Done(total int) {
	b.Publish(Event{Type: EventDone, Data: map[string]int{"total": total}})
}

// Failed implements publish.Reporter.
func (b *Broker) Failed(err error) {
	b.Publish(Event{Type: EventFailed, Data: map[string]string{"error": err.Error()}})
}

// ServeHTTP streams events to one client (GET /api/events) until the
// request is cancelled or the broker closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
