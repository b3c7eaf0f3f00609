// Package sse implements a Server-Sent Events broker for content-change
// notifications.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// EventListingUpdated tells clients that post or draft listings may have changed.
	EventListingUpdated = "listing.updated"
	// EventStreamReset tells a resuming client that events were lost and it
	// should refetch whatever it displays.
	EventStreamReset = "stream.reset"
)

const (
	defaultHeartbeat = 25 * time.Second
	defaultReplay    = 128
	clientBuffer     = 64
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Filter selects the events a subscriber receives.
type Filter struct {
	// PostID restricts per-post events to one id. Listing events always pass.
	PostID string
	// After replays buffered events with a greater sequence number.
	After uint64
}

type frame struct {
	seq    uint64
	postID string
	raw    []byte
}

type subscribeReq struct {
	ch     chan []byte
	filter Filter
}

type postEventReq struct {
	kind string
	id   string
}

// Broker manages SSE client connections and broadcasts post events.
//
// A single event loop owns the clients, the sequence counter, the replay
// history and the listing throttle. Public methods talk to it over channels.
type Broker struct {
	listingMin time.Duration
	heartbeat  time.Duration
	replay     int

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	postEventCh   chan postEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets the interval between keepalive comments.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithReplay sets how many past events are kept for resuming clients.
func WithReplay(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.replay = n
		}
	}
}

// NewBroker creates a new SSE broker. listingThrottle is the minimum gap
// between two listing.updated events.
func NewBroker(listingThrottle time.Duration, opts ...Option) *Broker {
	if listingThrottle <= 0 {
		listingThrottle = 2 * time.Second
	}

	b := &Broker{
		listingMin:    listingThrottle,
		heartbeat:     defaultHeartbeat,
		replay:        defaultReplay,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		postEventCh:   make(chan postEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (f Filter) accepts(fr frame) bool {
	return f.PostID == "" || fr.postID == "" || fr.postID == f.PostID
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]Filter)
	history := make([]frame, 0, b.replay)
	var seq uint64
	var lastListing time.Time

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; drop rather than stall the loop.
		}
	}

	broadcast := func(postID string, event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		fr := frame{
			seq:    seq,
			postID: postID,
			raw:    []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)),
		}
		if b.replay > 0 {
			if len(history) == b.replay {
				history = append(history[:0], history[1:]...)
			}
			history = append(history, fr)
		}
		for ch, filter := range clients {
			if filter.accepts(fr) {
				send(ch, fr.raw)
			}
		}
	}

	resume := func(req subscribeReq) {
		after := req.filter.After
		if after == 0 || after >= seq {
			return
		}
		if len(history) == 0 || history[0].seq > after+1 {
			send(req.ch, []byte(fmt.Sprintf("event: %s\ndata: {}\n\n", EventStreamReset)))
			return
		}
		for _, fr := range history {
			if fr.seq > after && req.filter.accepts(fr) {
				send(req.ch, fr.raw)
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = req.filter
			resume(req)

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case req := <-b.postEventCh:
			broadcast(req.id, Event{Type: req.kind, Data: map[string]string{"id": req.id}})

			now := time.Now()
			if now.Sub(lastListing) >= b.listingMin {
				lastListing = now
				broadcast("", Event{Type: EventListingUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel. Buffered events newer
// than filter.After are queued first.
func (b *Broker) Subscribe(filter Filter) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, filter: filter}:
	case <-b.stopped:
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
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishPostEvent publishes a post or draft change of the given event type
// followed, at most once per throttle interval, by listing.updated.
func (b *Broker) PublishPostEvent(kind, id string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.postEventCh <- postEventReq{kind: kind, id: id}:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client. The optional id query parameter
// narrows per-post events; Last-Event-ID resumes from the replay buffer.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := Filter{PostID: r.URL.Query().Get("id")}
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		if n, err := strconv.ParseUint(last, 10, 64); err == nil {
			filter.After = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", 3000)
	flusher.Flush()

	ch := b.Subscribe(filter)
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
