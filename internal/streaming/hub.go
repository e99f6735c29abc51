// Package streaming fans out import-run progress to connected SSE clients.
package streaming

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	clientBuffer = 10
	runBuffer    = 100

	// Complete/error events decide when a stream ends, so they get a
	// bounded delivery window instead of best-effort drop.
	criticalSendWindow   = 100 * time.Millisecond
	criticalClientWindow = 50 * time.Millisecond
)

// Client is one connected SSE stream for a run.
type Client struct {
	Events chan SSEEvent
}

// NewClient creates a client with a buffered event channel.
func NewClient() *Client {
	return &Client{Events: make(chan SSEEvent, clientBuffer)}
}

// isCritical reports whether an event type terminates the stream.
func isCritical(t EventType) bool {
	return t == EventTypeComplete || t == EventTypeError
}

// RunBroadcaster fans events for a single import run out to its clients.
// It stops itself after delivering a complete or error event.
type RunBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	events   chan SSEEvent
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
}

// NewRunBroadcaster creates a broadcaster bound to ctx.
func NewRunBroadcaster(ctx context.Context) *RunBroadcaster {
	ctx, cancel := context.WithCancel(ctx)
	return &RunBroadcaster{
		clients: make(map[*Client]bool),
		events:  make(chan SSEEvent, runBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a client.
func (b *RunBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
}

// Unregister removes a client and closes its channel. Safe to call more
// than once; Stop already closes every remaining client channel.
func (b *RunBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	if !b.stopped {
		close(client.Events)
	}
}

// ClientCount returns how many clients are connected.
func (b *RunBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues an event for delivery. Progress events are dropped when
// the queue is full; critical events wait out the send window first.
func (b *RunBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	stopped := b.stopped
	b.mu.RUnlock()
	if stopped {
		return
	}

	if isCritical(event.Type) {
		select {
		case b.events <- event:
		case <-b.ctx.Done():
		case <-time.After(criticalSendWindow):
			log.Printf("ERROR: Dropped critical %s event, queue stayed full for %s", event.Type, criticalSendWindow)
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		log.Printf("WARN: Event queue full, dropping %s event", event.Type)
	}
}

// Stop closes every client channel and the event queue. Idempotent.
func (b *RunBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		b.mu.Unlock()
		b.cancel()
		close(b.events)
	})
}

// Start launches the fan-out loop.
func (b *RunBroadcaster) Start() {
	go b.run()
}

func (b *RunBroadcaster) run() {
	defer b.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event, ok := <-b.events:
			if !ok {
				return
			}
			b.deliver(event)
			if isCritical(event.Type) {
				// Give the terminal event a moment to drain before the
				// channels close under the handlers.
				time.Sleep(criticalSendWindow)
				return
			}
		}
	}
}

// deliver pushes one event to every client, dropping progress events for
// slow clients and waiting briefly for critical ones.
func (b *RunBroadcaster) deliver(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if isCritical(event.Type) {
			select {
			case client.Events <- event:
			case <-time.After(criticalClientWindow):
				log.Printf("ERROR: Client too slow for critical %s event", event.Type)
			}
			continue
		}

		select {
		case client.Events <- event:
		default:
			// Slow client; it will catch up from the run record.
		}
	}
}

// StreamHub routes events to the broadcaster of the right import run,
// creating broadcasters on first subscribe and tearing them down when the
// last client leaves.
type StreamHub struct {
	mu           sync.RWMutex
	broadcasters map[string]*RunBroadcaster
}

// NewStreamHub creates an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{broadcasters: make(map[string]*RunBroadcaster)}
}

// Register subscribes a new client to a run, creating and starting the
// run's broadcaster if this is its first listener.
func (h *StreamHub) Register(ctx context.Context, runID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.broadcasters[runID]
	if !ok {
		b = NewRunBroadcaster(ctx)
		h.broadcasters[runID] = b
		b.Start()
	}

	client := NewClient()
	b.Register(client)
	return client
}

// Unregister drops a client; the broadcaster is stopped and removed when
// its last client leaves.
func (h *StreamHub) Unregister(runID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.broadcasters[runID]
	if !ok {
		return
	}
	b.Unregister(client)
	if b.ClientCount() == 0 {
		b.Stop()
		delete(h.broadcasters, runID)
	}
}

// Broadcast sends an event to a run's clients. A run nobody is watching is
// a silent no-op, not an error.
func (h *StreamHub) Broadcast(runID string, event SSEEvent) {
	h.mu.RLock()
	b, ok := h.broadcasters[runID]
	h.mu.RUnlock()
	if ok {
		b.Broadcast(event)
	}
}

// IsRunning reports whether a run currently has a broadcaster.
func (h *StreamHub) IsRunning(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.broadcasters[runID]
	return ok
}
