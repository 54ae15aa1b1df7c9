package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/phuslu/log"
)

// Pipeline progress event types
const (
	EventRunStarted      = "run_started"
	EventPatterns        = "trade_patterns"
	EventSentiment       = "sentiment"
	EventMarketSummary   = "market_summary"
	EventAdviceChunk     = "advice_chunk"
	EventRunCompleted    = "run_completed"
	EventIngestCompleted = "ingest_completed"
)

// Event is the envelope pushed to SSE and WebSocket clients
type Event struct {
	Type    string `json:"event"`
	RunID   string `json:"run_id,omitempty"`
	Payload any    `json:"payload"`
}

type message struct {
	runID string
	data  []byte
}

// Subscription is one connected client. A non-empty RunID limits delivery to that run.
type Subscription struct {
	C     chan []byte
	RunID string
}

// Broker fans out pipeline events to connected clients
type Broker struct {
	clients    map[*Subscription]bool
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan message
	forward    func(Event)
	mu         sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan message, 1000),
	}
}

// Run starts the broker loop and returns when ctx is done
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for sub := range b.clients {
				delete(b.clients, sub)
				close(sub.C)
			}
			b.mu.Unlock()
			return

		case sub := <-b.register:
			b.mu.Lock()
			b.clients[sub] = true
			n := len(b.clients)
			b.mu.Unlock()
			log.Debug().Int("clients", n).Msg("Realtime client connected")

		case sub := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[sub]; ok {
				delete(b.clients, sub)
				close(sub.C)
			}
			n := len(b.clients)
			b.mu.Unlock()
			log.Debug().Int("clients", n).Msg("Realtime client disconnected")

		case msg := <-b.broadcast:
			b.mu.RLock()
			for sub := range b.clients {
				if sub.RunID != "" && sub.RunID != msg.runID {
					continue
				}
				select {
				case sub.C <- msg.data:
				default:
					// slow client, drop
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Subscribe registers a client. The broker loop must be running.
func (b *Broker) Subscribe(ctx context.Context, runID string) (*Subscription, error) {
	sub := &Subscription{C: make(chan []byte, 32), RunID: runID}
	select {
	case b.register <- sub:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes a client and closes its channel
func (b *Broker) Unsubscribe(sub *Subscription) {
	select {
	case b.unregister <- sub:
	default:
		go func() { b.unregister <- sub }()
	}
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// SetForwarder registers a hook that receives every locally published event.
// It must be set before the broker is used.
func (b *Broker) SetForwarder(fn func(Event)) {
	b.forward = fn
}

// Publish sends an event to all matching clients without blocking, then
// hands it to the forwarder
func (b *Broker) Publish(ev Event) {
	b.Deliver(ev)
	if b.forward != nil {
		b.forward(ev)
	}
}

// Deliver sends an event to local clients only. Events arriving from other
// instances come in here so they are not forwarded again.
func (b *Broker) Deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Type).Msg("Failed to marshal realtime event")
		return
	}
	select {
	case b.broadcast <- message{runID: ev.RunID, data: data}:
	default:
		log.Warn().Str("event", ev.Type).Msg("Realtime buffer full, dropping event")
	}
}

// Broadcast publishes a payload under an event name for a run
func (b *Broker) Broadcast(event, runID string, payload any) {
	b.Publish(Event{Type: event, RunID: runID, Payload: payload})
}

// ServeHTTP streams events as Server-Sent Events. ?run= filters to one analysis run.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub, err := b.Subscribe(r.Context(), r.URL.Query().Get("run"))
	if err != nil {
		return
	}
	defer b.Unsubscribe(sub)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
