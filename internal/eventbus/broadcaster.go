// Package eventbus fans recognition progress out to any number of
// subscribers per job. Delivery is at-most-once: a subscriber that
// cannot keep up has events dropped for it rather than blocking the
// job that produced them.
package eventbus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"scribe/internal/store"
	"scribe/pkg/logger"
)

// Event is a single update pushed to subscribers of a job.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Segment/progress/terminal event type names used across the RPC layer.
const (
	EventSegment  = "segment"
	EventProgress = "progress"
	EventTerminal = "terminal"
)

// JobUpdate is the payload carried by every progress, segment, and
// terminal event: the job's status and progress are always present,
// a Segment accompanies segment events, and Error accompanies a
// FAILED terminal event.
type JobUpdate struct {
	Status   string         `json:"status"`
	Progress float64        `json:"progress"`
	Segment  *store.Segment `json:"segment,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type subscription struct {
	jobID   string
	channel chan Event
}

type message struct {
	jobID string
	event Event
}

// Bus manages per-job subscriptions and broadcast delivery.
type Bus struct {
	subscribers map[string]map[chan Event]bool
	register    chan subscription
	unregister  chan subscription
	broadcast   chan message
	shutdown    chan struct{}
	mutex       sync.RWMutex
}

// New creates a Bus and starts its dispatch loop.
func New() *Bus {
	b := &Bus{
		subscribers: make(map[string]map[chan Event]bool),
		register:    make(chan subscription),
		unregister:  make(chan subscription),
		broadcast:   make(chan message),
		shutdown:    make(chan struct{}),
	}
	go b.listen()
	return b
}

func (b *Bus) listen() {
	for {
		select {
		case sub := <-b.register:
			b.mutex.Lock()
			if b.subscribers[sub.jobID] == nil {
				b.subscribers[sub.jobID] = make(map[chan Event]bool)
			}
			b.subscribers[sub.jobID][sub.channel] = true
			b.mutex.Unlock()

		case sub := <-b.unregister:
			b.mutex.Lock()
			if clients, ok := b.subscribers[sub.jobID]; ok {
				if _, present := clients[sub.channel]; present {
					delete(clients, sub.channel)
					close(sub.channel)
				}
				if len(clients) == 0 {
					delete(b.subscribers, sub.jobID)
				}
			}
			b.mutex.Unlock()

		case msg := <-b.broadcast:
			b.mutex.Lock()
			if clients, ok := b.subscribers[msg.jobID]; ok {
				for ch := range clients {
					select {
					case ch <- msg.event:
					default:
						logger.Warn("dropping event for slow subscriber", "job_id", msg.jobID)
					}
				}
				if msg.event.Type == EventTerminal {
					for ch := range clients {
						close(ch)
					}
					delete(b.subscribers, msg.jobID)
				}
			}
			b.mutex.Unlock()

		case <-b.shutdown:
			b.mutex.Lock()
			for _, clients := range b.subscribers {
				for ch := range clients {
					close(ch)
				}
			}
			b.subscribers = nil
			b.mutex.Unlock()
			return
		}
	}
}

// Shutdown stops the bus and closes every open subscriber channel.
func (b *Bus) Shutdown() {
	close(b.shutdown)
}

// Publish sends an event to every subscriber of jobID.
func (b *Bus) Publish(jobID, eventType string, payload interface{}) {
	b.broadcast <- message{jobID: jobID, event: Event{Type: eventType, Payload: payload}}
}

// subscriberBuffer sizes each subscriber's inbox. A job emits at most a
// few hundred segment/progress events plus one terminal event, so this
// comfortably holds a full job's worth without the broadcaster ever
// blocking on a subscriber that is merely a scheduling tick behind.
const subscriberBuffer = 256

// Subscribe registers a live listener for jobID's events. The caller
// must call the returned unsubscribe func exactly once when done
// reading, even if the channel was already closed by a terminal event
// or by Shutdown.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	sub := subscription{jobID: jobID, channel: ch}
	b.register <- sub

	unsubscribe := func() {
		select {
		case b.unregister <- sub:
		case <-b.shutdown:
		}
	}
	return ch, unsubscribe
}

// ServeHTTP streams events for the job named by the "job_id" query
// parameter as server-sent events ("data: <json>" frames), with a
// periodic heartbeat comment line to keep intermediaries from closing
// the connection.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := b.Subscribe(jobID)
	defer unsubscribe()

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"job_id\":%q}\n\n", jobID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				logger.Error("marshal event failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if evt.Type == EventTerminal {
				return
			}
		case <-time.After(30 * time.Second):
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
