package task

import (
	"sync"

	"github.com/google/uuid"
)

// Event is one named message on the progress channel. Data is JSON.
type Event struct {
	Name string
	Data []byte
}

// Subscriber is a progress channel listener. Events queue up without bound
// until the listener drains them, so publishing never blocks or drops.
type Subscriber struct {
	ID string

	hub    *Hub
	mu     sync.Mutex
	queue  []Event
	ready  chan struct{}
	closed bool
}

// Ready is signaled whenever events are waiting to be drained.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

// Drain removes and returns the queued events in publish order.
func (s *Subscriber) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Close unsubscribes. It is the only way a subscriber leaves the hub.
func (s *Subscriber) Close() {
	s.hub.remove(s)
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

func (s *Subscriber) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Hub fans events out to its subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscriber)}
}

// add registers a subscriber whose queue starts with first.
func (h *Hub) add(first Event) *Subscriber {
	s := &Subscriber{
		ID:    uuid.NewString(),
		hub:   h,
		queue: []Event{first},
		ready: make(chan struct{}, 1),
	}
	s.ready <- struct{}{}

	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s.ID)
	h.mu.Unlock()
}

// Publish queues ev on every current subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.push(ev)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
