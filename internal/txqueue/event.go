package txqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"txqueue/internal/domain"
)

// ErrSubscriptionClosed is returned by Next once the subscription is closed
// and drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

type EventType string

const (
	// EventTransition: a parcel changed status.
	EventTransition EventType = "transition"
	EventSeeding    EventType = "seeding"
	EventSeedFailed EventType = "seed_failed"
	EventCompleted  EventType = "completed"
	EventYielded    EventType = "yielded"
	EventResumed    EventType = "resumed"
	EventReset      EventType = "reset"
)

// Event describes one committed change. Index is -1 for queue-level events.
type Event struct {
	Seq      uint64          `json:"seq"`
	Type     EventType       `json:"type"`
	Index    int             `json:"index"`
	ParcelID string          `json:"parcel_id,omitempty"`
	From     Status          `json:"from,omitempty"`
	To       Status          `json:"to,omitempty"`
	Parcel   *Parcel         `json:"parcel,omitempty"`
	Account  *domain.Account `json:"account,omitempty"`
	ChainID  uint64          `json:"chain_id,omitempty"`
	Err      error           `json:"-"`
	At       time.Time       `json:"at"`
}

// Subscription is an unbounded mailbox of events. Delivery never blocks the
// queue; a slow reader only grows its own backlog.
type Subscription struct {
	mu      sync.Mutex
	pending []Event
	closed  bool
	notify  chan struct{}

	unsubscribe func()
}

func newSubscription(unsubscribe func()) *Subscription {
	return &Subscription{notify: make(chan struct{}, 1), unsubscribe: unsubscribe}
}

func (s *Subscription) deliver(events []Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, events...)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, ctx is done or the subscription
// is closed. Events queued before Close are still returned.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending[0] = Event{}
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Backlog is the number of undelivered events.
func (s *Subscription) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.unsubscribe()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
