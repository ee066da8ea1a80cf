package events

import (
	"sync"
	"time"
)

// Kind identifies the trigger that produced an event.
type Kind string

const (
	KindOpenPosition     Kind = "open_position"
	KindManagePositions  Kind = "manage_positions"
	KindTrailStops       Kind = "trail_stops"
	KindTimeExit         Kind = "time_exit"
	KindCloseAll         Kind = "close_all_positions"
	KindCalculateMargins Kind = "calculate_margins"
	KindConnectionCheck  Kind = "connection_check"
	KindDailyReport      Kind = "daily_report"
	KindConnected        Kind = "connected"
	KindDisconnected     Kind = "disconnected"
)

type Event struct {
	Kind Kind
	At   time.Time
	Data any
}

// Observer receives events fanned out by a Subject.
type Observer interface {
	OnEvent(ev Event)
}

// Subject is the process-wide publish/subscribe hub. Notify delivers
// synchronously on the caller's goroutine; Enqueue defers delivery until
// someone drains the queue with ProcessQueue.
type Subject struct {
	mu        sync.Mutex
	observers []Observer
	queue     []Event
}

func NewSubject() *Subject {
	return &Subject{}
}

func (s *Subject) Subscribe(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observers {
		if existing == o {
			return
		}
	}
	s.observers = append(s.observers, o)
}

func (s *Subject) Unsubscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *Subject) Notify(ev Event) {
	for _, o := range s.snapshot() {
		o.OnEvent(ev)
	}
}

func (s *Subject) Enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
}

// ProcessQueue drains every queued event and fans each out in order.
// Draining happens under the lock, delivery outside it, so observers may
// enqueue follow-up events without deadlocking.
func (s *Subject) ProcessQueue() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, ev := range pending {
		for _, o := range s.snapshot() {
			o.OnEvent(ev)
		}
	}
}

func (s *Subject) snapshot() []Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observer, len(s.observers))
	copy(out, s.observers)
	return out
}
