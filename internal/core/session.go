package core

import (
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
)

// Session is one live client connection as seen by the core layer.
type Session struct {
	ID          string
	ConnectedAt time.Time

	events chan broadcast.Event
	done   chan struct{}

	mu          sync.Mutex
	username    string
	missed      int
	closed      bool
	closeReason string
}

// NewSession constructs a session with an outbound queue of the given size.
func NewSession(id string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		ID:          id,
		ConnectedAt: time.Now(),
		events:      make(chan broadcast.Event, buffer),
		done:        make(chan struct{}),
	}
}

// Events returns the queue of events waiting to be written to the client.
func (s *Session) Events() <-chan broadcast.Event {
	return s.events
}

// Done is closed when the server has closed the session.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Username returns the bound username, or "" before login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// CloseReason returns why the server closed the session.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Closed reports whether the server has closed the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// push queues ev without blocking. Closed sessions and full queues drop it.
func (s *Session) push(ev broadcast.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// close marks the session closed. Events already queued stay readable.
func (s *Session) close(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.closeReason = reason
	close(s.done)
	return true
}

func (s *Session) setUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// missProbe counts an unanswered probe and reports the total before this one.
func (s *Session) missProbe() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.missed
	s.missed++
	return prev
}

func (s *Session) ack() {
	s.mu.Lock()
	s.missed = 0
	s.mu.Unlock()
}
