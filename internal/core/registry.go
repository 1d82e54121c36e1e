package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
)

// ReasonHeartbeatTimeout is the close reason for sessions that stop answering probes.
const ReasonHeartbeatTimeout = "heartbeat timeout"

// Registry tracks live sessions and which session owns each username.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]*Session

	buffer    int
	maxMissed int
	log       *zerolog.Logger
}

var _ broadcast.Deliverer = (*Registry)(nil)

// NewRegistry creates an empty registry. Sessions get outbound queues of
// buffer events and are closed after maxMissed unanswered probes.
func NewRegistry(buffer, maxMissed int, logger *zerolog.Logger) *Registry {
	if maxMissed <= 0 {
		maxMissed = 3
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]*Session),
		buffer:    buffer,
		maxMissed: maxMissed,
		log:       logger,
	}
}

// Register adds a new session for a fresh connection.
func (r *Registry) Register(sessionID string) *Session {
	s := NewSession(sessionID, r.buffer)

	r.mu.Lock()
	r.sessions[sessionID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.log.Debug().Str("session_id", sessionID).Int("sessions", count).Msg("session registered")
	return s
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Bind associates username with the session. Binding the same name twice is a no-op.
func (r *Registry) Bind(sessionID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Closed() {
		return ErrSessionNotFound
	}
	switch bound := s.Username(); {
	case bound == username && r.byUser[username] == s:
		return nil
	case bound != "":
		return ErrAlreadyBound
	}
	if owner, taken := r.byUser[username]; taken && owner != s {
		return ErrAlreadyOnline
	}

	s.setUsername(username)
	r.byUser[username] = s
	return nil
}

// Unbind reverts a Bind when the session still owns username.
func (r *Registry) Unbind(sessionID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if r.byUser[username] == s {
		delete(r.byUser, username)
	}
	if s.Username() == username {
		s.setUsername("")
	}
}

// Lookup returns the live session bound to username, or nil.
func (r *Registry) Lookup(username string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[username]
}

// Evict forcibly disconnects the session bound to username. The session gets
// a forcedLogout event before it is closed. When Evict returns, username is
// no longer bound. Returns the evicted session, or nil if there was none.
func (r *Registry) Evict(username, reason string) *Session {
	r.mu.Lock()
	s, ok := r.byUser[username]
	if ok {
		delete(r.byUser, username)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	s.push(broadcast.Event{Name: EventForcedLogout, Data: ForcedLogoutPayload{Reason: reason}})
	s.close(reason)

	r.log.Info().Str("session_id", s.ID).Str("username", username).Str("reason", reason).Msg("session evicted")
	return s
}

// Unregister removes a session on disconnect. wasBound reports whether the
// session still owned its username at that point.
func (r *Registry) Unregister(sessionID string) (username string, wasBound bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.sessions, sessionID)

	username = s.Username()
	if username != "" && r.byUser[username] == s {
		delete(r.byUser, username)
		wasBound = true
	}
	count := len(r.sessions)
	r.mu.Unlock()

	s.close("disconnected")

	r.log.Debug().Str("session_id", sessionID).Str("username", username).Int("sessions", count).Msg("session unregistered")
	return username, wasBound
}

// Deliver queues ev for every session. Closed sessions are skipped; full
// queues drop the event.
func (r *Registry) Deliver(ev broadcast.Event) {
	for _, s := range r.all() {
		if !s.push(ev) && !s.Closed() {
			r.log.Debug().Str("session_id", s.ID).Str("event", ev.Name).Msg("drop event for slow session")
		}
	}
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Probe sends a liveness ping to every session and closes those that have
// left maxMissed probes unanswered. Returns the sessions it closed.
func (r *Registry) Probe(now time.Time) []*Session {
	var expired []*Session
	ping := broadcast.Event{Name: EventPing, Data: PingPayload{Timestamp: now}}

	for _, s := range r.all() {
		if s.Closed() {
			continue
		}
		if s.missProbe() >= r.maxMissed {
			if s.close(ReasonHeartbeatTimeout) {
				expired = append(expired, s)
			}
			continue
		}
		s.push(ping)
	}
	return expired
}

// Ack records a liveness acknowledgment from the session.
func (r *Registry) Ack(sessionID string) {
	if s := r.Get(sessionID); s != nil {
		s.ack()
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
