package core

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20

	// ReasonReplaced is sent to a session evicted by a forced login elsewhere.
	ReasonReplaced = "logged in from another session"
)

// TokenIssuer mints a session token for a logged in user.
type TokenIssuer interface {
	Issue(username, sessionID string) (string, error)
}

// Options configures a Hub. Zero values fall back to defaults.
type Options struct {
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	SweepInterval       time.Duration
	StaleThreshold      time.Duration
	StoreTimeout        time.Duration
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	SessionBuffer       int

	// NewBus builds the broadcast channel around the session registry.
	// Defaults to an in-process bus.
	NewBus func(broadcast.Deliverer) broadcast.Bus
	Tokens TokenIssuer
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MaxMissedHeartbeats <= 0 {
		o.MaxMissedHeartbeats = 3
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 60 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	if o.SessionBuffer <= 0 {
		o.SessionBuffer = 256
	}
	if o.NewBus == nil {
		o.NewBus = func(d broadcast.Deliverer) broadcast.Bus { return broadcast.NewLocal(d) }
	}
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Username string
	Token    string
}

// UsernameCheck describes whether a username can be used to log in.
type UsernameCheck struct {
	Valid       bool
	Exists      bool
	Online      bool
	CanTakeOver bool
	LastSeen    *time.Time
}

// Hub coordinates sessions, presence, typing and messages.
type Hub struct {
	registry *Registry
	presence *Presence
	typing   *Typing
	pipeline *Pipeline
	bus      broadcast.Bus
	locks    *keyedMutex
	tokens   TokenIssuer
	opts     Options
	log      *zerolog.Logger
}

// NewHub creates a new chat hub instance.
func NewHub(st store.Store, opts Options, logger *zerolog.Logger) *Hub {
	opts.applyDefaults()

	registry := NewRegistry(opts.SessionBuffer, opts.MaxMissedHeartbeats, logger)
	bus := opts.NewBus(registry)
	locks := newKeyedMutex()
	typing := NewTyping(bus, logger)

	return &Hub{
		registry: registry,
		presence: NewPresence(st, bus, registry, locks, opts.StaleThreshold, opts.StoreTimeout, logger),
		typing:   typing,
		pipeline: NewPipeline(st, bus, typing, opts.StoreTimeout, opts.HistoryDefaultLimit, opts.HistoryMaxLimit, logger),
		bus:      bus,
		locks:    locks,
		tokens:   opts.Tokens,
		opts:     opts,
		log:      logger,
	}
}

// Registry exposes the session registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Presence exposes the presence tracker.
func (h *Hub) Presence() *Presence { return h.presence }

// Typing exposes the typing tracker.
func (h *Hub) Typing() *Typing { return h.typing }

// Pipeline exposes the message pipeline.
func (h *Hub) Pipeline() *Pipeline { return h.pipeline }

// ValidUsername reports whether username has an acceptable length.
func ValidUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	return n >= MinUsernameLength && n <= MaxUsernameLength && strings.TrimSpace(username) == username
}

// Connect registers a new session and queues the current history, online
// users and typing users to it.
func (h *Hub) Connect(ctx context.Context, sessionID string) *Session {
	s := h.registry.Register(sessionID)

	if msgs, err := h.pipeline.History(ctx, 0, 0); err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("load initial history")
	} else {
		s.push(broadcast.Event{Name: EventMessageHistory, Data: ToHistoryPayload(msgs)})
	}
	s.push(broadcast.Event{Name: EventPresenceUpdate, Data: PresencePayload{
		Type:        PresenceSnapshot,
		OnlineUsers: h.presence.Snapshot(),
		Timestamp:   time.Now(),
	}})
	s.push(broadcast.Event{Name: EventTypingUpdate, Data: TypingPayload{Users: h.typing.Snapshot()}})

	return s
}

// Login binds username to the session. If another session holds the name,
// Login fails with ErrAlreadyOnline unless force is set, in which case the
// other session is evicted first. Logins for one username are serialized.
func (h *Hub) Login(ctx context.Context, sessionID, username string, force bool) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	s := h.registry.Get(sessionID)
	if s == nil || s.Closed() {
		return nil, ErrSessionNotFound
	}
	if bound := s.Username(); bound != "" && bound != username {
		return nil, ErrAlreadyBound
	}

	unlock := h.locks.Lock(username)
	defer unlock()

	existing := h.registry.Lookup(username)
	if existing != s {
		if existing != nil {
			if !force {
				return nil, ErrAlreadyOnline
			}
			h.registry.Evict(username, ReasonReplaced)
		}

		if err := h.bind(ctx, sessionID, username); err != nil {
			if existing != nil {
				h.releaseEvicted(ctx, username)
			}
			return nil, err
		}
		h.log.Info().Str("session_id", sessionID).Str("username", username).Bool("forced", existing != nil).Msg("user logged in")
	}

	result := &LoginResult{Username: username}
	if h.tokens != nil {
		token, err := h.tokens.Issue(username, sessionID)
		if err != nil {
			h.log.Warn().Err(err).Str("username", username).Msg("issue session token")
		} else {
			result.Token = token
		}
	}
	return result, nil
}

func (h *Hub) bind(ctx context.Context, sessionID, username string) error {
	if err := h.registry.Bind(sessionID, username); err != nil {
		return err
	}
	if err := h.presence.MarkOnline(ctx, username, sessionID); err != nil {
		h.registry.Unbind(sessionID, username)
		return err
	}
	return nil
}

// releaseEvicted takes username offline when its holder was evicted but the
// new session failed to take over. The evicted session's own teardown no
// longer owns the name and publishes nothing.
func (h *Hub) releaseEvicted(ctx context.Context, username string) {
	h.typing.Stop(ctx, username)
	if err := h.presence.MarkOffline(ctx, username); err != nil {
		h.log.Warn().Err(err).Str("username", username).Msg("mark offline after failed takeover")
	}
}

// ValidateUsername reports whether username is well formed, known, and online.
func (h *Hub) ValidateUsername(ctx context.Context, username string) (*UsernameCheck, error) {
	username = strings.TrimSpace(username)
	if !ValidUsername(username) {
		return &UsernameCheck{}, nil
	}

	check := &UsernameCheck{Valid: true}
	if h.registry.Lookup(username) != nil {
		check.Online = true
		check.Exists = true
		check.CanTakeOver = true
	}

	user, err := h.presence.LastSeen(ctx, username)
	switch {
	case err == nil:
		check.Exists = true
		lastSeen := user.LastSeen
		check.LastSeen = &lastSeen
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}
	return check, nil
}

// LoadHistory returns an ordered window of messages, oldest first.
func (h *Hub) LoadHistory(ctx context.Context, limit, skip int) ([]*store.Message, error) {
	return h.pipeline.History(ctx, limit, skip)
}

// SendMessage sends a message on behalf of the session. A logged in session
// may only send as itself.
func (h *Hub) SendMessage(ctx context.Context, sessionID string, req SendRequest) (*store.Message, error) {
	sender, err := h.resolveSender(sessionID, req.Username)
	if err != nil {
		return nil, err
	}
	req.Username = sender
	return h.pipeline.Send(ctx, req)
}

// StartTyping marks the session's user as typing.
func (h *Hub) StartTyping(ctx context.Context, sessionID, username string) error {
	user, err := h.typingUser(sessionID, username)
	if err != nil {
		return err
	}
	h.typing.Start(ctx, user)
	return nil
}

// StopTyping clears the session's user from the typing set.
func (h *Hub) StopTyping(ctx context.Context, sessionID, username string) error {
	user, err := h.typingUser(sessionID, username)
	if err != nil {
		return err
	}
	h.typing.Stop(ctx, user)
	return nil
}

// SetMessageStatus updates a message status.
func (h *Hub) SetMessageStatus(ctx context.Context, messageID string, status store.MessageStatus) error {
	return h.pipeline.UpdateStatus(ctx, messageID, status)
}

// DeleteMessage removes a message.
func (h *Hub) DeleteMessage(ctx context.Context, messageID string) error {
	return h.pipeline.Delete(ctx, messageID)
}

// Pong records a liveness acknowledgment.
func (h *Hub) Pong(sessionID string) {
	h.registry.Ack(sessionID)
}

// Disconnect removes the session. If it still owned its username, the user
// stops typing, goes offline, and one logout event is broadcast.
func (h *Hub) Disconnect(ctx context.Context, sessionID, reason string) {
	ctx = context.WithoutCancel(ctx)

	s := h.registry.Get(sessionID)
	if s == nil {
		return
	}
	locked := s.Username()
	if locked != "" {
		unlock := h.locks.Lock(locked)
		defer unlock()
	}

	username, wasBound := h.registry.Unregister(sessionID)
	if !wasBound {
		return
	}
	if username != locked {
		// A login bound the session after we looked; wait for it to finish.
		unlock := h.locks.Lock(username)
		defer unlock()
	}

	h.typing.Stop(ctx, username)
	if err := h.presence.MarkOffline(ctx, username); err != nil {
		h.log.Warn().Err(err).Str("username", username).Msg("mark offline on disconnect")
	}
	h.log.Info().Str("session_id", sessionID).Str("username", username).Str("reason", reason).Msg("user disconnected")
}

// Run drives the broadcast channel, liveness probes and stale-presence
// sweeps until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.bus.Run(ctx)
	})
	g.Go(func() error {
		h.loop(ctx)
		return nil
	})
	return g.Wait()
}

func (h *Hub) loop(ctx context.Context) {
	heartbeat := time.NewTicker(h.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(h.opts.SweepInterval)
	defer sweep.Stop()

	h.safely("sweep", func() { h.Sweep(ctx) })

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-heartbeat.C:
			h.safely("heartbeat", func() { h.Probe(now) })
			h.safely("refresh", func() { h.presence.Refresh(ctx) })
		case <-sweep.C:
			h.safely("sweep", func() { h.Sweep(ctx) })
		}
	}
}

// Probe runs one liveness round. Sessions that time out are closed and are
// torn down by their transport like any other disconnect.
func (h *Hub) Probe(now time.Time) {
	for _, s := range h.registry.Probe(now) {
		h.log.Info().Str("session_id", s.ID).Str("username", s.Username()).Msg("session timed out")
	}
}

// Sweep runs one stale-presence sweep.
func (h *Hub) Sweep(ctx context.Context) {
	if _, err := h.presence.Sweep(ctx); err != nil {
		h.log.Error().Err(err).Msg("presence sweep failed")
	}
}

func (h *Hub) safely(task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("task", task).Msg("recovered from panic")
		}
	}()
	fn()
}

// boundUser returns the username the session owns in the registry. An
// evicted session keeps its name but no longer owns it.
func (h *Hub) boundUser(sessionID string) (string, error) {
	s := h.registry.Get(sessionID)
	if s == nil || s.Closed() {
		return "", ErrSessionNotFound
	}
	bound := s.Username()
	if bound == "" {
		return "", nil
	}
	if h.registry.Lookup(bound) != s {
		return "", ErrNotLoggedIn
	}
	return bound, nil
}

func (h *Hub) resolveSender(sessionID, username string) (string, error) {
	bound, err := h.boundUser(sessionID)
	if err != nil {
		return "", err
	}
	if bound == "" {
		return username, nil
	}
	if username != "" && username != bound {
		return "", ErrSenderMismatch
	}
	return bound, nil
}

func (h *Hub) typingUser(sessionID, username string) (string, error) {
	bound, err := h.boundUser(sessionID)
	if err != nil {
		return "", err
	}
	if bound == "" {
		return "", ErrNotLoggedIn
	}
	if username != "" && username != bound {
		return "", ErrSenderMismatch
	}
	return bound, nil
}
