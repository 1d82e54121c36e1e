package core

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Presence owns the online set and the persisted last-seen records.
type Presence struct {
	store    store.UserStore
	bus      broadcast.Bus
	registry *Registry
	locks    *keyedMutex
	log      *zerolog.Logger

	staleThreshold time.Duration
	storeTimeout   time.Duration
	now            func() time.Time

	// pub orders broadcasts; mu guards online and is never held across Publish.
	pub    sync.Mutex
	mu     sync.Mutex
	online map[string]string // username -> session id
}

// NewPresence creates a presence tracker backed by st.
func NewPresence(st store.UserStore, bus broadcast.Bus, registry *Registry, locks *keyedMutex, staleThreshold, storeTimeout time.Duration, logger *zerolog.Logger) *Presence {
	return &Presence{
		store:          st,
		bus:            bus,
		registry:       registry,
		locks:          locks,
		log:            logger,
		staleThreshold: staleThreshold,
		storeTimeout:   storeTimeout,
		now:            time.Now,
		online:         make(map[string]string),
	}
}

// MarkOnline persists the user as online with sessionID and broadcasts a login event.
func (p *Presence) MarkOnline(ctx context.Context, username, sessionID string) error {
	now := p.now()

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()
	if err := p.store.UpsertOnline(sctx, username, sessionID, now); err != nil {
		return storeError("mark user online", err)
	}

	p.pub.Lock()
	defer p.pub.Unlock()

	p.mu.Lock()
	p.online[username] = sessionID
	users := p.snapshotLocked()
	p.mu.Unlock()

	p.publish(ctx, PresencePayload{
		Type:        PresenceLogin,
		Username:    username,
		Usernames:   []string{username},
		OnlineUsers: users,
		Timestamp:   now,
	})
	return nil
}

// MarkOffline persists the user as offline and broadcasts a logout event.
// The in-memory state and the broadcast change even if the store write
// fails; the record then stays flagged online and the next sweep clears it.
func (p *Presence) MarkOffline(ctx context.Context, username string) error {
	now := p.now()

	p.pub.Lock()
	p.mu.Lock()
	delete(p.online, username)
	users := p.snapshotLocked()
	p.mu.Unlock()

	p.publish(ctx, PresencePayload{
		Type:        PresenceLogout,
		Username:    username,
		Usernames:   []string{username},
		OnlineUsers: users,
		Timestamp:   now,
	})
	p.pub.Unlock()

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()
	if err := p.store.MarkOffline(sctx, username, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		return storeError("mark user offline", err)
	}
	return nil
}

// Snapshot returns the sorted online usernames.
func (p *Presence) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// IsOnline reports whether username is in the online set.
func (p *Presence) IsOnline(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[username]
	return ok
}

// LastSeen returns the persisted record for username.
func (p *Presence) LastSeen(ctx context.Context, username string) (*store.User, error) {
	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()

	user, err := p.store.GetUser(sctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, storeError("load user", err)
	}
	return user, nil
}

// Refresh moves last seen forward for every user online on this instance, so
// sweeps running elsewhere against the same store never find them stale.
func (p *Presence) Refresh(ctx context.Context) {
	p.mu.Lock()
	owned := make(map[string]string, len(p.online))
	maps.Copy(owned, p.online)
	p.mu.Unlock()

	now := p.now()
	for username, sessionID := range owned {
		sctx, cancel := storeContext(ctx, p.storeTimeout)
		err := p.store.TouchOnline(sctx, username, sessionID, now)
		cancel()
		switch {
		case errors.Is(err, store.ErrNotFound):
			p.log.Debug().Str("username", username).Msg("refresh: record taken over or cleared")
		case err != nil:
			p.log.Warn().Err(err).Str("username", username).Msg("refresh last seen")
		}
	}
}

// Sweep forces offline every persisted user still flagged online whose last
// seen is older than the stale threshold and who has no live session here.
// The store write only applies while the record is still stale, so a user
// refreshed in the meantime is kept. One cleanup event lists all affected
// users. Returns the affected usernames.
func (p *Presence) Sweep(ctx context.Context) ([]string, error) {
	now := p.now()
	cutoff := now.Add(-p.staleThreshold)

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	stale, err := p.store.ListStaleOnline(sctx, cutoff)
	cancel()
	if err != nil {
		return nil, storeError("list stale users", err)
	}

	var cleaned []string
	for _, user := range stale {
		if p.cleanup(ctx, user.Username, cutoff, now) {
			cleaned = append(cleaned, user.Username)
		}
	}

	if len(cleaned) == 0 {
		return nil, nil
	}

	p.pub.Lock()
	p.publish(ctx, PresencePayload{
		Type:        PresenceCleanup,
		Usernames:   cleaned,
		OnlineUsers: p.Snapshot(),
		Timestamp:   now,
	})
	p.pub.Unlock()

	p.log.Info().Strs("usernames", cleaned).Msg("stale users marked offline")
	return cleaned, nil
}

func (p *Presence) cleanup(ctx context.Context, username string, cutoff, now time.Time) bool {
	unlock := p.locks.Lock(username)
	defer unlock()

	if p.registry.Lookup(username) != nil {
		return false
	}

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()
	if err := p.store.MarkStaleOffline(sctx, username, cutoff, now); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.log.Warn().Err(err).Str("username", username).Msg("sweep: mark offline")
		}
		return false
	}

	p.mu.Lock()
	delete(p.online, username)
	p.mu.Unlock()
	return true
}

func (p *Presence) snapshotLocked() []string {
	users := make([]string, 0, len(p.online))
	for u := range p.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// publish must be called with pub held.
func (p *Presence) publish(ctx context.Context, payload PresencePayload) {
	pctx, cancel := publishContext(ctx)
	defer cancel()
	ev := broadcast.Event{Name: EventPresenceUpdate, Data: payload}
	if err := p.bus.Publish(pctx, ev); err != nil {
		p.log.Warn().Err(err).Str("type", string(payload.Type)).Msg("publish presence update")
	}
}

// storeContext bounds a store call by timeout. It is detached from the
// caller's cancellation so a disconnect does not abort a write midway.
func storeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// publishContext bounds a broadcast the same way.
func publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
}
