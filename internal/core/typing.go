package core

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
)

// Typing tracks usernames that are currently composing a message.
// The set lives only in memory and starts empty on every process start.
type Typing struct {
	// pub orders broadcasts; mu guards users and is never held across Publish.
	pub   sync.Mutex
	mu    sync.Mutex
	users map[string]struct{}
	bus   broadcast.Bus
	log   *zerolog.Logger
}

// NewTyping creates an empty typing tracker.
func NewTyping(bus broadcast.Bus, logger *zerolog.Logger) *Typing {
	return &Typing{
		users: make(map[string]struct{}),
		bus:   bus,
		log:   logger,
	}
}

// Start adds username to the set and broadcasts the full set.
func (t *Typing) Start(ctx context.Context, username string) []string {
	t.pub.Lock()
	defer t.pub.Unlock()

	t.mu.Lock()
	t.users[username] = struct{}{}
	users := t.snapshotLocked()
	t.mu.Unlock()

	t.publish(ctx, users)
	return users
}

// Stop removes username from the set and broadcasts the full set.
func (t *Typing) Stop(ctx context.Context, username string) []string {
	t.pub.Lock()
	defer t.pub.Unlock()

	t.mu.Lock()
	delete(t.users, username)
	users := t.snapshotLocked()
	t.mu.Unlock()

	t.publish(ctx, users)
	return users
}

// Snapshot returns the sorted set of typing usernames.
func (t *Typing) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Contains reports whether username is currently typing.
func (t *Typing) Contains(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.users[username]
	return ok
}

func (t *Typing) snapshotLocked() []string {
	users := make([]string, 0, len(t.users))
	for u := range t.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// publish runs under pub so subscribers never see an older set after a newer one.
func (t *Typing) publish(ctx context.Context, users []string) {
	pctx, cancel := publishContext(ctx)
	defer cancel()
	ev := broadcast.Event{Name: EventTypingUpdate, Data: TypingPayload{Users: users}}
	if err := t.bus.Publish(pctx, ev); err != nil {
		t.log.Warn().Err(err).Msg("publish typing update")
	}
}
