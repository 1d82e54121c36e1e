package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlstore"
)

var testLogger = zerolog.Nop()

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	st, err := sqlstore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestHub(t *testing.T, st store.Store) *Hub {
	t.Helper()
	if st == nil {
		st = newTestStore(t)
	}
	return NewHub(st, Options{}, &testLogger)
}

// recordBus captures published events instead of delivering them.
type recordBus struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (b *recordBus) Publish(_ context.Context, ev broadcast.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *recordBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Name)
	}
	return out
}

func (b *recordBus) last(name string) (broadcast.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Name == name {
			return b.events[i], true
		}
	}
	return broadcast.Event{}, false
}

// stallBus blocks every Publish until release is closed, like a bus whose
// backend has stopped answering.
type stallBus struct {
	entered chan struct{}
	release chan struct{}
}

func newStallBus() *stallBus {
	return &stallBus{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *stallBus) Publish(ctx context.Context, _ broadcast.Event) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *stallBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func mustEvent(t *testing.T, s *Session, name string) broadcast.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-s.Events():
			if ev.Name == name {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %s not received", name)
	return broadcast.Event{}
}

// drain returns every event currently queued for the session.
func drain(s *Session) []broadcast.Event {
	var out []broadcast.Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []broadcast.Event, name string, match func(broadcast.Event) bool) int {
	n := 0
	for _, ev := range events {
		if ev.Name == name && (match == nil || match(ev)) {
			n++
		}
	}
	return n
}

func strPtr(s string) *string { return &s }
