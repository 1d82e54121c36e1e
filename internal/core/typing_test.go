package core

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestTypingStartStopBroadcastsFullSet(t *testing.T) {
	bus := &recordBus{}
	typing := NewTyping(bus, &testLogger)
	ctx := context.Background()

	typing.Start(ctx, "bob")
	typing.Start(ctx, "alice")
	got := typing.Start(ctx, "alice")

	if want := []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	ev, ok := bus.last(EventTypingUpdate)
	if !ok {
		t.Fatal("expected typing update")
	}
	if users := ev.Data.(TypingPayload).Users; !reflect.DeepEqual(users, []string{"alice", "bob"}) {
		t.Fatalf("unexpected broadcast set: %v", users)
	}

	typing.Stop(ctx, "alice")
	typing.Stop(ctx, "alice")
	if got := typing.Snapshot(); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("expected [bob], got %v", got)
	}
	if n := len(bus.names()); n != 5 {
		t.Fatalf("expected one broadcast per call, got %d", n)
	}
}

func TestTypingReadsDoNotWaitForPublish(t *testing.T) {
	bus := newStallBus()
	typing := NewTyping(bus, &testLogger)

	done := make(chan struct{})
	go func() {
		typing.Start(context.Background(), "alice")
		close(done)
	}()
	<-bus.entered

	got := make(chan []string, 1)
	go func() { got <- typing.Snapshot() }()
	select {
	case users := <-got:
		if !reflect.DeepEqual(users, []string{"alice"}) {
			t.Fatalf("unexpected snapshot: %v", users)
		}
	case <-time.After(time.Second):
		t.Fatal("snapshot blocked behind a stalled publish")
	}

	close(bus.release)
	<-done
}
