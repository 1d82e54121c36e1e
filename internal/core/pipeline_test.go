package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

func newTestPipeline(t *testing.T, st store.MessageStore) (*Pipeline, *recordBus, *Typing) {
	t.Helper()
	if st == nil {
		st = newTestStore(t)
	}
	bus := &recordBus{}
	typing := NewTyping(bus, &testLogger)
	return NewPipeline(st, bus, typing, time.Second, 50, 100, &testLogger), bus, typing
}

func TestValidateSend(t *testing.T) {
	atLimit := base64.StdEncoding.EncodeToString(make([]byte, MaxFileSize))
	overLimit := base64.StdEncoding.EncodeToString(make([]byte, MaxFileSize+1))

	cases := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"missing sender", SendRequest{Text: strPtr("hi")}, ErrMissingSender},
		{"missing sender wins over empty", SendRequest{}, ErrMissingSender},
		{"nil text and no file", SendRequest{Username: "bob"}, ErrEmptyMessage},
		{"empty text and no file", SendRequest{Username: "bob", Text: strPtr("")}, ErrEmptyMessage},
		{"text at limit", SendRequest{Username: "bob", Text: strPtr(strings.Repeat("a", MaxTextLength))}, nil},
		{"text over limit", SendRequest{Username: "bob", Text: strPtr(strings.Repeat("a", MaxTextLength+1))}, ErrMessageTooLong},
		{"multibyte text at limit", SendRequest{Username: "bob", Text: strPtr(strings.Repeat("я", MaxTextLength))}, nil},
		{"file at limit", SendRequest{Username: "bob", File: &store.File{Name: "a.bin", Size: MaxFileSize}}, nil},
		{"file over limit", SendRequest{Username: "bob", File: &store.File{Name: "a.bin", Size: MaxFileSize + 1}}, ErrFileTooLarge},
		{"file without text", SendRequest{Username: "bob", Text: strPtr(""), File: &store.File{Name: "a.txt", Size: 3}}, nil},
		{"negative file size", SendRequest{Username: "bob", File: &store.File{Name: "a.bin", Size: -1}}, ErrInvalidFile},
		{"payload at limit", SendRequest{Username: "bob", File: &store.File{Name: "a.bin", Size: MaxFileSize, Data: atLimit}}, nil},
		{"payload over limit with small declared size", SendRequest{Username: "bob", File: &store.File{Name: "a.bin", Size: 1, Data: overLimit}}, ErrFileTooLarge},
		{"data url over limit", SendRequest{Username: "bob", File: &store.File{Name: "a.bin", Size: 1, Data: "data:application/octet-stream;base64," + overLimit}}, ErrFileTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSend(tc.req)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ce *CoreError
			if !errors.As(err, &ce) || ce.Kind != KindValidation {
				t.Fatalf("expected validation error, got %#v", err)
			}
		})
	}
}

func TestPipelineSendAssignsIDAndServerTime(t *testing.T) {
	p, bus, _ := newTestPipeline(t, nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	stale := fixed.Add(-time.Hour)
	msg, err := p.Send(context.Background(), SendRequest{Username: "bob", Text: strPtr("hi"), Timestamp: &stale})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated id")
	}
	if !msg.Timestamp.Equal(fixed) {
		t.Fatalf("expected server timestamp %v, got %v", fixed, msg.Timestamp)
	}
	if msg.ClientTimestamp != nil {
		t.Fatalf("stale client timestamp should be dropped, got %v", msg.ClientTimestamp)
	}
	if msg.Status != store.StatusSent {
		t.Fatalf("expected status sent, got %s", msg.Status)
	}

	names := bus.names()
	want := []string{EventNewMessage, EventStatusUpdate, EventTypingUpdate}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, names)
	}
	ev, _ := bus.last(EventNewMessage)
	if ev.Data.(MessagePayload).Status != string(store.StatusSending) {
		t.Fatalf("new message should be broadcast as sending, got %+v", ev.Data)
	}
}

func TestPipelineSendTimestampMatchesHistory(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	p.now = func() time.Time { return fixed }

	msg, err := p.Send(ctx, SendRequest{Username: "bob", Text: strPtr("hi")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Timestamp.Nanosecond() != 123000000 {
		t.Fatalf("expected millisecond timestamp, got %v", msg.Timestamp)
	}

	history, err := p.History(ctx, 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || !history[0].Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("stored timestamp differs from sent one: %v vs %+v", msg.Timestamp, history)
	}
}

func TestPipelineSendKeepsRecentClientTimestamp(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	hint := fixed.Add(-2 * time.Second)
	msg, err := p.Send(context.Background(), SendRequest{Username: "bob", Text: strPtr("hi"), Timestamp: &hint})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ClientTimestamp == nil || !msg.ClientTimestamp.Equal(hint) {
		t.Fatalf("expected client timestamp %v, got %v", hint, msg.ClientTimestamp)
	}
	if !msg.Timestamp.Equal(fixed) {
		t.Fatalf("server timestamp must not follow the client, got %v", msg.Timestamp)
	}

	future := fixed.Add(time.Minute)
	msg, err = p.Send(context.Background(), SendRequest{Username: "bob", Text: strPtr("hi"), Timestamp: &future})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ClientTimestamp != nil {
		t.Fatalf("future client timestamp should be dropped, got %v", msg.ClientTimestamp)
	}
}

func TestPipelineSendClientIDCollision(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	first, err := p.Send(ctx, SendRequest{Username: "bob", Text: strPtr("one"), ID: "client-1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if first.ID != "client-1" {
		t.Fatalf("expected client id to be honored, got %s", first.ID)
	}

	second, err := p.Send(ctx, SendRequest{Username: "alice", Text: strPtr("two"), ID: "client-1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if second.ID == "client-1" || second.ID == "" {
		t.Fatalf("expected a fresh id, got %q", second.ID)
	}

	history, err := p.History(ctx, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected both messages persisted, got %d", len(history))
	}
	if history[0].Text == nil || *history[0].Text != "one" {
		t.Fatalf("first message was overwritten: %+v", history[0])
	}
}

func TestPipelineSendRejectedIsNotPersisted(t *testing.T) {
	p, bus, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	_, err := p.Send(ctx, SendRequest{Username: "bob", Text: strPtr(strings.Repeat("a", MaxTextLength+1))})
	if !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if names := bus.names(); len(names) != 0 {
		t.Fatalf("rejected send broadcast events: %v", names)
	}
	history, err := p.History(ctx, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("rejected send persisted %d messages", len(history))
	}
}

func TestPipelineSendClearsTyping(t *testing.T) {
	p, _, typing := newTestPipeline(t, nil)
	ctx := context.Background()

	typing.Start(ctx, "bob")
	typing.Start(ctx, "alice")
	if _, err := p.Send(ctx, SendRequest{Username: "bob", Text: strPtr("done")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if typing.Contains("bob") {
		t.Fatal("sender should no longer be typing")
	}
	if !typing.Contains("alice") {
		t.Fatal("other typers must be untouched")
	}
}

type failingInsertStore struct {
	store.MessageStore
}

func (failingInsertStore) InsertMessage(context.Context, *store.Message) error {
	return errors.New("disk full")
}

func TestPipelineSendStoreFailure(t *testing.T) {
	p, bus, _ := newTestPipeline(t, failingInsertStore{MessageStore: newTestStore(t)})

	_, err := p.Send(context.Background(), SendRequest{Username: "bob", Text: strPtr("hi")})
	var ce *CoreError
	if !errors.As(err, &ce) || ce.Kind != KindStore {
		t.Fatalf("expected store error, got %v", err)
	}
	if names := bus.names(); len(names) != 0 {
		t.Fatalf("failed send broadcast events: %v", names)
	}
}

func TestPipelineHistoryOrderAndLimit(t *testing.T) {
	st := newTestStore(t)
	p, _, _ := newTestPipeline(t, st)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		text := fmt.Sprintf("message %d", i)
		msg := &store.Message{
			ID:        fmt.Sprintf("id-%03d", i),
			Username:  "bob",
			Text:      &text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Status:    store.StatusSent,
		}
		if err := st.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	msgs, err := p.History(ctx, 500, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 100 {
		t.Fatalf("expected limit capped at 100, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Fatalf("history not ordered oldest first at %d", i)
		}
	}
	if want := base.Add(119 * time.Second); !msgs[len(msgs)-1].Timestamp.Equal(want) {
		t.Fatalf("expected newest last, got %v", msgs[len(msgs)-1].Timestamp)
	}

	msgs, err = p.History(ctx, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 50 {
		t.Fatalf("expected default limit 50, got %d", len(msgs))
	}

	msgs, err = p.History(ctx, 10, 115)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 remaining messages, got %d", len(msgs))
	}
	if !msgs[0].Timestamp.Equal(base) {
		t.Fatalf("expected oldest message first, got %v", msgs[0].Timestamp)
	}
}

func TestPipelineStatusAndDelete(t *testing.T) {
	p, bus, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	msg, err := p.Send(ctx, SendRequest{Username: "bob", Text: strPtr("hi")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := p.UpdateStatus(ctx, msg.ID, store.StatusRead); err != nil {
		t.Fatalf("update status: %v", err)
	}
	ev, _ := bus.last(EventStatusUpdate)
	if got := ev.Data.(StatusPayload); got.MessageID != msg.ID || got.Status != "read" {
		t.Fatalf("unexpected status payload: %+v", got)
	}

	if err := p.UpdateStatus(ctx, msg.ID, "bogus"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := p.UpdateStatus(ctx, "nope", store.StatusRead); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	if err := p.UpdateStatus(ctx, "", store.StatusRead); !errors.Is(err, ErrMissingMessageID) {
		t.Fatalf("expected ErrMissingMessageID, got %v", err)
	}

	if err := p.Delete(ctx, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev, _ = bus.last(EventMessageDeleted)
	if got := ev.Data.(DeletedPayload); got.MessageID != msg.ID {
		t.Fatalf("unexpected delete payload: %+v", got)
	}
	if err := p.Delete(ctx, msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound on second delete, got %v", err)
	}
}
