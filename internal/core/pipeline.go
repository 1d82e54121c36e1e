package core

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const (
	// MaxTextLength is the longest accepted text body, in characters.
	MaxTextLength = 2000
	// MaxFileSize is the largest accepted attachment, in bytes.
	MaxFileSize = 5 * 1024 * 1024

	// Client timestamps outside this window are dropped.
	clientClockSkew = 5 * time.Second
	clientClockAge  = 5 * time.Minute

	publishTimeout = 5 * time.Second
)

// SendRequest is a validated-on-send chat message request.
type SendRequest struct {
	Username  string
	Text      *string
	File      *store.File
	ID        string
	Timestamp *time.Time
}

// Pipeline validates, identifies, persists and broadcasts chat messages.
type Pipeline struct {
	store  store.MessageStore
	bus    broadcast.Bus
	typing *Typing
	log    *zerolog.Logger

	storeTimeout time.Duration
	defaultLimit int
	maxLimit     int
	now          func() time.Time
	newID        func() string
}

// NewPipeline creates a message pipeline.
func NewPipeline(st store.MessageStore, bus broadcast.Bus, typing *Typing, storeTimeout time.Duration, defaultLimit, maxLimit int, logger *zerolog.Logger) *Pipeline {
	if maxLimit <= 0 {
		maxLimit = 100
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(50, maxLimit)
	}
	return &Pipeline{
		store:        st,
		bus:          bus,
		typing:       typing,
		log:          logger,
		storeTimeout: storeTimeout,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// ValidateSend checks a request in order: sender, content, text length, file
// size. The file limit applies to both the declared size and the payload.
func ValidateSend(req SendRequest) error {
	if req.Username == "" {
		return ErrMissingSender
	}
	hasText := req.Text != nil && *req.Text != ""
	if !hasText && req.File == nil {
		return ErrEmptyMessage
	}
	if hasText && utf8.RuneCountInString(*req.Text) > MaxTextLength {
		return ErrMessageTooLong
	}
	if req.File != nil {
		if req.File.Size < 0 {
			return ErrInvalidFile
		}
		if req.File.Size > MaxFileSize || attachmentBytes(req.File.Data) > MaxFileSize {
			return ErrFileTooLarge
		}
	}
	return nil
}

// attachmentBytes returns the decoded length of base64 file data, which may
// be wrapped in a data URL.
func attachmentBytes(data string) int64 {
	if strings.HasPrefix(data, "data:") {
		if i := strings.IndexByte(data, ','); i >= 0 {
			data = data[i+1:]
		}
	}
	data = strings.TrimRight(data, "=")
	return int64(base64.RawStdEncoding.DecodedLen(len(data)))
}

// Send persists a message with status sending, broadcasts it, then advances
// it to sent. Nothing is broadcast if the insert fails.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	if err := ValidateSend(req); err != nil {
		return nil, err
	}

	// The store keeps milliseconds; the ack must match what history returns.
	now := p.now().Truncate(time.Millisecond)
	msg := &store.Message{
		Username:        req.Username,
		File:            req.File,
		Timestamp:       now,
		ClientTimestamp: clientHint(req.Timestamp, now),
		Status:          store.StatusSending,
	}
	if req.Text != nil && *req.Text != "" {
		text := *req.Text
		msg.Text = &text
	}

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()

	id, err := p.assignID(sctx, req.ID)
	if err != nil {
		return nil, err
	}
	msg.ID = id

	err = p.store.InsertMessage(sctx, msg)
	if errors.Is(err, store.ErrDuplicateID) && msg.ID == req.ID {
		// Lost a race with another send using the same client ID.
		msg.ID = p.newID()
		err = p.store.InsertMessage(sctx, msg)
	}
	if err != nil {
		return nil, storeError("persist message", err)
	}

	p.publish(ctx, broadcast.Event{Name: EventNewMessage, Data: ToMessagePayload(msg)})

	if err := p.store.UpdateMessageStatus(sctx, msg.ID, store.StatusSent); err != nil {
		p.log.Warn().Err(err).Str("message_id", msg.ID).Msg("advance message to sent")
	} else {
		msg.Status = store.StatusSent
		p.publish(ctx, broadcast.Event{Name: EventStatusUpdate, Data: StatusPayload{MessageID: msg.ID, Status: string(msg.Status)}})
	}

	p.typing.Stop(ctx, msg.Username)

	return msg, nil
}

func (p *Pipeline) assignID(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		return p.newID(), nil
	}
	exists, err := p.store.MessageExists(ctx, clientID)
	if err != nil {
		return "", storeError("check message id", err)
	}
	if exists {
		return p.newID(), nil
	}
	return clientID, nil
}

// clientHint keeps a client timestamp only if it is at most clientClockSkew
// ahead of now and no older than clientClockAge.
func clientHint(ts *time.Time, now time.Time) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	if ts.After(now.Add(clientClockSkew)) || ts.Before(now.Add(-clientClockAge)) {
		return nil
	}
	t := ts.UTC().Truncate(time.Millisecond)
	return &t
}

// History returns up to limit messages ordered oldest to newest, skipping
// the newest skip messages.
func (p *Pipeline) History(ctx context.Context, limit, skip int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = p.defaultLimit
	}
	if limit > p.maxLimit {
		limit = p.maxLimit
	}
	if skip < 0 {
		skip = 0
	}

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()

	msgs, err := p.store.ListMessages(sctx, limit, skip)
	if err != nil {
		return nil, storeError("load history", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UpdateStatus sets a message status and broadcasts the change.
func (p *Pipeline) UpdateStatus(ctx context.Context, id string, status store.MessageStatus) error {
	if id == "" {
		return ErrMissingMessageID
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()

	if err := p.store.UpdateMessageStatus(sctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return storeError("update message status", err)
	}

	p.publish(ctx, broadcast.Event{Name: EventStatusUpdate, Data: StatusPayload{MessageID: id, Status: string(status)}})
	return nil
}

// Delete removes a message and broadcasts the deletion.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingMessageID
	}

	sctx, cancel := storeContext(ctx, p.storeTimeout)
	defer cancel()

	if err := p.store.DeleteMessage(sctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return storeError("delete message", err)
	}

	p.publish(ctx, broadcast.Event{Name: EventMessageDeleted, Data: DeletedPayload{MessageID: id}})
	return nil
}

func (p *Pipeline) publish(ctx context.Context, ev broadcast.Event) {
	pctx, cancel := publishContext(ctx)
	defer cancel()
	if err := p.bus.Publish(pctx, ev); err != nil {
		p.log.Warn().Err(err).Str("event", ev.Name).Msg("publish message event")
	}
}

// ToMessagePayload converts a stored message to its wire form.
func ToMessagePayload(msg *store.Message) MessagePayload {
	payload := MessagePayload{
		ID:              msg.ID,
		Username:        msg.Username,
		Message:         msg.Text,
		Timestamp:       msg.Timestamp,
		ClientTimestamp: msg.ClientTimestamp,
		Status:          string(msg.Status),
	}
	if msg.File != nil {
		payload.File = &FilePayload{
			Name: msg.File.Name,
			Type: msg.File.Type,
			Size: msg.File.Size,
			Data: msg.File.Data,
		}
	}
	return payload
}

// ToHistoryPayload converts an ordered window of messages to its wire form.
func ToHistoryPayload(msgs []*store.Message) HistoryPayload {
	out := make([]MessagePayload, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, ToMessagePayload(msg))
	}
	return HistoryPayload{Messages: out}
}
