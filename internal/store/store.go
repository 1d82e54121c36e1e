package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when a message ID is already persisted.
	ErrDuplicateID = errors.New("duplicate message id")
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// File is an opaque attachment carried by a message.
type File struct {
	Name string
	Type string
	Size int64
	Data string
}

// Message represents a persisted chat message.
type Message struct {
	ID       string
	Username string
	Text     *string // nil when the message is file-only
	File     *File
	// Timestamp is assigned by the server on receipt.
	Timestamp time.Time
	// ClientTimestamp is the sender's clock, kept only as a display hint.
	ClientTimestamp *time.Time
	Status          MessageStatus
}

// User is the durable presence record for a username.
type User struct {
	Username  string
	SessionID string // empty when offline
	Online    bool
	LastSeen  time.Time
}

// MessageStore handles message persistence.
type MessageStore interface {
	// InsertMessage persists a new message. Returns ErrDuplicateID if the ID is taken.
	InsertMessage(ctx context.Context, msg *Message) error

	// MessageExists reports whether a message with the given ID is persisted.
	MessageExists(ctx context.Context, id string) (bool, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// UpdateMessageStatus sets the status of a message. Returns ErrNotFound if missing.
	UpdateMessageStatus(ctx context.Context, id string, status MessageStatus) error

	// DeleteMessage removes a message. Returns ErrNotFound if missing.
	DeleteMessage(ctx context.Context, id string) error

	// ListMessages returns up to limit messages newest-first, skipping the newest skip.
	ListMessages(ctx context.Context, limit, skip int) ([]*Message, error)
}

// UserStore handles user presence persistence.
type UserStore interface {
	// UpsertOnline creates or updates the user as online with the given session.
	UpsertOnline(ctx context.Context, username, sessionID string, at time.Time) error

	// MarkOffline sets the user offline and clears its session.
	MarkOffline(ctx context.Context, username string, at time.Time) error

	// MarkStaleOffline sets the user offline only if it is still flagged
	// online with a last seen before cutoff. Returns ErrNotFound otherwise.
	MarkStaleOffline(ctx context.Context, username string, cutoff, at time.Time) error

	// TouchOnline moves last seen to at while the user is online with
	// sessionID. Returns ErrNotFound if the record no longer matches.
	TouchOnline(ctx context.Context, username, sessionID string, at time.Time) error

	// GetUser retrieves a user by username. Returns ErrNotFound if missing.
	GetUser(ctx context.Context, username string) (*User, error)

	// ListStaleOnline lists users flagged online whose last seen is before cutoff.
	ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*User, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	UserStore

	// Close closes the underlying database connection.
	Close() error
}
