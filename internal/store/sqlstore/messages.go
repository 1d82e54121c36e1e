package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const messageColumns = `id, username, body, file_name, file_type, file_size, file_data, ts, client_ts, status`

// InsertMessage persists a new message.
func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) error {
	query := s.rebind(`
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var (
		body                         sql.NullString
		fileName, fileType, fileData sql.NullString
		fileSize, clientTS           sql.NullInt64
	)
	if msg.Text != nil {
		body = sql.NullString{String: *msg.Text, Valid: true}
	}
	if msg.File != nil {
		fileName = sql.NullString{String: msg.File.Name, Valid: true}
		fileType = sql.NullString{String: msg.File.Type, Valid: true}
		fileSize = sql.NullInt64{Int64: msg.File.Size, Valid: true}
		fileData = sql.NullString{String: msg.File.Data, Valid: true}
	}
	if msg.ClientTimestamp != nil {
		clientTS = sql.NullInt64{Int64: toMillis(*msg.ClientTimestamp), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Username,
		body,
		fileName,
		fileType,
		fileSize,
		fileData,
		toMillis(msg.Timestamp),
		clientTS,
		string(msg.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert message %s: %w", msg.ID, store.ErrDuplicateID)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessageExists reports whether a message with the given ID is persisted.
func (s *Store) MessageExists(ctx context.Context, id string) (bool, error) {
	query := s.rebind(`SELECT 1 FROM messages WHERE id = ?`)

	var one int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query message: %w", err)
	}
	return true, nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := s.rebind(`SELECT ` + messageColumns + ` FROM messages WHERE id = ?`)

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// UpdateMessageStatus sets the status of a message.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status store.MessageStatus) error {
	query := s.rebind(`UPDATE messages SET status = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return requireAffected(result, "message "+id)
}

// DeleteMessage removes a message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM messages WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(result, "message "+id)
}

// ListMessages returns up to limit messages newest-first, skipping the newest skip.
func (s *Store) ListMessages(ctx context.Context, limit, skip int) ([]*store.Message, error) {
	query := s.rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		ORDER BY ts DESC, seq DESC
		LIMIT ? OFFSET ?
	`)

	rows, err := s.db.QueryContext(ctx, query, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg                          store.Message
		body                         sql.NullString
		fileName, fileType, fileData sql.NullString
		fileSize, clientTS           sql.NullInt64
		ts                           int64
		status                       string
	)
	if err := row.Scan(
		&msg.ID,
		&msg.Username,
		&body,
		&fileName,
		&fileType,
		&fileSize,
		&fileData,
		&ts,
		&clientTS,
		&status,
	); err != nil {
		return nil, err
	}

	if body.Valid {
		text := body.String
		msg.Text = &text
	}
	if fileSize.Valid {
		msg.File = &store.File{
			Name: fileName.String,
			Type: fileType.String,
			Size: fileSize.Int64,
			Data: fileData.String,
		}
	}
	msg.Timestamp = fromMillis(ts)
	if clientTS.Valid {
		t := fromMillis(clientTS.Int64)
		msg.ClientTimestamp = &t
	}
	msg.Status = store.MessageStatus(status)

	return &msg, nil
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
