package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// UpsertOnline creates or updates the user as online with the given session.
func (s *Store) UpsertOnline(ctx context.Context, username, sessionID string, at time.Time) error {
	query := s.rebind(`
		INSERT INTO users (username, session_id, online, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			session_id = excluded.session_id,
			online = excluded.online,
			last_seen = excluded.last_seen
	`)
	if _, err := s.db.ExecContext(ctx, query, username, sessionID, true, toMillis(at)); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// MarkOffline sets the user offline and clears its session.
func (s *Store) MarkOffline(ctx context.Context, username string, at time.Time) error {
	query := s.rebind(`
		UPDATE users
		SET online = ?, session_id = NULL, last_seen = ?
		WHERE username = ?
	`)
	result, err := s.db.ExecContext(ctx, query, false, toMillis(at), username)
	if err != nil {
		return fmt.Errorf("mark user offline: %w", err)
	}
	return requireAffected(result, "user "+username)
}

// MarkStaleOffline sets the user offline if it is still online and was last
// seen before cutoff.
func (s *Store) MarkStaleOffline(ctx context.Context, username string, cutoff, at time.Time) error {
	query := s.rebind(`
		UPDATE users
		SET online = ?, session_id = NULL, last_seen = ?
		WHERE username = ? AND online = ? AND last_seen < ?
	`)
	result, err := s.db.ExecContext(ctx, query, false, toMillis(at), username, true, toMillis(cutoff))
	if err != nil {
		return fmt.Errorf("mark stale user offline: %w", err)
	}
	return requireAffected(result, "stale user "+username)
}

// TouchOnline refreshes last seen for a user still online with sessionID.
func (s *Store) TouchOnline(ctx context.Context, username, sessionID string, at time.Time) error {
	query := s.rebind(`
		UPDATE users
		SET last_seen = ?
		WHERE username = ? AND session_id = ? AND online = ?
	`)
	result, err := s.db.ExecContext(ctx, query, toMillis(at), username, sessionID, true)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return requireAffected(result, "online user "+username)
}

// GetUser retrieves a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (*store.User, error) {
	query := s.rebind(`
		SELECT username, COALESCE(session_id, ''), online, last_seen
		FROM users
		WHERE username = ?
	`)

	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// ListStaleOnline lists users flagged online whose last seen is before cutoff.
func (s *Store) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*store.User, error) {
	query := s.rebind(`
		SELECT username, COALESCE(session_id, ''), online, last_seen
		FROM users
		WHERE online = ? AND last_seen < ?
		ORDER BY username
	`)

	rows, err := s.db.QueryContext(ctx, query, true, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query stale users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		user     store.User
		lastSeen int64
	)
	if err := row.Scan(&user.Username, &user.SessionID, &user.Online, &lastSeen); err != nil {
		return nil, err
	}
	user.LastSeen = fromMillis(lastSeen)
	return &user, nil
}
