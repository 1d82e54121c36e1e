package core

import "fmt"

// ErrorKind classifies domain errors by how callers should react.
type ErrorKind string

const (
	// KindValidation marks bad input shape or size; reported, never retried.
	KindValidation ErrorKind = "validation"
	// KindConflict marks a username that is already online; retry with force.
	KindConflict ErrorKind = "conflict"
	// KindNotFound marks operations on a missing message, user or session.
	KindNotFound ErrorKind = "not_found"
	// KindStore marks a durable store failure; the caller may resubmit.
	KindStore ErrorKind = "store"
)

// Error codes for domain errors.
const (
	ErrCodeMissingSender    = "missing_sender"
	ErrCodeEmptyMessage     = "empty_message"
	ErrCodeMessageTooLong   = "message_too_long"
	ErrCodeFileTooLarge     = "file_too_large"
	ErrCodeInvalidFile      = "invalid_file"
	ErrCodeInvalidUsername  = "invalid_username"
	ErrCodeInvalidStatus    = "invalid_status"
	ErrCodeMissingMessageID = "missing_message_id"
	ErrCodeAlreadyBound     = "already_bound"
	ErrCodeNotLoggedIn      = "not_logged_in"
	ErrCodeSenderMismatch   = "sender_mismatch"
	ErrCodeAlreadyOnline    = "already_online"
	ErrCodeMessageNotFound  = "message_not_found"
	ErrCodeSessionNotFound  = "session_not_found"
	ErrCodeStoreFailure     = "store_failure"
	ErrCodeInternal         = "internal_error"
)

var (
	ErrMissingSender    = validationError(ErrCodeMissingSender, "username is required")
	ErrEmptyMessage     = validationError(ErrCodeEmptyMessage, "message must contain text or a file")
	ErrMessageTooLong   = validationError(ErrCodeMessageTooLong, fmt.Sprintf("message exceeds %d characters", MaxTextLength))
	ErrFileTooLarge     = validationError(ErrCodeFileTooLarge, fmt.Sprintf("file exceeds %d bytes", MaxFileSize))
	ErrInvalidFile      = validationError(ErrCodeInvalidFile, "file size must not be negative")
	ErrInvalidUsername  = validationError(ErrCodeInvalidUsername, fmt.Sprintf("username must be %d-%d characters", MinUsernameLength, MaxUsernameLength))
	ErrInvalidStatus    = validationError(ErrCodeInvalidStatus, "unknown message status")
	ErrMissingMessageID = validationError(ErrCodeMissingMessageID, "messageId is required")
	ErrAlreadyBound     = validationError(ErrCodeAlreadyBound, "session is already logged in as another user")
	ErrNotLoggedIn      = validationError(ErrCodeNotLoggedIn, "login required")
	ErrSenderMismatch   = validationError(ErrCodeSenderMismatch, "username does not match the logged in user")

	ErrAlreadyOnline = &CoreError{Kind: KindConflict, Code: ErrCodeAlreadyOnline, Message: "username is already online"}

	ErrMessageNotFound = &CoreError{Kind: KindNotFound, Code: ErrCodeMessageNotFound, Message: "message not found"}
	ErrSessionNotFound = &CoreError{Kind: KindNotFound, Code: ErrCodeSessionNotFound, Message: "session not found"}
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is matches another CoreError by code so wrapped sentinels compare equal.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func validationError(code, msg string) *CoreError {
	return &CoreError{Kind: KindValidation, Code: code, Message: msg}
}

func storeError(op string, err error) *CoreError {
	return &CoreError{Kind: KindStore, Code: ErrCodeStoreFailure, Message: "failed to " + op, Err: err}
}
