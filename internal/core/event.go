package core

import "time"

// Names of events pushed to sessions.
const (
	EventMessageHistory = "messageHistory"
	EventNewMessage     = "newMessage"
	EventStatusUpdate   = "statusUpdate"
	EventMessageDeleted = "messageDeleted"
	EventTypingUpdate   = "typingUpdate"
	EventPresenceUpdate = "presenceUpdate"
	EventForcedLogout   = "forcedLogout"
	EventPing           = "ping"
)

// PresenceType describes why a presence update was emitted.
type PresenceType string

const (
	PresenceLogin    PresenceType = "login"
	PresenceLogout   PresenceType = "logout"
	PresenceCleanup  PresenceType = "cleanup"
	PresenceSnapshot PresenceType = "snapshot"
)

// FilePayload is the wire form of a file attachment.
type FilePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// MessagePayload is the wire form of a chat message.
type MessagePayload struct {
	ID              string       `json:"id"`
	Username        string       `json:"username"`
	Message         *string      `json:"message,omitempty"`
	File            *FilePayload `json:"file,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
	ClientTimestamp *time.Time   `json:"clientTimestamp,omitempty"`
	Status          string       `json:"status"`
}

// HistoryPayload carries an ordered window of messages, oldest first.
type HistoryPayload struct {
	Messages []MessagePayload `json:"messages"`
}

// StatusPayload notifies a message status change.
type StatusPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// DeletedPayload notifies a message deletion.
type DeletedPayload struct {
	MessageID string `json:"messageId"`
}

// TypingPayload carries the full set of typing usernames.
type TypingPayload struct {
	Users []string `json:"users"`
}

// PresencePayload notifies clients of peers joining or leaving.
type PresencePayload struct {
	Type        PresenceType `json:"type"`
	Username    string       `json:"username,omitempty"`
	Usernames   []string     `json:"usernames,omitempty"`
	OnlineUsers []string     `json:"onlineUsers"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ForcedLogoutPayload tells a session it was replaced or timed out.
type ForcedLogoutPayload struct {
	Reason string `json:"reason"`
}

// PingPayload is a liveness probe; clients answer with pong.
type PingPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
