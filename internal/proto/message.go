package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeLogin            = "login"
	InboundTypeValidateUsername = "validateUsername"
	InboundTypeLoadHistory      = "loadHistory"
	InboundTypeSendMessage      = "sendMessage"
	InboundTypeUploadFile       = "uploadFile"
	InboundTypeTyping           = "typing"
	InboundTypeStopTyping       = "stopTyping"
	InboundTypeMessageStatus    = "messageStatus"
	InboundTypeDeleteMessage    = "deleteMessage"
	InboundTypePong             = "pong"

	OutboundTypeAck   = "ack"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Protocol error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeUnknownType = "unknown_type"
	ErrCodeBadData     = "bad_data"
	ErrCodeRateLimited = "rate_limited"
)

// LoginData asks to bind a username to the connection.
type LoginData struct {
	Username string `json:"username"`
	Force    bool   `json:"force,omitempty"`
}

// ValidateUsernameData asks whether a username can be used.
type ValidateUsernameData struct {
	Username string `json:"username"`
}

// LoadHistoryData requests a window of history.
type LoadHistoryData struct {
	Limit int `json:"limit,omitempty"`
	Skip  int `json:"skip,omitempty"`
}

// FileData is an attachment carried inline.
type FileData struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// SendMessageData is a chat message from the client. uploadFile uses the
// same shape with File required.
type SendMessageData struct {
	Username  string     `json:"username"`
	Message   *string    `json:"message,omitempty"`
	File      *FileData  `json:"file,omitempty"`
	ID        string     `json:"id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// TypingData carries the typing user.
type TypingData struct {
	Username string `json:"username"`
}

// MessageStatusData updates a message status.
type MessageStatusData struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// DeleteMessageData removes a message.
type DeleteMessageData struct {
	MessageID string `json:"messageId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Result is the ack data for requests that succeed or fail as a whole.
type Result struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
	CanForce bool   `json:"canForce,omitempty"`
}

// LoginAck acknowledges a login.
type LoginAck struct {
	Result
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
}

// SendAck acknowledges a sendMessage or uploadFile.
type SendAck struct {
	Result
	ID        string     `json:"id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// UsernameCheck answers validateUsername.
type UsernameCheck struct {
	Valid       bool       `json:"valid"`
	Exists      bool       `json:"exists"`
	Online      bool       `json:"online"`
	CanTakeOver bool       `json:"canTakeOver"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
