package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub: hub,
		log: logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PresenceResponse lists who is online and who is typing.
type PresenceResponse struct {
	OnlineUsers []string `json:"onlineUsers"`
	TypingUsers []string `json:"typingUsers"`
}

// GetUser reports whether a username is valid, known and online.
// GET /api/users/:username
func (h *APIHandlers) GetUser(c *gin.Context) {
	username := c.Param("username")

	check, err := h.hub.ValidateUsername(c.Request.Context(), username)
	if err != nil {
		h.log.Error().Err(err).Str("username", username).Msg("failed to check username")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, usernameCheckToProto(check))
}

// ListMessages returns a window of history, oldest first.
// GET /api/messages?limit=50&skip=0
func (h *APIHandlers) ListMessages(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return
	}
	skip, err := queryInt(c, "skip")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid skip"})
		return
	}

	msgs, err := h.hub.LoadHistory(c.Request.Context(), limit, skip)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, core.ToHistoryPayload(msgs))
}

// GetPresence returns the online and typing users.
// GET /api/presence
func (h *APIHandlers) GetPresence(c *gin.Context) {
	c.JSON(http.StatusOK, PresenceResponse{
		OnlineUsers: h.hub.Presence().Snapshot(),
		TypingUsers: h.hub.Typing().Snapshot(),
	})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
