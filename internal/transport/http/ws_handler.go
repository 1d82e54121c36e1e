package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Hub sessions.
type WSHandler struct {
	hub             *core.Hub
	maxMessageBytes int64
	rateLimit       int
	log             *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. rateLimit caps inbound
// requests per connection per minute; zero disables it.
func NewWSHandler(hub *core.Hub, maxMessageBytes int64, rateLimit int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, maxMessageBytes: maxMessageBytes, rateLimit: rateLimit, log: logger}
}

// sessionClosedError reports that the hub closed the session.
type sessionClosedError struct {
	reason string
}

func (e *sessionClosedError) Error() string { return "session closed: " + e.reason }

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	session := h.hub.Connect(ctx, uuid.NewString())
	reason := "client disconnected"
	defer func() {
		h.hub.Disconnect(context.WithoutCancel(ctx), session.ID, reason)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	var closed *sessionClosedError
	if errors.As(err, &closed) || session.Closed() {
		// The write loop already closed the socket with the reason.
		reason = session.CloseReason()
		return
	}

	status := websocket.StatusNormalClosure
	closeReason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			closeReason = err.Error()
			reason = closeReason
			h.log.Warn().Err(err).Str("session_id", session.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, closeReason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	limiter := newRateLimiter(h.rateLimit, time.Minute)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.log.Debug().Err(err).Str("session_id", session.ID).Msg("read ws inbound")
			}
			return err
		}

		if inbound.Type != proto.InboundTypePong && !limiter.allow() {
			if err := h.reply(ctx, conn, inbound, nil, &proto.Error{Code: proto.ErrCodeRateLimited, Msg: "too many requests"}); err != nil {
				return err
			}
			continue
		}

		data, protoErr := h.dispatch(ctx, session, inbound)
		if err := h.reply(ctx, conn, inbound, data, protoErr); err != nil {
			return err
		}
	}
}

// reply answers one inbound request. Requests with an id always get one
// ack. Without an id only failures are reported, as error envelopes, except
// loadHistory which is answered with a messageHistory event.
func (h *WSHandler) reply(ctx context.Context, conn *websocket.Conn, in proto.Inbound, data any, protoErr *proto.Error) error {
	if in.ID != "" {
		if protoErr != nil {
			data = proto.Result{Error: protoErr.Msg, Code: protoErr.Code}
		}
		if data == nil {
			data = proto.Result{Success: true}
		}
		return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeAck, ID: in.ID, Data: data})
	}

	if protoErr == nil {
		protoErr = failureOf(data)
	}
	if protoErr != nil {
		return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr})
	}
	if in.Type == proto.InboundTypeLoadHistory && data != nil {
		return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeEvent, Event: core.EventMessageHistory, Data: data})
	}
	return nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		select {
		case ev := <-session.Events():
			if err := wsjson.Write(ctx, conn, outboundFromEvent(ev)); err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID).Msg("write ws event")
				return err
			}
		case <-session.Done():
			return h.closeSession(ctx, conn, session)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// closeSession flushes events queued before the hub closed the session,
// such as forcedLogout, then closes the socket with the close reason.
func (h *WSHandler) closeSession(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for drained := false; !drained; {
		select {
		case ev := <-session.Events():
			if err := wsjson.Write(ctx, conn, outboundFromEvent(ev)); err != nil {
				return err
			}
		default:
			drained = true
		}
	}

	reason := session.CloseReason()
	if err := conn.Close(websocket.StatusPolicyViolation, reason); err != nil {
		h.log.Debug().Err(err).Str("session_id", session.ID).Msg("close ws")
	}
	return &sessionClosedError{reason: reason}
}
