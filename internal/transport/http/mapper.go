package http

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vovakirdan/wirechat-relay/internal/broadcast"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// dispatch runs one inbound request against the hub and returns the ack
// data. Domain failures are reported inside the ack data; a non-nil
// *proto.Error means the request itself could not be understood.
func (h *WSHandler) dispatch(ctx context.Context, session *core.Session, in proto.Inbound) (data any, protoErr *proto.Error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("session_id", session.ID).Str("type", in.Type).Msg("recovered from panic in dispatch")
			data, protoErr = nil, &proto.Error{Code: core.ErrCodeInternal, Msg: "internal error"}
		}
	}()

	switch in.Type {
	case proto.InboundTypeLogin:
		var req proto.LoginData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		res, err := h.hub.Login(ctx, session.ID, req.Username, req.Force)
		if err != nil {
			return proto.LoginAck{Result: failure(err)}, nil
		}
		return proto.LoginAck{Result: proto.Result{Success: true}, Username: res.Username, Token: res.Token}, nil

	case proto.InboundTypeValidateUsername:
		var req proto.ValidateUsernameData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		check, err := h.hub.ValidateUsername(ctx, req.Username)
		if err != nil {
			return failure(err), nil
		}
		return usernameCheckToProto(check), nil

	case proto.InboundTypeLoadHistory:
		var req proto.LoadHistoryData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		msgs, err := h.hub.LoadHistory(ctx, req.Limit, req.Skip)
		if err != nil {
			return failure(err), nil
		}
		return core.ToHistoryPayload(msgs), nil

	case proto.InboundTypeSendMessage, proto.InboundTypeUploadFile:
		var req proto.SendMessageData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		if in.Type == proto.InboundTypeUploadFile && req.File == nil {
			return nil, &proto.Error{Code: proto.ErrCodeBadData, Msg: "file is required"}
		}
		msg, err := h.hub.SendMessage(ctx, session.ID, sendRequestFromProto(req))
		if err != nil {
			return proto.SendAck{Result: failure(err)}, nil
		}
		ts := msg.Timestamp
		return proto.SendAck{Result: proto.Result{Success: true}, ID: msg.ID, Timestamp: &ts, Status: string(msg.Status)}, nil

	case proto.InboundTypeTyping, proto.InboundTypeStopTyping:
		var req proto.TypingData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		var err error
		if in.Type == proto.InboundTypeTyping {
			err = h.hub.StartTyping(ctx, session.ID, req.Username)
		} else {
			err = h.hub.StopTyping(ctx, session.ID, req.Username)
		}
		if err != nil {
			return failure(err), nil
		}
		return proto.Result{Success: true}, nil

	case proto.InboundTypeMessageStatus:
		var req proto.MessageStatusData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		if err := h.hub.SetMessageStatus(ctx, req.MessageID, store.MessageStatus(req.Status)); err != nil {
			return failure(err), nil
		}
		return proto.Result{Success: true}, nil

	case proto.InboundTypeDeleteMessage:
		var req proto.DeleteMessageData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		if err := h.hub.DeleteMessage(ctx, req.MessageID); err != nil {
			return failure(err), nil
		}
		return proto.Result{Success: true}, nil

	case proto.InboundTypePong:
		h.hub.Pong(session.ID)
		return nil, nil

	case "":
		return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "type is required"}
	default:
		return nil, &proto.Error{Code: proto.ErrCodeUnknownType, Msg: "unknown message type: " + in.Type}
	}
}

func decode(raw json.RawMessage, v any) *proto.Error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &proto.Error{Code: proto.ErrCodeBadData, Msg: "malformed data: " + err.Error()}
	}
	return nil
}

// failure converts a hub error into a failed result.
func failure(err error) proto.Result {
	var ce *core.CoreError
	if errors.As(err, &ce) {
		return proto.Result{
			Error:    ce.Message,
			Code:     ce.Code,
			CanForce: ce.Kind == core.KindConflict,
		}
	}
	return proto.Result{Error: "internal error", Code: core.ErrCodeInternal}
}

// failureOf extracts a failed result from ack data, if it is one.
func failureOf(data any) *proto.Error {
	var res proto.Result
	switch v := data.(type) {
	case proto.Result:
		res = v
	case proto.LoginAck:
		res = v.Result
	case proto.SendAck:
		res = v.Result
	default:
		return nil
	}
	if res.Success {
		return nil
	}
	return &proto.Error{Code: res.Code, Msg: res.Error}
}

func sendRequestFromProto(req proto.SendMessageData) core.SendRequest {
	out := core.SendRequest{
		Username:  req.Username,
		Text:      req.Message,
		ID:        req.ID,
		Timestamp: req.Timestamp,
	}
	if req.File != nil {
		out.File = &store.File{
			Name: req.File.Name,
			Type: req.File.Type,
			Size: req.File.Size,
			Data: req.File.Data,
		}
	}
	return out
}

func usernameCheckToProto(check *core.UsernameCheck) proto.UsernameCheck {
	return proto.UsernameCheck{
		Valid:       check.Valid,
		Exists:      check.Exists,
		Online:      check.Online,
		CanTakeOver: check.CanTakeOver,
		LastSeen:    check.LastSeen,
	}
}

func outboundFromEvent(ev broadcast.Event) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: ev.Name,
		Data:  ev.Data,
	}
}
