package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func (e *testEnv) get(t *testing.T, path, token string, out any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestRESTRequiresToken(t *testing.T) {
	env := startTestServer(t)

	if code := env.get(t, "/api/messages", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := env.get(t, "/api/presence", "garbage", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", code)
	}

	token, err := env.tokens.Issue("alice", "s1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code := env.get(t, "/api/messages?limit=abc", token, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}

func TestRESTReadsHubState(t *testing.T) {
	env := startTestServer(t)

	alice := env.dial(t)
	ack := alice.login("login", "alice", false)
	if !ack.Success {
		t.Fatalf("login failed: %+v", ack)
	}
	text := "persisted"
	alice.send(proto.InboundTypeSendMessage, "send", proto.SendMessageData{Message: &text})
	alice.mustAck("send", nil)

	var history core.HistoryPayload
	if code := env.get(t, "/api/messages?limit=5", ack.Token, &history); code != http.StatusOK {
		t.Fatalf("messages: status %d", code)
	}
	if len(history.Messages) != 1 || history.Messages[0].Username != "alice" {
		t.Fatalf("unexpected history: %+v", history)
	}

	var presence PresenceResponse
	if code := env.get(t, "/api/presence", ack.Token, &presence); code != http.StatusOK {
		t.Fatalf("presence: status %d", code)
	}
	if len(presence.OnlineUsers) != 1 || presence.OnlineUsers[0] != "alice" {
		t.Fatalf("unexpected presence: %+v", presence)
	}

	var check proto.UsernameCheck
	if code := env.get(t, "/api/users/alice", "", &check); code != http.StatusOK {
		t.Fatalf("users: status %d", code)
	}
	if !check.Valid || !check.Online || !check.Exists || check.LastSeen == nil {
		t.Fatalf("unexpected check: %+v", check)
	}

	if code := env.get(t, "/api/users/zz", "", &check); code != http.StatusOK || check.Valid {
		t.Fatalf("expected invalid username check, got %d %+v", code, check)
	}
}
