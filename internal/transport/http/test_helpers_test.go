package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlstore"
)

type testEnv struct {
	server *httptest.Server
	hub    *core.Hub
	tokens *auth.Issuer
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	st, err := sqlstore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tokens := auth.NewIssuer(auth.JWTConfig{Secret: []byte("testsecret"), Issuer: "test"})
	hub := core.NewHub(st, core.Options{Tokens: tokens}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	cfg := config.Default()
	server := NewServer(hub, tokens, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, hub: hub, tokens: tokens}
}

// envelope is an outbound frame with its data left undecoded.
type envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(e.server.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadLimit(16 << 20)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })

	c := &wsClient{t: t, conn: conn}
	// Drain the initial state pushed on connect.
	c.mustEvent(core.EventMessageHistory, nil)
	c.mustEvent(core.EventPresenceUpdate, nil)
	c.mustEvent(core.EventTypingUpdate, nil)
	return c
}

func (c *wsClient) send(typ, id string, data any) {
	c.t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal %s: %v", typ, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: typ, ID: id, Data: payload}); err != nil {
		c.t.Fatalf("send %s: %v", typ, err)
	}
}

func (c *wsClient) read(ctx context.Context) (envelope, error) {
	var env envelope
	err := wsjson.Read(ctx, c.conn, &env)
	return env, err
}

// next reads frames until match accepts one. Pings are answered on the way.
func (c *wsClient) next(what string, match func(envelope) bool) envelope {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		env, err := c.read(ctx)
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", what, err)
		}
		if env.Type == proto.OutboundTypeEvent && env.Event == core.EventPing {
			c.send(proto.InboundTypePong, "", struct{}{})
			continue
		}
		if match(env) {
			return env
		}
	}
}

func (c *wsClient) mustAck(id string, out any) envelope {
	c.t.Helper()

	env := c.next("ack "+id, func(e envelope) bool {
		return e.Type == proto.OutboundTypeAck && e.ID == id
	})
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			c.t.Fatalf("decode ack %s: %v", id, err)
		}
	}
	return env
}

func (c *wsClient) mustEvent(name string, match func(envelope) bool) envelope {
	c.t.Helper()

	return c.next("event "+name, func(e envelope) bool {
		return e.Type == proto.OutboundTypeEvent && e.Event == name && (match == nil || match(e))
	})
}

func (c *wsClient) mustError(code string) envelope {
	c.t.Helper()

	env := c.next("error "+code, func(e envelope) bool {
		return e.Type == proto.OutboundTypeError
	})
	if env.Error == nil || env.Error.Code != code {
		c.t.Fatalf("expected error %s, got %+v", code, env.Error)
	}
	return env
}

func (c *wsClient) login(id, username string, force bool) proto.LoginAck {
	c.t.Helper()

	c.send(proto.InboundTypeLogin, id, proto.LoginData{Username: username, Force: force})
	var ack proto.LoginAck
	c.mustAck(id, &ack)
	return ack
}

func presenceIs(typ core.PresenceType, username string) func(envelope) bool {
	return func(e envelope) bool {
		var p core.PresencePayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return false
		}
		return p.Type == typ && (username == "" || p.Username == username)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}
