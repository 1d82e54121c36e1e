package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

// outbound mirrors proto.Outbound with the data left undecoded.
type outbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "username")
	force := flag.Bool("force", false, "take over the username if it is online elsewhere")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(16 << 20)

	if err := send(ctx, conn, proto.InboundTypeLogin, "login", proto.LoginData{Username: *user, Force: *force}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s\n", *addr, *user)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, ID: id, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			case websocket.StatusPolicyViolation:
				fmt.Println("disconnected by server")
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch out.Type {
		case proto.OutboundTypeAck:
			printAck(out)
		case proto.OutboundTypeError:
			if out.Error != nil {
				fmt.Printf("error %s: %s\n", out.Error.Code, out.Error.Msg)
			}
		case proto.OutboundTypeEvent:
			if out.Event == core.EventPing {
				if err := send(ctx, conn, proto.InboundTypePong, "", struct{}{}); err != nil {
					log.Printf("pong: %v", err)
				}
				continue
			}
			printEvent(out)
		}
	}
}

func printAck(out outbound) {
	var res proto.Result
	if err := json.Unmarshal(out.Data, &res); err != nil || res.Success {
		return
	}
	if res.CanForce {
		fmt.Printf("%s failed: %s (rerun with -force to take over)\n", out.ID, res.Error)
		return
	}
	fmt.Printf("%s failed: %s\n", out.ID, res.Error)
}

func printEvent(out outbound) {
	switch out.Event {
	case core.EventNewMessage:
		var msg core.MessagePayload
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			log.Printf("unmarshal message: %v", err)
			return
		}
		body := ""
		if msg.Message != nil {
			body = *msg.Message
		}
		if msg.File != nil {
			body = strings.TrimSpace(body + fmt.Sprintf(" [file %s, %d bytes]", msg.File.Name, msg.File.Size))
		}
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("15:04:05"), msg.Username, body)
	case core.EventMessageHistory:
		var history core.HistoryPayload
		if err := json.Unmarshal(out.Data, &history); err != nil {
			log.Printf("unmarshal history: %v", err)
			return
		}
		for _, msg := range history.Messages {
			if msg.Message != nil {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("15:04:05"), msg.Username, *msg.Message)
			}
		}
	case core.EventPresenceUpdate:
		var p core.PresencePayload
		if err := json.Unmarshal(out.Data, &p); err != nil {
			log.Printf("unmarshal presence: %v", err)
			return
		}
		switch p.Type {
		case core.PresenceLogin:
			fmt.Printf("* %s joined\n", p.Username)
		case core.PresenceLogout:
			fmt.Printf("* %s left\n", p.Username)
		case core.PresenceCleanup:
			fmt.Printf("* %s timed out\n", strings.Join(p.Usernames, ", "))
		default:
			fmt.Printf("* online: %s\n", strings.Join(p.OnlineUsers, ", "))
		}
	case core.EventForcedLogout:
		var p core.ForcedLogoutPayload
		_ = json.Unmarshal(out.Data, &p)
		fmt.Printf("* logged out: %s\n", p.Reason)
	case core.EventStatusUpdate, core.EventTypingUpdate:
	default:
		fmt.Printf("event=%s data=%s\n", out.Event, out.Data)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(ctx, conn, proto.InboundTypeSendMessage, "send", proto.SendMessageData{Message: &text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
