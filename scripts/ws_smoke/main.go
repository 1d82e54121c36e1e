package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

type outbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "username to log in with")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(16 << 20)

	mustSend := func(typ, id string, data any) {
		payload, _ := json.Marshal(data)
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, ID: id, Data: payload}); err != nil {
			log.Fatalf("send %s: %v", typ, err)
		}
	}

	awaitAck := func(id string) json.RawMessage {
		for {
			var out outbound
			if err := wsjson.Read(ctx, conn, &out); err != nil {
				log.Fatalf("read: %v", err)
			}
			if out.Type == proto.OutboundTypeEvent {
				fmt.Printf("event=%s\n", out.Event)
				continue
			}
			if out.Type == proto.OutboundTypeError && out.Error != nil {
				log.Fatalf("error %s: %s", out.Error.Code, out.Error.Msg)
			}
			if out.Type == proto.OutboundTypeAck && out.ID == id {
				return out.Data
			}
		}
	}

	mustSend(proto.InboundTypeLogin, "login", proto.LoginData{Username: *user, Force: true})
	var login proto.LoginAck
	if err := json.Unmarshal(awaitAck("login"), &login); err != nil || !login.Success {
		log.Fatalf("login failed: %+v %v", login, err)
	}
	fmt.Printf("logged in as %s\n", login.Username)

	mustSend(proto.InboundTypeSendMessage, "send", proto.SendMessageData{Message: text})
	var sent proto.SendAck
	if err := json.Unmarshal(awaitAck("send"), &sent); err != nil || !sent.Success {
		log.Fatalf("send failed: %+v %v", sent, err)
	}
	fmt.Printf("sent message id=%s status=%s\n", sent.ID, sent.Status)
}
