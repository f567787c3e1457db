package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/fractalmind-ai/bytebpe/pkg/protocol"
	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:18790/ws", "websocket server URL")
	action := flag.String("action", "encode", "tokenizer action: encode, decode, count, chunk, info, reload, list, or echo")
	model := flag.String("model", "", "model name (default: the server's default model)")
	text := flag.String("text", "hello", "text to send")
	ids := flag.String("ids", "", "comma-separated ids for decode")
	flag.Parse()

	req, err := buildRequest(protocol.Action(*action), *model, *text, *ids)
	if err != nil {
		log.Fatalf("Invalid request: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(&req); err != nil {
		log.Fatalf("Write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var resp protocol.Message
	if err := conn.ReadJSON(&resp); err != nil {
		log.Fatalf("Read failed: %v", err)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Fatalf("Marshal failed: %v", err)
	}

	fmt.Println(string(payload))
}

func buildRequest(action protocol.Action, model, text, rawIDs string) (protocol.Message, error) {
	msg := protocol.Message{Kind: protocol.MessageKindTokenizer, Action: action}
	switch action {
	case protocol.ActionEcho:
		msg.Kind = protocol.MessageKindEvent
		msg.Data = map[string]string{"text": text}
	case protocol.ActionEncode, protocol.ActionCount:
		msg.Data = protocol.TextRequest{Model: model, Text: text}
	case protocol.ActionChunk:
		msg.Data = protocol.ChunkRequest{Model: model, Text: text}
	case protocol.ActionDecode:
		var ids []int
		for _, field := range strings.Split(rawIDs, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.Atoi(field)
			if err != nil {
				return msg, fmt.Errorf("invalid id %q", field)
			}
			ids = append(ids, id)
		}
		msg.Data = protocol.DecodeRequest{Model: model, IDs: ids}
	case protocol.ActionInfo, protocol.ActionReload:
		msg.Data = protocol.ModelRequest{Model: model}
	case protocol.ActionList:
	default:
		return msg, fmt.Errorf("unknown action %q", action)
	}
	return msg, nil
}
