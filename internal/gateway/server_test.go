package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fractalmind-ai/bytebpe/internal/bpe"
	"github.com/fractalmind-ai/bytebpe/internal/config"
	"github.com/fractalmind-ai/bytebpe/internal/registry"
	"github.com/fractalmind-ai/bytebpe/internal/store"
	"github.com/fractalmind-ai/bytebpe/pkg/protocol"
	"github.com/gorilla/websocket"
)

func newTestGateway(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Gateway.Port = 0
	cfg.Chunking.MaxTokens = 4
	cfg.Chunking.OverlapTokens = 0

	model, err := bpe.Train(strings.Repeat("hello gateway world\n", 8), 280, false)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	models := registry.NewManager(nil, cfg.Tokenizer.Model, 16)
	if _, err := models.Register(cfg.Tokenizer.Model, model); err != nil {
		t.Fatalf("register: %v", err)
	}

	server, err := NewServer(cfg, models)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg protocol.Message) protocol.Message {
	t.Helper()
	if err := conn.WriteJSON(&msg); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp protocol.Message
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return resp
}

func decodeData(t *testing.T, data interface{}, out interface{}) {
	t.Helper()
	if err := decodePayload(data, out); err != nil {
		t.Fatalf("decode response data: %v", err)
	}
}

func TestGatewayEchoAndStatus(t *testing.T) {
	server, ts := newTestGateway(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindEvent,
		Action: protocol.ActionEcho,
		Data:   map[string]string{"text": "hello"},
	})
	if resp.Kind != protocol.MessageKindEvent || resp.Action != protocol.ActionEcho {
		t.Fatalf("unexpected response: %#v", resp)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok || data["text"] != "hello" {
		t.Fatalf("unexpected echo payload: %#v", resp.Data)
	}

	if err := waitForActiveClients(server, 1, time.Second); err != nil {
		t.Fatalf("active clients not tracked: %v", err)
	}

	status, err := fetchStatus(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	if status.Status != "ok" || status.ActiveClients != 1 || status.Uptime == "" {
		t.Fatalf("unexpected status: %#v", status)
	}
	if len(status.Models) != 1 || status.Models[0].Name != "default" || status.Models[0].VocabSize <= bpe.NumBytes {
		t.Fatalf("unexpected model status: %#v", status.Models)
	}

	_ = conn.Close()
	if err := waitForActiveClients(server, 0, time.Second); err != nil {
		t.Fatalf("client cleanup failed: %v", err)
	}
}

func TestGatewayHealth(t *testing.T) {
	_, ts := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}
}

func TestGatewayEncodeDecodeRoundTrip(t *testing.T) {
	_, ts := newTestGateway(t)
	conn := dial(t, ts)
	text := "hello gateway, héllo 世界"

	resp := roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionEncode,
		Data:   protocol.TextRequest{Text: text},
	})
	if resp.Error != "" {
		t.Fatalf("encode error: %s", resp.Error)
	}
	var encoded protocol.EncodeResponse
	decodeData(t, resp.Data, &encoded)
	if encoded.Model != "default" || encoded.Count != len(encoded.IDs) || encoded.Count == 0 {
		t.Fatalf("unexpected encode response: %#v", encoded)
	}
	if encoded.Count >= len([]byte(text)) {
		t.Fatalf("expected merges to shorten the sequence, got %d ids", encoded.Count)
	}

	resp = roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionDecode,
		Data:   protocol.DecodeRequest{IDs: encoded.IDs},
	})
	if resp.Error != "" {
		t.Fatalf("decode error: %s", resp.Error)
	}
	var decoded protocol.DecodeResponse
	decodeData(t, resp.Data, &decoded)
	if decoded.Text != text {
		t.Fatalf("round trip mismatch: %q", decoded.Text)
	}

	resp = roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionCount,
		Data:   protocol.TextRequest{Model: "default", Text: text},
	})
	var counted protocol.CountResponse
	decodeData(t, resp.Data, &counted)
	if counted.Count != encoded.Count {
		t.Fatalf("expected count %d, got %d", encoded.Count, counted.Count)
	}
}

func TestGatewayDecodeUnknownID(t *testing.T) {
	_, ts := newTestGateway(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionDecode,
		Data:   protocol.DecodeRequest{IDs: []int{104, 99999}},
	})
	if resp.Error == "" || !strings.Contains(resp.Error, "99999") {
		t.Fatalf("expected unknown symbol error, got %#v", resp)
	}
	if resp.Action != protocol.ActionDecode || resp.Kind != protocol.MessageKindTokenizer {
		t.Fatalf("error reply should echo kind and action: %#v", resp)
	}
}

func TestGatewayUnknownModelAndAction(t *testing.T) {
	_, ts := newTestGateway(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionEncode,
		Data:   protocol.TextRequest{Model: "missing", Text: "x"},
	})
	if !strings.Contains(resp.Error, "model not found") {
		t.Fatalf("expected model not found error, got %#v", resp)
	}

	resp = roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: "explode",
	})
	if resp.Error == "" {
		t.Fatalf("expected error for unknown action")
	}

	resp = roundTrip(t, conn, protocol.Message{Kind: "bogus"})
	if resp.Error == "" {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestGatewayChunkInfoAndList(t *testing.T) {
	_, ts := newTestGateway(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionChunk,
		Data:   protocol.ChunkRequest{Text: strings.Repeat("hello gateway world\n", 4)},
	})
	if resp.Error != "" {
		t.Fatalf("chunk error: %s", resp.Error)
	}
	var chunked protocol.ChunkResponse
	decodeData(t, resp.Data, &chunked)
	if len(chunked.Chunks) == 0 {
		t.Fatalf("expected chunks, got %#v", chunked)
	}
	if chunked.Chunks[0].StartLine != 1 {
		t.Fatalf("unexpected first chunk: %#v", chunked.Chunks[0])
	}

	resp = roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionInfo,
	})
	var info protocol.ModelInfo
	decodeData(t, resp.Data, &info)
	if info.Name != "default" || info.Merges != info.VocabSize-bpe.NumBytes || !info.Cache.Enabled {
		t.Fatalf("unexpected info: %#v", info)
	}

	resp = roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionList,
	})
	var list protocol.ListResponse
	decodeData(t, resp.Data, &list)
	if len(list.Models) != 1 || list.Models[0] != "default" {
		t.Fatalf("unexpected list: %#v", list)
	}
}

func TestGatewayReloadServesRetrainedModel(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenStore(filepath.Join(t.TempDir(), "models.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	first, err := bpe.NewModel([]bpe.Pair{{Left: 'a', Right: 'b'}})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	if err := st.SaveModel(ctx, "default", first); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg := config.DefaultConfig()
	server, err := NewServer(cfg, registry.NewManager(st, "default", 4))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	conn := dial(t, ts)

	encode := func() []int {
		resp := roundTrip(t, conn, protocol.Message{
			Kind:   protocol.MessageKindTokenizer,
			Action: protocol.ActionEncode,
			Data:   protocol.TextRequest{Text: "abc"},
		})
		if resp.Error != "" {
			t.Fatalf("encode error: %s", resp.Error)
		}
		var encoded protocol.EncodeResponse
		decodeData(t, resp.Data, &encoded)
		return encoded.IDs
	}

	if ids := encode(); len(ids) != 2 || ids[0] != 256 {
		t.Fatalf("unexpected ids before retrain: %v", ids)
	}

	retrained, err := bpe.NewModel([]bpe.Pair{{Left: 'a', Right: 'b'}, {Left: 256, Right: 'c'}})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	if err := st.SaveModel(ctx, "default", retrained); err != nil {
		t.Fatalf("save retrained: %v", err)
	}
	if ids := encode(); len(ids) != 2 {
		t.Fatalf("expected the loaded model until reload, got %v", ids)
	}

	resp := roundTrip(t, conn, protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: protocol.ActionReload,
	})
	if resp.Error != "" {
		t.Fatalf("reload error: %s", resp.Error)
	}
	var info protocol.ModelInfo
	decodeData(t, resp.Data, &info)
	if info.Name != "default" || info.Merges != 2 {
		t.Fatalf("unexpected reload info: %#v", info)
	}
	if ids := encode(); len(ids) != 1 || ids[0] != 257 {
		t.Fatalf("unexpected ids after reload: %v", ids)
	}
}

func TestGatewayStopCancelsClientContext(t *testing.T) {
	server, ts := newTestGateway(t)
	dial(t, ts)

	if err := waitForActiveClients(server, 1, time.Second); err != nil {
		t.Fatalf("active clients not tracked: %v", err)
	}
	clients := server.snapshotClients()
	if len(clients) != 1 {
		t.Fatalf("expected one client, got %d", len(clients))
	}
	clientCtx := clients[0].Context()
	if clientCtx.Err() != nil {
		t.Fatal("client context cancelled while connected")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-clientCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("client context not cancelled on shutdown")
	}
	if server.activeClients() != 0 {
		t.Fatalf("expected no active clients after stop, got %d", server.activeClients())
	}
}

func TestNewServerRequiresRegistry(t *testing.T) {
	if _, err := NewServer(config.DefaultConfig(), nil); err == nil {
		t.Fatal("expected error without registry")
	}
	if _, err := NewServer(&config.Config{}, registry.NewManager(nil, "default", 0)); err == nil {
		t.Fatal("expected error without gateway config")
	}
}

type statusPayload struct {
	Status        string               `json:"status"`
	ActiveClients int                  `json:"active_clients"`
	Uptime        string               `json:"uptime"`
	Models        []protocol.ModelInfo `json:"models"`
}

func fetchStatus(url string) (*statusPayload, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func waitForActiveClients(server *Server, want int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if server.activeClients() == want {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("active clients did not reach %d", want)
}
