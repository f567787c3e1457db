package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fractalmind-ai/bytebpe/internal/tokenizer"
	"github.com/fractalmind-ai/bytebpe/pkg/protocol"
	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket client
type Client struct {
	ID        string
	Conn      *websocket.Conn
	Server    *Server
	sendLock  sync.Mutex
	closeOnce sync.Once
	closeChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new client
func NewClient(id string, conn *websocket.Conn, server *Server) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:        id,
		Conn:      conn,
		Server:    server,
		closeChan: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Context is cancelled when the client closes, including on server shutdown.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Handle processes incoming messages from client
func (c *Client) Handle() {
	defer c.Close()

	for {
		var msg protocol.Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error [%s]: %v", c.ID, err)
			}
			return
		}

		c.ProcessMessage(&msg)
	}
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			c.sendLock.Lock()
			err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.sendLock.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// ProcessMessage handles incoming message based on type
func (c *Client) ProcessMessage(msg *protocol.Message) {
	if msg == nil {
		return
	}

	switch msg.Kind {
	case protocol.MessageKindEvent:
		c.handleEventMessage(msg)
	case protocol.MessageKindTokenizer:
		c.handleTokenizerMessage(msg)
	default:
		log.Printf("Unknown message kind: %s", msg.Kind)
		c.sendError(msg, fmt.Errorf("unknown message kind: %s", msg.Kind))
	}
}

// handleEventMessage processes event messages.
func (c *Client) handleEventMessage(msg *protocol.Message) {
	switch msg.Action {
	case protocol.ActionEcho:
		resp := protocol.Message{
			Kind:   protocol.MessageKindEvent,
			Action: protocol.ActionEcho,
			Data:   msg.Data,
		}
		if err := c.Send(&resp); err != nil {
			log.Printf("Echo send error [%s]: %v", c.ID, err)
		}
	default:
		log.Printf("Unknown event action: %s", msg.Action)
		c.sendError(msg, fmt.Errorf("unknown event action: %s", msg.Action))
	}
}

func (c *Client) handleTokenizerMessage(msg *protocol.Message) {
	data, err := c.runTokenizerAction(c.ctx, msg)
	if err != nil {
		c.sendError(msg, err)
		return
	}
	resp := protocol.Message{
		Kind:   protocol.MessageKindTokenizer,
		Action: msg.Action,
		Data:   data,
	}
	if err := c.Send(&resp); err != nil {
		log.Printf("Tokenizer send error [%s]: %v", c.ID, err)
	}
}

func (c *Client) runTokenizerAction(ctx context.Context, msg *protocol.Message) (interface{}, error) {
	models := c.Server.Models()

	switch msg.Action {
	case protocol.ActionEncode:
		var req protocol.TextRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			return nil, err
		}
		svc, err := models.Get(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		ids, err := svc.Encode(req.Text)
		if err != nil {
			return nil, err
		}
		return protocol.EncodeResponse{Model: svc.Name(), IDs: ids, Count: len(ids)}, nil

	case protocol.ActionDecode:
		var req protocol.DecodeRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			return nil, err
		}
		svc, err := models.Get(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		text, err := svc.Decode(req.IDs)
		if err != nil {
			return nil, err
		}
		return protocol.DecodeResponse{Model: svc.Name(), Text: text}, nil

	case protocol.ActionCount:
		var req protocol.TextRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			return nil, err
		}
		svc, err := models.Get(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		count, err := svc.CountTokens(req.Text)
		if err != nil {
			return nil, err
		}
		return protocol.CountResponse{Model: svc.Name(), Count: count}, nil

	case protocol.ActionChunk:
		var req protocol.ChunkRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			return nil, err
		}
		svc, err := models.Get(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		maxTokens, overlap := c.chunkBudget(req)
		chunks, err := svc.Chunk(req.Text, maxTokens, overlap)
		if err != nil {
			return nil, err
		}
		return protocol.ChunkResponse{Model: svc.Name(), Chunks: chunkInfos(chunks)}, nil

	case protocol.ActionInfo:
		var req protocol.ModelRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			return nil, err
		}
		svc, err := models.Get(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		return modelInfo(svc.Info()), nil

	case protocol.ActionReload:
		var req protocol.ModelRequest
		if err := decodePayload(msg.Data, &req); err != nil {
			return nil, err
		}
		svc, err := models.Reload(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		return modelInfo(svc.Info()), nil

	case protocol.ActionList:
		names, err := models.Names(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.ListResponse{Models: names}, nil

	default:
		return nil, fmt.Errorf("unknown tokenizer action: %s", msg.Action)
	}
}

func (c *Client) chunkBudget(req protocol.ChunkRequest) (int, int) {
	maxTokens, overlap := req.MaxTokens, req.OverlapTokens
	if chunking := c.Server.config.Chunking; chunking != nil {
		if maxTokens <= 0 {
			maxTokens = chunking.MaxTokens
			if overlap <= 0 {
				overlap = chunking.OverlapTokens
			}
		}
	}
	if overlap >= maxTokens {
		overlap = 0
	}
	return maxTokens, overlap
}

func chunkInfos(chunks []tokenizer.Chunk) []protocol.ChunkInfo {
	out := make([]protocol.ChunkInfo, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, protocol.ChunkInfo{
			Text:       chunk.Text,
			TokenCount: chunk.TokenCount,
			StartLine:  chunk.StartLine,
			EndLine:    chunk.EndLine,
		})
	}
	return out
}

// decodePayload converts the loosely typed Data field into a request struct.
func decodePayload(data interface{}, out interface{}) error {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (c *Client) sendError(msg *protocol.Message, err error) {
	resp := protocol.Message{
		Kind:   msg.Kind,
		Action: msg.Action,
		Error:  err.Error(),
	}
	if sendErr := c.Send(&resp); sendErr != nil {
		log.Printf("Error send failed [%s]: %v", c.ID, sendErr)
	}
}

// Send sends a message to client
func (c *Client) Send(msg *protocol.Message) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(msg)
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.closeChan)
		c.Conn.Close()
		if c.Server != nil {
			c.Server.removeClient(c)
		}
		log.Printf("🔌 Client disconnected: %s", c.ID)
	})
}
