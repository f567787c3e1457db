package protocol

// MessageKind defines type of message
type MessageKind string

const (
	MessageKindTokenizer MessageKind = "tokenizer"
	MessageKindEvent     MessageKind = "event"
)

// Action defines action within a message kind
type Action string

const (
	ActionEncode Action = "encode"
	ActionDecode Action = "decode"
	ActionCount  Action = "count"
	ActionChunk  Action = "chunk"
	ActionInfo   Action = "info"
	ActionList   Action = "list"
	ActionReload Action = "reload"
	ActionEcho   Action = "echo"
)

// Message represents a protocol message
type Message struct {
	Kind   MessageKind `json:"kind"`
	Action Action      `json:"action,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// TextRequest is the payload of encode and count requests.
// An empty Model selects the gateway's default model.
type TextRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

// DecodeRequest is the payload of a decode request.
type DecodeRequest struct {
	Model string `json:"model,omitempty"`
	IDs   []int  `json:"ids"`
}

// ChunkRequest is the payload of a chunk request. Zero budgets fall back
// to the configured chunking defaults.
type ChunkRequest struct {
	Model         string `json:"model,omitempty"`
	Text          string `json:"text"`
	MaxTokens     int    `json:"maxTokens,omitempty"`
	OverlapTokens int    `json:"overlapTokens,omitempty"`
}

// ModelRequest names a model for info and reload requests.
type ModelRequest struct {
	Model string `json:"model,omitempty"`
}

// EncodeResponse answers an encode request.
type EncodeResponse struct {
	Model string `json:"model"`
	IDs   []int  `json:"ids"`
	Count int    `json:"count"`
}

// DecodeResponse answers a decode request.
type DecodeResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// CountResponse answers a count request.
type CountResponse struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// ChunkInfo is one chunk of a chunk response.
type ChunkInfo struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
}

// ChunkResponse answers a chunk request.
type ChunkResponse struct {
	Model  string      `json:"model"`
	Chunks []ChunkInfo `json:"chunks"`
}

// ModelInfo contains information about a loaded model
type ModelInfo struct {
	Name      string    `json:"name"`
	VocabSize int       `json:"vocab_size"`
	Merges    int       `json:"merges"`
	Cache     CacheInfo `json:"cache"`
}

// CacheInfo reports encode cache usage of a model
type CacheInfo struct {
	Enabled bool  `json:"enabled"`
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// ListResponse answers a list request.
type ListResponse struct {
	Models []string `json:"models"`
}
