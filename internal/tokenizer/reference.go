package tokenizer

import (
	"fmt"
	"strings"

	"github.com/fractalmind-ai/bytebpe/internal/config"
	"github.com/pkoukk/tiktoken-go"
	hftokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Reference is a third-party tokenizer used as a yardstick in comparisons.
type Reference struct {
	Name      string
	Tokenizer Tokenizer
}

// HFTokenizer wraps a HuggingFace-compatible tokenizer.json.
type HFTokenizer struct {
	inner *hftokenizer.Tokenizer
}

// NewHFTokenizer loads a tokenizer.json file using the pure-Go tokenizer.
func NewHFTokenizer(path string) (*HFTokenizer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("tokenizer path is required")
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &HFTokenizer{inner: tk}, nil
}

// Encode returns token IDs without special tokens so counts compare fairly.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	if t == nil || t.inner == nil {
		return nil, fmt.Errorf("tokenizer is not initialized")
	}
	encoding, err := t.inner.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), encoding.Ids...), nil
}

// TiktokenTokenizer wraps a named tiktoken encoding such as cl100k_base.
type TiktokenTokenizer struct {
	inner *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named encoding. The first call for an
// encoding may download its ranks file.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if strings.TrimSpace(encoding) == "" {
		return nil, fmt.Errorf("tiktoken encoding is required")
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{inner: enc}, nil
}

// Encode returns ordinary token IDs; special-token text is encoded as plain text.
func (t *TiktokenTokenizer) Encode(text string) ([]int, error) {
	if t == nil || t.inner == nil {
		return nil, fmt.Errorf("tokenizer is not initialized")
	}
	return t.inner.EncodeOrdinary(text), nil
}

// LoadReferences builds every reference tokenizer named in cfg.
func LoadReferences(cfg *config.ReferenceConfig) ([]Reference, error) {
	if cfg == nil {
		return nil, nil
	}
	var refs []Reference
	if path := strings.TrimSpace(cfg.HFTokenizerPath); path != "" {
		tk, err := NewHFTokenizer(path)
		if err != nil {
			return nil, err
		}
		refs = append(refs, Reference{Name: "hf:" + path, Tokenizer: tk})
	}
	if name := strings.TrimSpace(cfg.TiktokenEncoding); name != "" {
		tk, err := NewTiktokenTokenizer(name)
		if err != nil {
			return nil, err
		}
		refs = append(refs, Reference{Name: "tiktoken:" + name, Tokenizer: tk})
	}
	return refs, nil
}
