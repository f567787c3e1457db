package tokenizer

import (
	"fmt"
	"sync/atomic"

	"github.com/fractalmind-ai/bytebpe/internal/bpe"
	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxCachedTextBytes is the largest text the encode cache keeps. Longer
// texts are encoded directly so the cache stays bounded in memory.
const MaxCachedTextBytes = 4 << 10

// Service serves encode/decode requests for one frozen model. It is safe
// for concurrent use; the model is only ever read.
type Service struct {
	name   string
	model  *bpe.Model
	cache  *lru.Cache[string, []int]
	hits   atomic.Int64
	misses atomic.Int64
}

// Info describes a service for status reporting.
type Info struct {
	Name      string    `json:"name"`
	VocabSize int       `json:"vocab_size"`
	Merges    int       `json:"merges"`
	Cache     CacheInfo `json:"cache"`
}

// CacheInfo reports encode cache usage.
type CacheInfo struct {
	Enabled bool  `json:"enabled"`
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// NewService wraps model with an encode cache of cacheSize entries.
// A cacheSize of zero disables caching.
func NewService(name string, model *bpe.Model, cacheSize int) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	s := &Service{name: name, model: model}
	if cacheSize > 0 {
		cache, err := lru.New[string, []int](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create encode cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Name returns the model name.
func (s *Service) Name() string {
	return s.name
}

// Model returns the underlying frozen model.
func (s *Service) Model() *bpe.Model {
	return s.model
}

// Encode implements Tokenizer. The returned slice is owned by the caller.
func (s *Service) Encode(text string) ([]int, error) {
	if s.cache == nil || len(text) > MaxCachedTextBytes {
		return s.model.Encode(text), nil
	}
	if ids, ok := s.cache.Get(text); ok {
		s.hits.Add(1)
		return cloneIDs(ids), nil
	}
	s.misses.Add(1)
	ids := s.model.Encode(text)
	s.cache.Add(text, cloneIDs(ids))
	return ids, nil
}

// Decode converts ids back to text.
func (s *Service) Decode(ids []int) (string, error) {
	return s.model.Decode(ids)
}

// CountTokens implements TokenCounter.
func (s *Service) CountTokens(text string) (int, error) {
	return TokenizerCounter{Tokenizer: s}.CountTokens(text)
}

// Chunk splits text into chunks of at most maxTokens tokens of this model.
func (s *Service) Chunk(text string, maxTokens, overlapTokens int) ([]Chunk, error) {
	chunker := Chunker{
		MaxTokens:     maxTokens,
		OverlapTokens: overlapTokens,
		Counter:       s,
	}
	return chunker.ChunkText(text)
}

// Info returns model and cache statistics.
func (s *Service) Info() Info {
	info := Info{
		Name:      s.name,
		VocabSize: s.model.VocabSize(),
		Merges:    s.model.NumMerges(),
	}
	if s.cache != nil {
		info.Cache = CacheInfo{
			Enabled: true,
			Entries: s.cache.Len(),
			Hits:    s.hits.Load(),
			Misses:  s.misses.Load(),
		}
	}
	return info
}

func cloneIDs(ids []int) []int {
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}
