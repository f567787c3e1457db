package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModelName     = "default"
	DefaultVocabSize     = 512
	DefaultStorePath     = "./bytebpe.db"
	DefaultCacheSize     = 4096
	DefaultChunkTokens   = 512
	DefaultChunkOverlap  = 64
	DefaultGatewayBind   = "127.0.0.1"
	DefaultGatewayPort   = 18790
	minVocabSize         = 256
	defaultCorpusDirName = "./corpus"
)

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Config represents the main configuration
type Config struct {
	Tokenizer *TokenizerConfig `yaml:"tokenizer"`
	Corpus    *CorpusConfig    `yaml:"corpus"`
	Store     *StoreConfig     `yaml:"store"`
	Cache     *CacheConfig     `yaml:"cache"`
	Chunking  *ChunkingConfig  `yaml:"chunking"`
	Reference *ReferenceConfig `yaml:"reference,omitempty"`
	Gateway   *GatewayConfig   `yaml:"gateway"`
}

// TokenizerConfig contains training settings
type TokenizerConfig struct {
	Model     string `yaml:"model"`
	VocabSize int    `yaml:"vocabSize"`
	Verbose   bool   `yaml:"verbose,omitempty"`
}

// CorpusConfig lists where training text comes from
type CorpusConfig struct {
	Paths      []string       `yaml:"paths,omitempty"`
	Extensions []string       `yaml:"extensions,omitempty"`
	CacheDir   string         `yaml:"cacheDir,omitempty"`
	Remote     []RemoteCorpus `yaml:"remote,omitempty"`
}

// RemoteCorpus is a downloadable corpus pinned by checksum
type RemoteCorpus struct {
	URL      string `yaml:"url"`
	SHA256   string `yaml:"sha256"`
	MaxBytes int64  `yaml:"maxBytes,omitempty"`
}

// StoreConfig contains model store settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig contains encode cache settings
type CacheConfig struct {
	Size int `yaml:"size"`
}

// ChunkingConfig contains token-budget chunking defaults
type ChunkingConfig struct {
	MaxTokens     int `yaml:"maxTokens"`
	OverlapTokens int `yaml:"overlapTokens"`
}

// ReferenceConfig points at third-party tokenizers used for comparisons
type ReferenceConfig struct {
	HFTokenizerPath  string `yaml:"hfTokenizerPath,omitempty"`
	TiktokenEncoding string `yaml:"tiktokenEncoding,omitempty"`
}

// GatewayConfig contains gateway settings
type GatewayConfig struct {
	Port           int      `yaml:"port"`
	Bind           string   `yaml:"bind"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Tokenizer: &TokenizerConfig{
			Model:     DefaultModelName,
			VocabSize: DefaultVocabSize,
		},
		Corpus: &CorpusConfig{
			Paths:      []string{defaultCorpusDirName},
			Extensions: []string{".txt", ".md"},
		},
		Store: &StoreConfig{
			Path: DefaultStorePath,
		},
		Cache: &CacheConfig{
			Size: DefaultCacheSize,
		},
		Chunking: &ChunkingConfig{
			MaxTokens:     DefaultChunkTokens,
			OverlapTokens: DefaultChunkOverlap,
		},
		Gateway: &GatewayConfig{
			Port: DefaultGatewayPort,
			Bind: DefaultGatewayBind,
		},
	}
}

// ApplyDefaults fills sections and fields left out of the file.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Tokenizer == nil {
		c.Tokenizer = defaults.Tokenizer
	}
	if strings.TrimSpace(c.Tokenizer.Model) == "" {
		c.Tokenizer.Model = DefaultModelName
	}
	if c.Tokenizer.VocabSize == 0 {
		c.Tokenizer.VocabSize = DefaultVocabSize
	}

	if c.Corpus == nil {
		c.Corpus = defaults.Corpus
	}
	if len(c.Corpus.Extensions) == 0 {
		c.Corpus.Extensions = defaults.Corpus.Extensions
	}

	if c.Store == nil {
		c.Store = defaults.Store
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = DefaultStorePath
	}

	if c.Cache == nil {
		c.Cache = defaults.Cache
	}

	if c.Chunking == nil {
		c.Chunking = defaults.Chunking
	}
	if c.Chunking.MaxTokens == 0 {
		c.Chunking.MaxTokens = DefaultChunkTokens
	}

	if c.Gateway == nil {
		c.Gateway = defaults.Gateway
	}
	if strings.TrimSpace(c.Gateway.Bind) == "" {
		c.Gateway.Bind = DefaultGatewayBind
	}
}

// Validate reports the first invalid setting, naming its key.
func (c *Config) Validate() error {
	if c.Tokenizer != nil {
		if err := ValidateModelName(c.Tokenizer.Model); err != nil {
			return fmt.Errorf("invalid tokenizer.model: %w", err)
		}
		if c.Tokenizer.VocabSize < minVocabSize {
			return fmt.Errorf("invalid tokenizer.vocabSize: %d is below %d", c.Tokenizer.VocabSize, minVocabSize)
		}
	}

	if c.Corpus != nil {
		for i, ext := range c.Corpus.Extensions {
			if !strings.HasPrefix(strings.TrimSpace(ext), ".") {
				return fmt.Errorf("invalid corpus.extensions[%d]: %q must start with a dot", i, ext)
			}
		}
		for i, remote := range c.Corpus.Remote {
			if strings.TrimSpace(remote.URL) == "" {
				return fmt.Errorf("invalid corpus.remote[%d].url: url is required", i)
			}
			sum, err := hex.DecodeString(strings.TrimSpace(remote.SHA256))
			if err != nil || len(sum) != 32 {
				return fmt.Errorf("invalid corpus.remote[%d].sha256: expected 64 hex characters", i)
			}
			if remote.MaxBytes < 0 {
				return fmt.Errorf("invalid corpus.remote[%d].maxBytes: must not be negative", i)
			}
		}
	}

	if c.Cache != nil && c.Cache.Size < 0 {
		return fmt.Errorf("invalid cache.size: must not be negative")
	}

	if c.Chunking != nil {
		if c.Chunking.MaxTokens <= 0 {
			return fmt.Errorf("invalid chunking.maxTokens: must be positive")
		}
		if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
			return fmt.Errorf("invalid chunking.overlapTokens: must be in [0, chunking.maxTokens)")
		}
	}

	if c.Gateway != nil && (c.Gateway.Port < 0 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway.port: %d", c.Gateway.Port)
	}

	return nil
}

// ValidateModelName checks a model name used as a store key.
func ValidateModelName(name string) error {
	if !modelNamePattern.MatchString(name) {
		return fmt.Errorf("model name %q must match %s", name, modelNamePattern.String())
	}
	return nil
}
