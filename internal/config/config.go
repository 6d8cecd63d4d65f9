// Package config loads service configuration from a YAML file and fills
// in defaults for anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Conversation ConversationConfig `yaml:"conversation"`
	Limits       LimitsConfig       `yaml:"limits"`
	Retry        RetryConfig        `yaml:"retry"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Qdrant       QdrantConfig       `yaml:"qdrant"`
	Tokens       TokensConfig       `yaml:"tokens"`
}

type ConversationConfig struct {
	MaxHistory     int           `yaml:"max_history"`
	MaxKeyPoints   int           `yaml:"max_key_points"`
	MaxTotalTokens int           `yaml:"max_total_tokens"`
	StateTTL       time.Duration `yaml:"state_ttl"`
	ContextTTL     time.Duration `yaml:"context_ttl"`
}

type LimitsConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	MaxConcurrent     int `yaml:"max_concurrent"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type RetrievalConfig struct {
	SummaryLimit int           `yaml:"summary_limit"`
	ChunkLimit   int           `yaml:"chunk_limit"`
	MaxCases     int           `yaml:"max_cases"`
	CharBudget   int           `yaml:"char_budget"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

type OpenAIConfig struct {
	BaseURL        string `yaml:"base_url"`
	ChatModel      string `yaml:"chat_model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
}

type TokensConfig struct {
	// Estimator selects the token counting strategy: "heuristic" or
	// "tiktoken".
	Estimator string `yaml:"estimator"`
	Encoding  string `yaml:"encoding"`
}

// Load reads a YAML config file and applies defaults to unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Conversation.MaxHistory == 0 {
		c.Conversation.MaxHistory = 10
	}
	if c.Conversation.MaxKeyPoints == 0 {
		c.Conversation.MaxKeyPoints = 5
	}
	if c.Conversation.MaxTotalTokens == 0 {
		c.Conversation.MaxTotalTokens = 8000
	}
	if c.Conversation.StateTTL == 0 {
		c.Conversation.StateTTL = 30 * time.Minute
	}
	if c.Conversation.ContextTTL == 0 {
		c.Conversation.ContextTTL = 5 * time.Minute
	}

	if c.Limits.RequestsPerMinute == 0 {
		c.Limits.RequestsPerMinute = 60
	}
	if c.Limits.MaxConcurrent == 0 {
		c.Limits.MaxConcurrent = 10
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 5 * time.Second
	}

	if c.Retrieval.SummaryLimit == 0 {
		c.Retrieval.SummaryLimit = 3
	}
	if c.Retrieval.ChunkLimit == 0 {
		c.Retrieval.ChunkLimit = 5
	}
	if c.Retrieval.MaxCases == 0 {
		c.Retrieval.MaxCases = 5
	}
	if c.Retrieval.CharBudget == 0 {
		c.Retrieval.CharBudget = 10000
	}
	if c.Retrieval.CacheTTL == 0 {
		c.Retrieval.CacheTTL = 30 * time.Minute
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com"
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}

	if c.Qdrant.URL == "" {
		c.Qdrant.URL = "http://localhost:6333"
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "court-cases"
	}

	if c.Tokens.Estimator == "" {
		c.Tokens.Estimator = "heuristic"
	}
	if c.Tokens.Encoding == "" {
		c.Tokens.Encoding = "cl100k_base"
	}
}
