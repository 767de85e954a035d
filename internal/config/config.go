// Package config loads pipeline configuration from defaults, an optional
// JSON config file, and KAEVAL_* environment variables, in that order of
// precedence. Validation is fail-fast: a config error surfaces before any
// data processing starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Pipeline PipelineConfig
	LLM      LLMConfig
	RAG      RAGConfig
	Server   ServerConfig
	Storage  StorageConfig
	Triggers TriggerConfig
}

// PipelineConfig governs the extraction pipeline behavior.
type PipelineConfig struct {
	// BatchSize bounds the number of in-flight external calls.
	BatchSize int
	// SimilarityThreshold is the inclusive cosine-similarity cutoff for
	// semantic deduplication. Must be in [0, 1].
	SimilarityThreshold float64
	// MaxPerGroup caps representative-sample group sizes.
	MaxPerGroup int
	// MaxAttempts bounds retries of external calls.
	MaxAttempts int
}

// LLMConfig points at an OpenAI-compatible endpoint used for reformulation,
// categorization, and embeddings.
type LLMConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	// CacheResponses enables the SQLite response cache under the data dir.
	CacheResponses bool
}

// RAGConfig points at the RAG system under evaluation.
type RAGConfig struct {
	BaseURL   string
	APIKey    string
	UserEmail string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

func defaults() Config {
	return Config{
		Pipeline: PipelineConfig{
			BatchSize:           10,
			SimilarityThreshold: 0.92,
			MaxPerGroup:         10,
			MaxAttempts:         3,
		},
		LLM: LLMConfig{
			BaseURL:        "http://localhost:11434/v1",
			ChatModel:      "gpt-oss:120b-cloud",
			EmbedModel:     "nomic-embed-text",
			CacheResponses: true,
		},
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Triggers: defaultTriggers(),
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "kaeval-data"
		}
	}
	return filepath.Join(dir, "kaeval")
}

// Load reads configuration from the config file under the data dir and
// environment variables, then validates it.
func Load() (Config, error) {
	cfg := defaults()

	// The data dir env override must win before the config file is located.
	if v := os.Getenv("KAEVAL_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if err := applyFile(&cfg, FilePath(cfg.Storage.DataDir)); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if path := os.Getenv("KAEVAL_TRIGGERS_FILE"); path != "" {
		triggers, err := LoadTriggers(path)
		if err != nil {
			return Config{}, fmt.Errorf("loading trigger table: %w", err)
		}
		cfg.Triggers = triggers
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FilePath returns the JSON config file location for a data dir.
func FilePath(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// filePayload is the JSON shape of the on-disk config file. Only a subset of
// settings is file-configurable; secrets stay in the environment.
type filePayload struct {
	BatchSize           *int     `json:"batch_size,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	MaxPerGroup         *int     `json:"max_per_group,omitempty"`
	MaxAttempts         *int     `json:"max_attempts,omitempty"`
	LLMBaseURL          *string  `json:"llm_base_url,omitempty"`
	ChatModel           *string  `json:"chat_model,omitempty"`
	EmbedModel          *string  `json:"embed_model,omitempty"`
	CacheResponses      *bool    `json:"cache_responses,omitempty"`
	RAGBaseURL          *string  `json:"rag_base_url,omitempty"`
	RAGUserEmail        *string  `json:"rag_user_email,omitempty"`
	ServerPort          *int     `json:"server_port,omitempty"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var p filePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if p.BatchSize != nil {
		cfg.Pipeline.BatchSize = *p.BatchSize
	}
	if p.SimilarityThreshold != nil {
		cfg.Pipeline.SimilarityThreshold = *p.SimilarityThreshold
	}
	if p.MaxPerGroup != nil {
		cfg.Pipeline.MaxPerGroup = *p.MaxPerGroup
	}
	if p.MaxAttempts != nil {
		cfg.Pipeline.MaxAttempts = *p.MaxAttempts
	}
	if p.LLMBaseURL != nil {
		cfg.LLM.BaseURL = *p.LLMBaseURL
	}
	if p.ChatModel != nil {
		cfg.LLM.ChatModel = *p.ChatModel
	}
	if p.EmbedModel != nil {
		cfg.LLM.EmbedModel = *p.EmbedModel
	}
	if p.CacheResponses != nil {
		cfg.LLM.CacheResponses = *p.CacheResponses
	}
	if p.RAGBaseURL != nil {
		cfg.RAG.BaseURL = *p.RAGBaseURL
	}
	if p.RAGUserEmail != nil {
		cfg.RAG.UserEmail = *p.RAGUserEmail
	}
	if p.ServerPort != nil {
		cfg.Server.Port = *p.ServerPort
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setInt("KAEVAL_BATCH_SIZE", &cfg.Pipeline.BatchSize)
	setFloat("KAEVAL_SIMILARITY_THRESHOLD", &cfg.Pipeline.SimilarityThreshold)
	setInt("KAEVAL_MAX_PER_GROUP", &cfg.Pipeline.MaxPerGroup)
	setInt("KAEVAL_MAX_ATTEMPTS", &cfg.Pipeline.MaxAttempts)
	setString("KAEVAL_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("KAEVAL_LLM_API_KEY", &cfg.LLM.APIKey)
	setString("KAEVAL_CHAT_MODEL", &cfg.LLM.ChatModel)
	setString("KAEVAL_EMBED_MODEL", &cfg.LLM.EmbedModel)
	setString("KAEVAL_RAG_API_URL", &cfg.RAG.BaseURL)
	setString("KAEVAL_RAG_API_KEY", &cfg.RAG.APIKey)
	setString("KAEVAL_RAG_API_EMAIL", &cfg.RAG.UserEmail)
	setInt("KAEVAL_SERVER_PORT", &cfg.Server.Port)
	setString("KAEVAL_DATA_DIR", &cfg.Storage.DataDir)
}

// Validate checks invariants that must hold before any data processing.
func (c Config) Validate() error {
	if c.Pipeline.SimilarityThreshold < 0 || c.Pipeline.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0, 1], got %v", c.Pipeline.SimilarityThreshold)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxPerGroup < 1 {
		return fmt.Errorf("max per group must be at least 1, got %d", c.Pipeline.MaxPerGroup)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("missing required config: LLM base URL. Set it via KAEVAL_LLM_BASE_URL")
	}
	if err := c.Triggers.Validate(); err != nil {
		return fmt.Errorf("trigger table: %w", err)
	}
	return nil
}

// ValidateRAG checks the settings needed to query the RAG system. Only the
// query command requires these, so they are validated separately.
func (c Config) ValidateRAG() error {
	if c.RAG.BaseURL == "" {
		return fmt.Errorf("missing required config: RAG API URL. Set it via KAEVAL_RAG_API_URL")
	}
	if c.RAG.APIKey == "" {
		return fmt.Errorf("missing required config: RAG API key. Set it via KAEVAL_RAG_API_KEY")
	}
	if c.RAG.UserEmail == "" {
		return fmt.Errorf("missing required config: RAG user email. Set it via KAEVAL_RAG_API_EMAIL")
	}
	return nil
}

// SetKey writes one file-configurable key to the config file under dataDir.
func SetKey(dataDir, key, value string) error {
	path := FilePath(dataDir)

	data := map[string]any{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parsing existing config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch key {
	case "batch_size", "max_per_group", "max_attempts", "server_port":
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		data[key] = i
	case "similarity_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		data[key] = f
	case "cache_responses":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", key, err)
		}
		data[key] = b
	case "llm_base_url", "chat_model", "embed_model", "rag_base_url", "rag_user_email":
		data[key] = value
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}

// KeyInfo describes one config key for display.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns the non-secret config key/value pairs.
func ShowAll(cfg Config) []KeyInfo {
	return []KeyInfo{
		{"batch_size", "KAEVAL_BATCH_SIZE", strconv.Itoa(cfg.Pipeline.BatchSize)},
		{"similarity_threshold", "KAEVAL_SIMILARITY_THRESHOLD", strconv.FormatFloat(cfg.Pipeline.SimilarityThreshold, 'g', -1, 64)},
		{"max_per_group", "KAEVAL_MAX_PER_GROUP", strconv.Itoa(cfg.Pipeline.MaxPerGroup)},
		{"max_attempts", "KAEVAL_MAX_ATTEMPTS", strconv.Itoa(cfg.Pipeline.MaxAttempts)},
		{"llm_base_url", "KAEVAL_LLM_BASE_URL", cfg.LLM.BaseURL},
		{"chat_model", "KAEVAL_CHAT_MODEL", cfg.LLM.ChatModel},
		{"embed_model", "KAEVAL_EMBED_MODEL", cfg.LLM.EmbedModel},
		{"cache_responses", "", strconv.FormatBool(cfg.LLM.CacheResponses)},
		{"rag_base_url", "KAEVAL_RAG_API_URL", cfg.RAG.BaseURL},
		{"rag_user_email", "KAEVAL_RAG_API_EMAIL", cfg.RAG.UserEmail},
		{"server_port", "KAEVAL_SERVER_PORT", strconv.Itoa(cfg.Server.Port)},
		{"data_dir", "KAEVAL_DATA_DIR", cfg.Storage.DataDir},
	}
}
