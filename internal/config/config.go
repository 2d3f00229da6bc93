// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port       int    `yaml:"port"`
	AuthSecret string `yaml:"auth_secret"` // JWT signing secret shared with the desktop shell
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type QueueConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	Timeout       time.Duration `yaml:"timeout"`
	StreamWarnGap time.Duration `yaml:"stream_warn_gap"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type EmbeddingConfig struct {
	CacheSize int          `yaml:"cache_size"` // L1 memory cache capacity
	BatchSize int          `yaml:"batch_size"` // concurrent calls per batch job
	LocalDim  int          `yaml:"local_dim"`  // fallback embedding dimensions
	Redis     *RedisConfig `yaml:"redis"`      // optional L2; nil disables it
}

type VectorDBConfig struct {
	Driver     string `yaml:"driver"` // chroma | qdrant | memory
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

type SettingsConfig struct {
	Path string `yaml:"path"` // AI settings JSON document
}

type SecurityConfig struct {
	// EncryptionKey seals provider API keys in the settings file. Must be
	// 16, 24 or 32 bytes; empty stores keys in plaintext.
	EncryptionKey string `yaml:"encryption_key"`
}

// ChunkingConfig bounds document chunks; zero values pick the chunker
// defaults.
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	MinChunkSize int `yaml:"min_chunk_size"`
	Overlap      int `yaml:"overlap"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Queue     QueueConfig     `yaml:"queue"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	VectorDB  VectorDBConfig  `yaml:"vectordb"`
	Settings  SettingsConfig  `yaml:"settings"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads flags and the yaml file. Flags are parsed here so main
// stays a pure composition root.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Server.AuthSecret == "" && !dev {
		return nil, errors.New("server.auth_secret is required outside dev mode")
	}
	switch cfg.VectorDB.Driver {
	case "chroma", "qdrant":
		if cfg.VectorDB.URL == "" {
			return nil, fmt.Errorf("vectordb.url is required for driver %q", cfg.VectorDB.Driver)
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown vectordb.driver %q", cfg.VectorDB.Driver)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Embedding.CacheSize <= 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 10
	}
	if cfg.Embedding.LocalDim <= 0 {
		cfg.Embedding.LocalDim = 256
	}
	if cfg.Embedding.Redis != nil && cfg.Embedding.Redis.TTL <= 0 {
		cfg.Embedding.Redis.TTL = 24 * time.Hour
	}
	if cfg.VectorDB.Driver == "" {
		cfg.VectorDB.Driver = "memory"
	}
	if cfg.VectorDB.Collection == "" {
		cfg.VectorDB.Collection = "default"
	}
	if cfg.Settings.Path == "" {
		cfg.Settings.Path = "ai-settings.json"
	}
}
