package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/model-router/internal/cache"
	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/routing"
	"github.com/tributary-ai/model-router/internal/shadow"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Router  routing.Config `yaml:"router"`
	Catalog CatalogConfig  `yaml:"catalog"`
	Cache   CacheConfig    `yaml:"cache"`
	Shadow  ShadowConfig   `yaml:"shadow"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	ValidateSpec   bool          `yaml:"validate_spec"`
	SpecPath       string        `yaml:"spec_path"`
}

// CatalogConfig holds the static model catalog
type CatalogConfig struct {
	Models []catalog.ModelInfo `yaml:"models"`
}

// CacheConfig holds semantic cache configuration
type CacheConfig struct {
	Enabled  bool         `yaml:"enabled"`
	Backend  string       `yaml:"backend"`  // "memory", "redis" or "sqlite"
	Embedder string       `yaml:"embedder"` // "hash" or "openai"
	Redis    RedisConfig  `yaml:"redis"`
	SQLite   SQLiteConfig `yaml:"sqlite"`
	OpenAI   OpenAIConfig `yaml:"openai"`
	Tuning   cache.Config `yaml:"tuning"`
}

// RedisConfig holds Redis backend settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLiteConfig holds SQLite backend settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// OpenAIConfig holds the embeddings API credentials
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
}

// ShadowConfig holds shadow evaluator configuration
type ShadowConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Weights     shadow.Weights `yaml:"weights"`
	MinQuality  float64        `yaml:"min_quality"`
	HistorySize int            `yaml:"history_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		ValidateSpec:   false,
		SpecPath:       "docs/openapi.yaml",
	}

	c.Router = routing.Config{
		MinQuality:    0.5,
		FallbackChain: []string{"gpt-4o-mini", "claude-3-haiku-20240307"},
	}

	c.Catalog = CatalogConfig{
		Models: []catalog.ModelInfo{
			{
				Name:              "gpt-4o",
				Provider:          "openai",
				InputCostPer1K:    0.005,
				OutputCostPer1K:   0.015,
				ExpectedLatencyMs: 1500,
				QualityPrior:      0.92,
			},
			{
				Name:              "gpt-4o-mini",
				Provider:          "openai",
				InputCostPer1K:    0.00015,
				OutputCostPer1K:   0.0006,
				ExpectedLatencyMs: 600,
				QualityPrior:      0.78,
			},
			{
				Name:              "claude-3-5-sonnet-20241022",
				Provider:          "anthropic",
				InputCostPer1K:    0.003,
				OutputCostPer1K:   0.015,
				ExpectedLatencyMs: 1400,
				QualityPrior:      0.93,
			},
			{
				Name:              "claude-3-haiku-20240307",
				Provider:          "anthropic",
				InputCostPer1K:    0.00025,
				OutputCostPer1K:   0.00125,
				ExpectedLatencyMs: 500,
				QualityPrior:      0.74,
			},
		},
	}

	c.Cache = CacheConfig{
		Enabled:  true,
		Backend:  "memory",
		Embedder: "hash",
		SQLite:   SQLiteConfig{Path: "model-router-cache.db"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
	}

	c.Shadow = ShadowConfig{
		Enabled:     false,
		Weights:     shadow.Weights{Quality: 0.5, Cost: 0.3, Latency: 0.2},
		MinQuality:  0.5,
		HistorySize: 256,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("MODEL_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	if backend := os.Getenv("MODEL_ROUTER_CACHE_BACKEND"); backend != "" {
		c.Cache.Backend = backend
	}

	if addr := os.Getenv("MODEL_ROUTER_REDIS_ADDR"); addr != "" {
		c.Cache.Redis.Addr = addr
	}

	if password := os.Getenv("MODEL_ROUTER_REDIS_PASSWORD"); password != "" {
		c.Cache.Redis.Password = password
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Cache.OpenAI.APIKey = key
	}

	if level := os.Getenv("MODEL_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("MODEL_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if len(c.Catalog.Models) == 0 {
		return fmt.Errorf("at least one model must be configured in the catalog")
	}
	for _, m := range c.Catalog.Models {
		if m.Name == "" {
			return fmt.Errorf("catalog model name cannot be empty")
		}
		if m.QualityPrior < 0 || m.QualityPrior > 1 {
			return fmt.Errorf("quality prior for %s must be in [0,1]", m.Name)
		}
	}

	validBackends := map[string]bool{
		"memory": true,
		"redis":  true,
		"sqlite": true,
	}
	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}

	validEmbedders := map[string]bool{
		"hash":   true,
		"openai": true,
	}
	if !validEmbedders[c.Cache.Embedder] {
		return fmt.Errorf("invalid cache embedder: %s", c.Cache.Embedder)
	}
	if c.Cache.Embedder == "openai" && c.Cache.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required for the openai embedder")
	}

	if t := c.Cache.Tuning; t.MinThreshold > 0 && t.MaxThreshold > 0 && t.MinThreshold >= t.MaxThreshold {
		return fmt.Errorf("cache min_threshold must be below max_threshold")
	}

	if w := c.Shadow.Weights; w.Quality < 0 || w.Cost < 0 || w.Latency < 0 {
		return fmt.Errorf("shadow utility weights cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
