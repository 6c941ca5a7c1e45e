package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port '8080', got %s", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Expected default read timeout 30s, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.Logging.Level)
	}

	if cfg.Cache.Backend != "memory" {
		t.Errorf("Expected default cache backend 'memory', got %s", cfg.Cache.Backend)
	}

	if cfg.Cache.Embedder != "hash" {
		t.Errorf("Expected default embedder 'hash', got %s", cfg.Cache.Embedder)
	}

	if len(cfg.Catalog.Models) == 0 {
		t.Error("Default catalog should contain models")
	}

	if len(cfg.Router.FallbackChain) == 0 {
		t.Error("Default fallback chain should not be empty")
	}
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	os.Setenv("MODEL_ROUTER_PORT", "9090")
	os.Setenv("MODEL_ROUTER_LOG_LEVEL", "debug")
	os.Setenv("MODEL_ROUTER_LOG_FORMAT", "text")
	os.Setenv("MODEL_ROUTER_CACHE_BACKEND", "sqlite")
	os.Setenv("MODEL_ROUTER_REDIS_ADDR", "redis.internal:6379")

	defer func() {
		os.Unsetenv("MODEL_ROUTER_PORT")
		os.Unsetenv("MODEL_ROUTER_LOG_LEVEL")
		os.Unsetenv("MODEL_ROUTER_LOG_FORMAT")
		os.Unsetenv("MODEL_ROUTER_CACHE_BACKEND")
		os.Unsetenv("MODEL_ROUTER_REDIS_ADDR")
	}()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port '9090', got %s", cfg.Server.Port)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected log format 'text', got %s", cfg.Logging.Format)
	}

	if cfg.Cache.Backend != "sqlite" {
		t.Errorf("Expected cache backend 'sqlite', got %s", cfg.Cache.Backend)
	}

	if cfg.Cache.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Expected redis addr 'redis.internal:6379', got %s", cfg.Cache.Redis.Addr)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errMsg  string
	}{
		{
			name:   "Empty port",
			mutate: func(c *Config) { c.Server.Port = "" },
			errMsg: "server port cannot be empty",
		},
		{
			name:   "Invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			errMsg: "invalid log level",
		},
		{
			name:   "Invalid cache backend",
			mutate: func(c *Config) { c.Cache.Backend = "memcached" },
			errMsg: "invalid cache backend",
		},
		{
			name:   "Invalid embedder",
			mutate: func(c *Config) { c.Cache.Embedder = "word2vec" },
			errMsg: "invalid cache embedder",
		},
		{
			name: "OpenAI embedder without key",
			mutate: func(c *Config) {
				c.Cache.Embedder = "openai"
				c.Cache.OpenAI.APIKey = ""
			},
			errMsg: "OpenAI API key is required",
		},
		{
			name:   "Empty catalog",
			mutate: func(c *Config) { c.Catalog.Models = nil },
			errMsg: "at least one model",
		},
		{
			name: "Quality prior out of range",
			mutate: func(c *Config) {
				c.Catalog.Models[0].QualityPrior = 1.5
			},
			errMsg: "must be in [0,1]",
		},
		{
			name: "Inverted thresholds",
			mutate: func(c *Config) {
				c.Cache.Tuning.MinThreshold = 0.95
				c.Cache.Tuning.MaxThreshold = 0.80
			},
			errMsg: "min_threshold must be below max_threshold",
		},
		{
			name: "Negative shadow weight",
			mutate: func(c *Config) {
				c.Shadow.Weights.Cost = -0.1
			},
			errMsg: "cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.setDefaults()
			tt.mutate(cfg)

			err := cfg.validate()
			if err == nil {
				t.Fatal("Expected validation error but got none")
			}
			if !containsString(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoadConfig_FileLoading(t *testing.T) {
	configContent := `
server:
  port: "3000"

router:
  min_quality: 0.6
  fallback_chain: ["claude-3-haiku-20240307"]

cache:
  backend: "sqlite"
  tuning:
    min_threshold: 0.80
    max_threshold: 0.95
    initial_threshold: 0.88

logging:
  level: "warn"
  format: "text"
`

	tmpFile, err := os.CreateTemp("", "test_config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Errorf("Expected port '3000', got %s", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("File without timeouts should keep the default, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Router.MinQuality != 0.6 {
		t.Errorf("Expected min quality 0.6, got %.2f", cfg.Router.MinQuality)
	}

	if len(cfg.Router.FallbackChain) != 1 || cfg.Router.FallbackChain[0] != "claude-3-haiku-20240307" {
		t.Errorf("Expected single-entry fallback chain, got %v", cfg.Router.FallbackChain)
	}

	if cfg.Cache.Backend != "sqlite" {
		t.Errorf("Expected cache backend 'sqlite', got %s", cfg.Cache.Backend)
	}

	if cfg.Cache.Tuning.InitialThreshold != 0.88 {
		t.Errorf("Expected initial threshold 0.88, got %.2f", cfg.Cache.Tuning.InitialThreshold)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level 'warn', got %s", cfg.Logging.Level)
	}
}

func TestConfig_SaveToFile(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Server.Port = "4000"

	tmpFile, err := os.CreateTemp("", "test_save_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	if err := cfg.SaveToFile(tmpFile.Name()); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	data, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}

	content := string(data)
	if !containsString(content, "port: \"4000\"") {
		t.Error("Saved config should contain the custom port")
	}

	if !containsString(content, "backend: memory") {
		t.Error("Saved config should contain the cache backend")
	}
}

// Helper functions
func containsString(s, substr string) bool {
	return len(substr) <= len(s) && (substr == s || containsSubstring(s, substr))
}

func containsSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func BenchmarkLoadConfig_Defaults(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = LoadConfig("")
	}
}
