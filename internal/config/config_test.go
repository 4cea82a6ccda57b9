package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
	if cfg.Engine.HeartbeatInterval != 5*time.Second {
		t.Errorf("expected 5s heartbeat, got %v", cfg.Engine.HeartbeatInterval)
	}
	if cfg.Engine.TypingRemoteExpiry != 3*time.Second {
		t.Errorf("expected 3s typing expiry, got %v", cfg.Engine.TypingRemoteExpiry)
	}
	if cfg.Engine.MaxReconnectAttempts != 5 {
		t.Errorf("expected 5 reconnect attempts, got %d", cfg.Engine.MaxReconnectAttempts)
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing engine", func(c *Config) { c.Engine = nil }},
		{"empty base url", func(c *Config) { c.Engine.BaseURL = "" }},
		{"empty websocket url", func(c *Config) { c.Engine.WebSocketURL = "" }},
		{"zero heartbeat", func(c *Config) { c.Engine.HeartbeatInterval = 0 }},
		{"zero backoff", func(c *Config) { c.Engine.ReconnectBaseDelay = 0 }},
		{"zero attempts", func(c *Config) { c.Engine.MaxReconnectAttempts = 0 }},
		{"zero page size", func(c *Config) { c.Engine.HistoryPageSize = 0 }},
		{"missing server", func(c *Config) { c.Server = nil }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Server.DatabasePath = "" }},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHATWIRE_BASE_URL", "https://api.example.com")
	t.Setenv("CHATWIRE_HEARTBEAT_INTERVAL", "7s")
	t.Setenv("CHATWIRE_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("CHATWIRE_SERVER_PORT", "9090")

	cfg := LoadFromEnv()

	if cfg.Engine.BaseURL != "https://api.example.com" {
		t.Errorf("base URL not overridden: %s", cfg.Engine.BaseURL)
	}
	if cfg.Engine.HeartbeatInterval != 7*time.Second {
		t.Errorf("heartbeat not overridden: %v", cfg.Engine.HeartbeatInterval)
	}
	if cfg.Engine.MaxReconnectAttempts != 3 {
		t.Errorf("attempts not overridden: %d", cfg.Engine.MaxReconnectAttempts)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port not overridden: %d", cfg.Server.Port)
	}
}

func TestLoadFromEnv_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("CHATWIRE_HEARTBEAT_INTERVAL", "definitely not a duration")
	t.Setenv("CHATWIRE_SERVER_PORT", "not a number")

	cfg := LoadFromEnv()

	if cfg.Engine.HeartbeatInterval != 5*time.Second {
		t.Errorf("invalid duration should fall back to default, got %v", cfg.Engine.HeartbeatInterval)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("invalid port should fall back to default, got %d", cfg.Server.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"engine": {
			"base_url": "https://file.example.com",
			"reconnect_base_delay": "250ms",
			"history_page_size": 25
		},
		"server": {
			"port": 9999,
			"database_path": "/tmp/chatwire-test.db"
		}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Engine.BaseURL != "https://file.example.com" {
		t.Errorf("base URL not loaded: %s", cfg.Engine.BaseURL)
	}
	if cfg.Engine.ReconnectBaseDelay != 250*time.Millisecond {
		t.Errorf("backoff not loaded: %v", cfg.Engine.ReconnectBaseDelay)
	}
	if cfg.Engine.HistoryPageSize != 25 {
		t.Errorf("page size not loaded: %d", cfg.Engine.HistoryPageSize)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port not loaded: %d", cfg.Server.Port)
	}
	// Untouched fields keep defaults.
	if cfg.Engine.HeartbeatInterval != 5*time.Second {
		t.Errorf("default heartbeat lost: %v", cfg.Engine.HeartbeatInterval)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestLoadWithPrecedence(t *testing.T) {
	t.Setenv("CHATWIRE_SERVER_PORT", "9090")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server":{"port":7777}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// File wins over environment.
	cfg := LoadWithPrecedence(path)
	if cfg.Server.Port != 7777 {
		t.Errorf("file should win, got port %d", cfg.Server.Port)
	}

	// Missing file falls back to environment.
	cfg = LoadWithPrecedence("/nonexistent/config.json")
	if cfg.Server.Port != 9090 {
		t.Errorf("env should win without file, got port %d", cfg.Server.Port)
	}
}
