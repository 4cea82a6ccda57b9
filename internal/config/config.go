// Package config carries settings for the chat engine and the
// reference backend. Precedence is file > environment > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	Engine *EngineConfig `json:"engine"`
	Server *ServerConfig `json:"server"`
}

// EngineConfig tunes the client-side synchronization engine.
type EngineConfig struct {
	BaseURL      string `json:"base_url"`      // REST collaborators (history, rooms, uploads)
	WebSocketURL string `json:"websocket_url"` // room-scoped websocket endpoint base
	AuthToken    string `json:"auth_token"`

	HeartbeatInterval    time.Duration `json:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	DisconnectTimeout    time.Duration `json:"disconnect_timeout"`
	DialTimeout          time.Duration `json:"dial_timeout"`

	TypingIdleTimeout  time.Duration `json:"typing_idle_timeout"`
	TypingRemoteExpiry time.Duration `json:"typing_remote_expiry"`
	ReadAckWindow      time.Duration `json:"read_ack_window"`
	HistoryPageSize    int           `json:"history_page_size"`
}

// ServerConfig tunes the reference chat backend.
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	DatabasePath string        `json:"database_path"`
	UploadDir    string        `json:"upload_dir"`
	AuthToken    string        `json:"auth_token"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultConfig returns production defaults. The 5s heartbeat and 3s
// typing windows match the protocol the backend speaks.
func DefaultConfig() *Config {
	return &Config{
		Engine: &EngineConfig{
			BaseURL:              "http://localhost:8080",
			WebSocketURL:         "ws://localhost:8080/ws",
			HeartbeatInterval:    5 * time.Second,
			ReconnectBaseDelay:   500 * time.Millisecond,
			MaxReconnectAttempts: 5,
			DisconnectTimeout:    3 * time.Second,
			DialTimeout:          10 * time.Second,
			TypingIdleTimeout:    3 * time.Second,
			TypingRemoteExpiry:   3 * time.Second,
			ReadAckWindow:        250 * time.Millisecond,
			HistoryPageSize:      50,
		},
		Server: &ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			DatabasePath: "./chatwire.db",
			UploadDir:    "./uploads",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Engine == nil {
		return fmt.Errorf("engine configuration is required")
	}
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine base URL cannot be empty")
	}
	if c.Engine.WebSocketURL == "" {
		return fmt.Errorf("engine websocket URL cannot be empty")
	}
	if c.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Engine.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}
	if c.Engine.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max reconnect attempts must be at least 1")
	}
	if c.Engine.DisconnectTimeout <= 0 {
		return fmt.Errorf("disconnect timeout must be positive")
	}
	if c.Engine.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.Engine.TypingIdleTimeout <= 0 {
		return fmt.Errorf("typing idle timeout must be positive")
	}
	if c.Engine.TypingRemoteExpiry <= 0 {
		return fmt.Errorf("typing remote expiry must be positive")
	}
	if c.Engine.ReadAckWindow <= 0 {
		return fmt.Errorf("read ack window must be positive")
	}
	if c.Engine.HistoryPageSize < 1 {
		return fmt.Errorf("history page size must be at least 1")
	}

	if c.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Server.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Server.UploadDir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	return nil
}

// LoadFromEnv overlays CHATWIRE_* environment variables on defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("CHATWIRE_BASE_URL", &config.Engine.BaseURL)
	setString("CHATWIRE_WEBSOCKET_URL", &config.Engine.WebSocketURL)
	setString("CHATWIRE_AUTH_TOKEN", &config.Engine.AuthToken)
	setDuration("CHATWIRE_HEARTBEAT_INTERVAL", &config.Engine.HeartbeatInterval)
	setDuration("CHATWIRE_RECONNECT_BASE_DELAY", &config.Engine.ReconnectBaseDelay)
	setInt("CHATWIRE_MAX_RECONNECT_ATTEMPTS", &config.Engine.MaxReconnectAttempts)
	setDuration("CHATWIRE_DISCONNECT_TIMEOUT", &config.Engine.DisconnectTimeout)
	setDuration("CHATWIRE_DIAL_TIMEOUT", &config.Engine.DialTimeout)
	setDuration("CHATWIRE_TYPING_IDLE_TIMEOUT", &config.Engine.TypingIdleTimeout)
	setDuration("CHATWIRE_TYPING_REMOTE_EXPIRY", &config.Engine.TypingRemoteExpiry)
	setDuration("CHATWIRE_READ_ACK_WINDOW", &config.Engine.ReadAckWindow)
	setInt("CHATWIRE_HISTORY_PAGE_SIZE", &config.Engine.HistoryPageSize)

	setString("CHATWIRE_SERVER_HOST", &config.Server.Host)
	setInt("CHATWIRE_SERVER_PORT", &config.Server.Port)
	setString("CHATWIRE_DATABASE_PATH", &config.Server.DatabasePath)
	setString("CHATWIRE_UPLOAD_DIR", &config.Server.UploadDir)
	setString("CHATWIRE_SERVER_AUTH_TOKEN", &config.Server.AuthToken)
	setDuration("CHATWIRE_SERVER_READ_TIMEOUT", &config.Server.ReadTimeout)
	setDuration("CHATWIRE_SERVER_WRITE_TIMEOUT", &config.Server.WriteTimeout)

	return config
}

// configFile mirrors Config for JSON parsing, with durations as
// strings so files stay readable.
type configFile struct {
	Engine *engineConfigFile `json:"engine"`
	Server *serverConfigFile `json:"server"`
}

type engineConfigFile struct {
	BaseURL              string `json:"base_url"`
	WebSocketURL         string `json:"websocket_url"`
	AuthToken            string `json:"auth_token"`
	HeartbeatInterval    string `json:"heartbeat_interval"`
	ReconnectBaseDelay   string `json:"reconnect_base_delay"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	DisconnectTimeout    string `json:"disconnect_timeout"`
	DialTimeout          string `json:"dial_timeout"`
	TypingIdleTimeout    string `json:"typing_idle_timeout"`
	TypingRemoteExpiry   string `json:"typing_remote_expiry"`
	ReadAckWindow        string `json:"read_ack_window"`
	HistoryPageSize      int    `json:"history_page_size"`
}

type serverConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DatabasePath string `json:"database_path"`
	UploadDir    string `json:"upload_dir"`
	AuthToken    string `json:"auth_token"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

func overlayDuration(raw string, dst *time.Duration) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// LoadFromFile overlays a JSON config file on defaults and validates
// the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if file.Engine != nil {
		e := file.Engine
		if e.BaseURL != "" {
			config.Engine.BaseURL = e.BaseURL
		}
		if e.WebSocketURL != "" {
			config.Engine.WebSocketURL = e.WebSocketURL
		}
		if e.AuthToken != "" {
			config.Engine.AuthToken = e.AuthToken
		}
		overlayDuration(e.HeartbeatInterval, &config.Engine.HeartbeatInterval)
		overlayDuration(e.ReconnectBaseDelay, &config.Engine.ReconnectBaseDelay)
		if e.MaxReconnectAttempts > 0 {
			config.Engine.MaxReconnectAttempts = e.MaxReconnectAttempts
		}
		overlayDuration(e.DisconnectTimeout, &config.Engine.DisconnectTimeout)
		overlayDuration(e.DialTimeout, &config.Engine.DialTimeout)
		overlayDuration(e.TypingIdleTimeout, &config.Engine.TypingIdleTimeout)
		overlayDuration(e.TypingRemoteExpiry, &config.Engine.TypingRemoteExpiry)
		overlayDuration(e.ReadAckWindow, &config.Engine.ReadAckWindow)
		if e.HistoryPageSize > 0 {
			config.Engine.HistoryPageSize = e.HistoryPageSize
		}
	}

	if file.Server != nil {
		s := file.Server
		if s.Host != "" {
			config.Server.Host = s.Host
		}
		if s.Port > 0 {
			config.Server.Port = s.Port
		}
		if s.DatabasePath != "" {
			config.Server.DatabasePath = s.DatabasePath
		}
		if s.UploadDir != "" {
			config.Server.UploadDir = s.UploadDir
		}
		if s.AuthToken != "" {
			config.Server.AuthToken = s.AuthToken
		}
		overlayDuration(s.ReadTimeout, &config.Server.ReadTimeout)
		overlayDuration(s.WriteTimeout, &config.Server.WriteTimeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadWithPrecedence resolves configuration as file > env > defaults.
// A missing or unreadable file falls back to the environment overlay.
func LoadWithPrecedence(path string) *Config {
	config := LoadFromEnv()

	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}
	return config
}
