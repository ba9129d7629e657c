package config

import (
	"time"

	"github.com/christopherjohns/chatline/internal/logging"
)

// Store backends understood by Storage.Backend.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config represents the application configuration
type Config struct {
	HTTP    HTTPConfig     `yaml:"http" envconfig:"HTTP"`
	Auth    AuthConfig     `yaml:"auth" envconfig:"AUTH"`
	Hub     HubConfig      `yaml:"hub" envconfig:"HUB"`
	Storage StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	Logging logging.Config `yaml:"logging" envconfig:"LOG"`
}

// HTTPConfig represents the listener and browser-facing settings
type HTTPConfig struct {
	Addr              string        `yaml:"addr" envconfig:"ADDR"`
	ClientOrigin      string        `yaml:"client_origin" envconfig:"CLIENT_ORIGIN"`
	CookieSecure      bool          `yaml:"cookie_secure" envconfig:"COOKIE_SECURE"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// AuthConfig represents identity token and credential endpoint settings
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
	RateLimit  int           `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateWindow time.Duration `yaml:"rate_window" envconfig:"RATE_WINDOW"`
}

// HubConfig represents the realtime hub settings
type HubConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" envconfig:"HEARTBEAT_TIMEOUT"`
	SendBuffer        int           `yaml:"send_buffer" envconfig:"SEND_BUFFER"`
	MaxConns          int           `yaml:"max_conns" envconfig:"MAX_CONNS"`
	MaxFrameBytes     int64         `yaml:"max_frame_bytes" envconfig:"MAX_FRAME_BYTES"`
	WriteTimeout      time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
}

// StorageConfig represents persistence settings
type StorageConfig struct {
	Backend            string `yaml:"backend" envconfig:"BACKEND"`
	BadgerPath         string `yaml:"badger_path" envconfig:"BADGER_PATH"`
	RedisAddr          string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	UploadsDir         string `yaml:"uploads_dir" envconfig:"UPLOADS_DIR"`
	MaxAttachmentBytes int64  `yaml:"max_attachment_bytes" envconfig:"MAX_ATTACHMENT_BYTES"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              ":4040",
			ClientOrigin:      "http://localhost:5173",
			CookieSecure:      true,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			RateLimit:  10,
			RateWindow: time.Minute,
		},
		Hub: HubConfig{
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  time.Second,
			SendBuffer:        16,
			MaxConns:          0,
			MaxFrameBytes:     8 << 20,
			WriteTimeout:      5 * time.Second,
		},
		Storage: StorageConfig{
			Backend:            BackendBadger,
			BadgerPath:         "data/badger",
			UploadsDir:         "uploads",
			MaxAttachmentBytes: 5 << 20,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return NewError("http.addr", "listen address is required")
	}
	if c.Auth.JWTSecret == "" {
		return NewError("auth.jwt_secret", "a signing secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return NewError("auth.token_ttl", "must be positive")
	}
	if c.Auth.RateLimit < 0 {
		return NewError("auth.rate_limit", "cannot be negative")
	}
	if c.Hub.HeartbeatInterval <= 0 {
		return NewError("hub.heartbeat_interval", "must be positive")
	}
	if c.Hub.HeartbeatTimeout <= 0 {
		return NewError("hub.heartbeat_timeout", "must be positive")
	}
	if c.Hub.SendBuffer <= 0 {
		return NewError("hub.send_buffer", "must be positive")
	}
	if c.Hub.MaxConns < 0 {
		return NewError("hub.max_conns", "cannot be negative")
	}
	if c.Hub.MaxFrameBytes <= 0 {
		return NewError("hub.max_frame_bytes", "must be positive")
	}
	if c.Storage.MaxAttachmentBytes <= 0 {
		return NewError("storage.max_attachment_bytes", "must be positive")
	}
	if c.Storage.UploadsDir == "" {
		return NewError("storage.uploads_dir", "uploads directory is required")
	}

	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.BadgerPath == "" {
			return NewError("storage.badger_path", "required for the badger backend")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return NewError("storage.redis_addr", "required for the redis backend")
		}
	case BackendMemory:
	default:
		return NewError("storage.backend", "must be one of badger, redis, memory")
	}

	return nil
}
