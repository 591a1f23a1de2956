package lsp

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Connection modes for reaching the language server.
const (
	ModeStdio     = "stdio"
	ModeTCP       = "tcp"
	ModeWebSocket = "websocket"
)

// Duration is a time.Duration that reads "30s"-style strings (or integer
// milliseconds) from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %s", string(b))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// PathMappingConfig maps the local workspace onto the path the server sees.
type PathMappingConfig struct {
	LocalRoot  string `json:"local_root"`
	RemoteRoot string `json:"remote_root"`
}

// Config describes how to reach rust-analyzer and how long to wait for it.
type Config struct {
	Command               string         `json:"command"`
	Args                  []string       `json:"args,omitempty"`
	Env                   []string       `json:"env,omitempty"`
	InitializationOptions map[string]any `json:"initialization_options,omitempty"`

	// Mode selects the transport: "stdio" (default), "tcp" or "websocket".
	Mode string `json:"mode,omitempty"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	PathMapping *PathMappingConfig `json:"path_mapping,omitempty"`

	RequestTimeout    Duration `json:"request_timeout,omitempty"`
	InitTimeout       Duration `json:"init_timeout,omitempty"`
	IndexingTimeout   Duration `json:"indexing_timeout,omitempty"`
	DocumentOpenDelay Duration `json:"document_open_delay,omitempty"`
	ShutdownTimeout   Duration `json:"shutdown_timeout,omitempty"`

	RetryInterval    Duration `json:"retry_interval,omitempty"`
	MaxRetryInterval Duration `json:"max_retry_interval,omitempty"`
	MaxRetries       int      `json:"max_retries,omitempty"`

	MaxConnectionAttempts int      `json:"max_connection_attempts,omitempty"`
	ConnectRetryDelay     Duration `json:"connect_retry_delay,omitempty"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Command:               "rust-analyzer",
		Mode:                  ModeStdio,
		RequestTimeout:        Duration(30 * time.Second),
		InitTimeout:           Duration(60 * time.Second),
		IndexingTimeout:       Duration(60 * time.Second),
		DocumentOpenDelay:     Duration(1000 * time.Millisecond),
		ShutdownTimeout:       Duration(2 * time.Second),
		RetryInterval:         Duration(200 * time.Millisecond),
		MaxRetryInterval:      Duration(2 * time.Second),
		MaxRetries:            20,
		MaxConnectionAttempts: 5,
		ConnectRetryDelay:     Duration(2 * time.Second),
	}
}

// GetMode returns the transport mode, defaulting to stdio.
func (c *Config) GetMode() string {
	if c.Mode == "" {
		return ModeStdio
	}
	return c.Mode
}

// IsTCPMode reports whether the server is reached over a raw socket.
func (c *Config) IsTCPMode() bool { return c.Mode == ModeTCP }

// IsWebSocketMode reports whether the server is reached over WebSocket.
func (c *Config) IsWebSocketMode() bool { return c.Mode == ModeWebSocket }

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Command == "" {
		c.Command = d.Command
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = d.InitTimeout
	}
	if c.IndexingTimeout <= 0 {
		c.IndexingTimeout = d.IndexingTimeout
	}
	if c.DocumentOpenDelay < 0 {
		c.DocumentOpenDelay = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxRetryInterval <= 0 {
		c.MaxRetryInterval = d.MaxRetryInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxConnectionAttempts <= 0 {
		c.MaxConnectionAttempts = d.MaxConnectionAttempts
	}
	if c.ConnectRetryDelay <= 0 {
		c.ConnectRetryDelay = d.ConnectRetryDelay
	}
	return c
}

// Validate checks mode-specific requirements.
func (c *Config) Validate() error {
	switch c.GetMode() {
	case ModeStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio mode requires a command")
		}
	case ModeTCP, ModeWebSocket:
		if c.Port <= 0 {
			return fmt.Errorf("%s mode requires a port", c.Mode)
		}
	default:
		return fmt.Errorf("unknown mode %q (want stdio, tcp or websocket)", c.Mode)
	}
	if pm := c.PathMapping; pm != nil && (pm.LocalRoot == "") != (pm.RemoteRoot == "") {
		return fmt.Errorf("path_mapping needs both local_root and remote_root")
	}
	return nil
}

// LoadConfig reads a JSON config file. An empty path yields the defaults.
// Environment overrides are applied on top in both cases.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Absent keys keep their defaults.
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	ApplyEnvOverrides(&cfg)
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalized returns a copy with defaults applied.
func (c Config) Normalized() Config { return c.withDefaults() }
