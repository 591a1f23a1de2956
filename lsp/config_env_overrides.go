package lsp

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides mutates cfg from environment variables, so MCP hosts can
// tune the bridge without a config file.
//
// Supported env vars:
//   - RUST_ANALYZER_PATH:                  server binary
//   - RUST_ANALYZER_ARGS:                  whitespace-separated extra args
//   - RUST_ANALYZER_MODE:                  stdio|tcp|websocket
//   - RUST_ANALYZER_HOST, RUST_ANALYZER_LSP_PORT: remote server address
//   - LSP_REQUEST_TIMEOUT_SECS:            per-request timeout
//   - RUST_ANALYZER_INDEXING_TIMEOUT_SECS: total retry budget while indexing
//   - DOCUMENT_OPEN_DELAY_MILLIS:          pause after didOpen
//   - ${VAR_NAME} in args is expanded from the environment
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := strings.TrimSpace(os.Getenv("RUST_ANALYZER_PATH")); v != "" {
		cfg.Command = v
	}
	if v := strings.TrimSpace(os.Getenv("RUST_ANALYZER_ARGS")); v != "" {
		cfg.Args = append(cfg.Args, strings.Fields(v)...)
	}
	if v := strings.TrimSpace(os.Getenv("RUST_ANALYZER_MODE")); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("RUST_ANALYZER_HOST")); v != "" {
		cfg.Host = v
	}
	if n, ok := envInt("RUST_ANALYZER_LSP_PORT"); ok {
		cfg.Port = n
	}
	if n, ok := envInt("LSP_REQUEST_TIMEOUT_SECS"); ok && n > 0 {
		cfg.RequestTimeout = Duration(time.Duration(n) * time.Second)
	}
	if n, ok := envInt("RUST_ANALYZER_INDEXING_TIMEOUT_SECS"); ok && n > 0 {
		cfg.IndexingTimeout = Duration(time.Duration(n) * time.Second)
	}
	if n, ok := envInt("DOCUMENT_OPEN_DELAY_MILLIS"); ok && n >= 0 {
		cfg.DocumentOpenDelay = Duration(time.Duration(n) * time.Millisecond)
	}

	cfg.Args = expandEnvVarsInArgs(cfg.Args)
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// expandEnvVarsInArgs replaces ${VAR_NAME} placeholders in args with environment variable values.
// If a variable is not set, the placeholder is left unchanged.
func expandEnvVarsInArgs(args []string) []string {
	if args == nil {
		return nil
	}
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = os.Expand(arg, func(key string) string {
			if val, exists := os.LookupEnv(key); exists {
				return val
			}
			return "${" + key + "}"
		})
	}
	return result
}
