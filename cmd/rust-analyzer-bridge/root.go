package main

import (
	"github.com/spf13/cobra"
	"rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/httpapi"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
)

type rootOptions struct {
	workspace string
	bind      string
	port      int
	config    string
	logLevel  string
	logFile   string
	logJSON   bool
	watch     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "rust-analyzer-bridge",
		Short:        "Keep rust-analyzer warm and answer code-intelligence queries",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: opts.logLevel, File: opts.logFile, JSON: opts.logJSON})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.workspace, "workspace", "w", "", "Cargo workspace root (env RUST_ANALYZER_WORKSPACE)")
	f.StringVar(&opts.bind, "bind", httpapi.DefaultBind, "HTTP API bind address")
	f.IntVarP(&opts.port, "port", "p", 0, "HTTP API port (env RUST_ANALYZER_PORT, default 15423)")
	f.StringVarP(&opts.config, "config", "c", "", "JSON config file")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug|info|warn|error")
	f.StringVar(&opts.logFile, "log-file", "", "also write logs to this file")
	f.BoolVar(&opts.logJSON, "log-json", false, "log JSON to stderr")

	cmd.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newStatusCmd(opts),
		newWorkspaceCmd(opts),
		newCallCmd(opts),
	)
	return cmd
}

// httpPort resolves --port, then RUST_ANALYZER_PORT, then the default.
func (o *rootOptions) httpPort() int {
	if o.port > 0 {
		return o.port
	}
	return httpapi.Port(httpapi.DefaultPort)
}

// newBridge loads the config and builds an idle bridge.
func (o *rootOptions) newBridge() (*bridge.Bridge, error) {
	cfg, err := lsp.LoadConfig(o.config)
	if err != nil {
		return nil, err
	}
	launcher, err := lsp.NewLauncher(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Bridge configured", "mode", cfg.GetMode(), "command", cfg.Command, "watch", o.watch)
	return bridge.New(cfg, launcher, bridge.WithWatcher(o.watch)), nil
}

// autoConnectRoot is --workspace, else RUST_ANALYZER_WORKSPACE.
func (o *rootOptions) autoConnectRoot() string {
	if o.workspace != "" {
		return o.workspace
	}
	return bridge.AutoConnectRoot("")
}
