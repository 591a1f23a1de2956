// rust-analyzer-bridge keeps one rust-analyzer process warm for a Cargo
// workspace and serves its answers to agents.
//
// Subcommands:
//
//	serve      HTTP API daemon (default 127.0.0.1:15423)
//	mcp        MCP server over stdio
//	status     query a running daemon
//	workspace  show or change the daemon's workspace
//	call       run one tool against a running daemon
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
