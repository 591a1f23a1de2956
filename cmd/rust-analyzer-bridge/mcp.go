package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/mcpserver"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the bridge as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := opts.newBridge()
			if err != nil {
				return err
			}
			defer b.Close()

			if root := opts.autoConnectRoot(); root != "" {
				b.StartAutoConnect(root)
			}

			mcpServer := mcpserver.NewServer("rust-analyzer-bridge", version, b, b)
			stdio := server.NewStdioServer(mcpServer)
			stdio.SetErrorLogger(zap.NewStdLog(logger.L()))

			logger.Info("MCP server listening on stdio")
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "forward on-disk changes to rust-analyzer")
	return cmd
}
