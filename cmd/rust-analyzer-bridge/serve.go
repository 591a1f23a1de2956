package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"rockerboo/rust-analyzer-bridge/httpapi"
	"rockerboo/rust-analyzer-bridge/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "forward on-disk changes to rust-analyzer")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	b, err := opts.newBridge()
	if err != nil {
		return err
	}
	defer b.Close()

	addr := net.JoinHostPort(opts.bind, strconv.Itoa(opts.httpPort()))
	srv := httpapi.New(b, addr)

	// Shutdown over the API ends the whole group, auto-connect included.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		if err := srv.ListenAndServe(gctx); err != nil {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	if root := opts.autoConnectRoot(); root != "" {
		g.Go(func() error {
			// A failed start leaves the bridge in error; clients see it in
			// status and may set a workspace themselves.
			if err := b.SyncAutoConnect(gctx, root); err == nil {
				b.StartWarmup()
			}
			return nil
		})
	} else {
		logger.Info("No workspace configured; waiting for set_workspace")
	}

	err = g.Wait()
	logger.Info("Daemon stopped")
	return err
}
