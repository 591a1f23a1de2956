// rust-analyzer-proxy runs rust-analyzer once over stdio and exposes it on a
// TCP port, so the bridge (mode "tcp") can reconnect without losing the
// index. Typical use is inside the container that holds the workspace:
//
//	rust-analyzer-proxy --workspace /src --port 9257 -- --log-file /tmp/ra.log
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
)

type options struct {
	bind      string
	port      int
	command   string
	workspace string
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "rust-analyzer-proxy [flags] [-- server args...]",
		Short:        "Expose one warm rust-analyzer over TCP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.Config{Level: opts.logLevel}); err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.bind, "bind", "0.0.0.0", "listen address")
	f.IntVarP(&opts.port, "port", "p", 9257, "TCP port to listen on")
	f.StringVar(&opts.command, "command", "rust-analyzer", "language server binary (env RUST_ANALYZER_PATH)")
	f.StringVarP(&opts.workspace, "workspace", "w", ".", "directory the server is started in")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug|info|warn|error")
	return cmd
}

func run(ctx context.Context, opts *options, args []string) error {
	command := opts.command
	if v := os.Getenv("RUST_ANALYZER_PATH"); v != "" {
		command = v
	}
	launcher := &lsp.StdioLauncher{Command: command, Args: args}
	proc, err := launcher.Launch(ctx, opts.workspace)
	if err != nil {
		return err
	}
	defer proc.Kill()

	ln, err := net.Listen("tcp", net.JoinHostPort(opts.bind, strconv.Itoa(opts.port)))
	if err != nil {
		return err
	}
	logger.Info("Proxy listening", "addr", ln.Addr().String(), "server", proc.Describe())

	p := newProxy(proc)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(p.readUpstream)
	g.Go(func() error {
		<-gctx.Done()
		_ = proc.Kill()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			if tcp, ok := conn.(*net.TCPConn); ok {
				_ = tcp.SetNoDelay(true)
			}
			go p.serve(conn, conn.RemoteAddr().String())
		}
	})
	g.Go(func() error {
		select {
		case <-proc.Exited():
			return errors.New("language server exited")
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("Proxy stopped")
		return nil
	}
	return err
}
