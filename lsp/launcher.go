package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"rockerboo/rust-analyzer-bridge/logger"
)

// Process is a live connection to one language server instance. For stdio
// it is a child process; for remote modes it is a socket and Pid is 0.
type Process interface {
	io.ReadWriteCloser
	// Pid returns the child process id, or 0 for remote servers.
	Pid() int
	// Kill terminates the server (or drops the connection) immediately.
	Kill() error
	// Exited is closed once the process or connection has gone away.
	Exited() <-chan struct{}
	// Describe is a human-readable endpoint for logs and status.
	Describe() string
}

// Launcher starts a language server rooted at a workspace directory.
type Launcher interface {
	Launch(ctx context.Context, root string) (Process, error)
}

// NewLauncher picks the launcher for cfg's transport mode.
func NewLauncher(cfg Config) (Launcher, error) {
	cfg = cfg.withDefaults()
	switch cfg.GetMode() {
	case ModeStdio:
		return &StdioLauncher{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env}, nil
	case ModeTCP:
		return &TCPLauncher{
			Host:        cfg.Host,
			Port:        cfg.Port,
			MaxAttempts: cfg.MaxConnectionAttempts,
			RetryDelay:  cfg.ConnectRetryDelay.D(),
		}, nil
	case ModeWebSocket:
		return &WebSocketLauncher{
			Host:        cfg.Host,
			Port:        cfg.Port,
			MaxAttempts: cfg.MaxConnectionAttempts,
			RetryDelay:  cfg.ConnectRetryDelay.D(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// StdioLauncher spawns the server as a child process and talks to it over
// its stdin and stdout. Stderr is forwarded to the debug log.
type StdioLauncher struct {
	Command string
	Args    []string
	Env     []string
}

func (l *StdioLauncher) Launch(ctx context.Context, root string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Command == "" {
		return nil, errors.New("no language server command configured")
	}
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), l.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}

	p := &stdioProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}
	go forwardStderr(cmd.Process.Pid, stderr)
	go p.wait()

	logger.Info("Language server started", "command", l.Command, "pid", cmd.Process.Pid, "root", root)
	return p, nil
}

type stdioProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	exited    chan struct{}
	waitErr   error
}

func (p *stdioProcess) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *stdioProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close closes both pipes. A well-behaved server exits on stdin EOF.
func (p *stdioProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.stdin.Close(), p.stdout.Close())
	})
	return err
}

func (p *stdioProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *stdioProcess) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *stdioProcess) Exited() <-chan struct{} { return p.exited }

func (p *stdioProcess) Describe() string {
	return fmt.Sprintf("%s (pid %d)", p.cmd.Path, p.Pid())
}

func (p *stdioProcess) wait() {
	p.waitErr = p.cmd.Wait()
	if p.waitErr != nil {
		logger.Warn("Language server exited", "pid", p.Pid(), "error", p.waitErr)
	} else {
		logger.Info("Language server exited", "pid", p.Pid())
	}
	close(p.exited)
}

func forwardStderr(pid int, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		logger.Debug("rust-analyzer stderr", "pid", pid, "line", sc.Text())
	}
}
