// Package pty implements the PTY Adapter: spawning, resizing and
// killing a child shell behind a pseudo-terminal (spec.md §4.8 "PTY
// adapter").
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// SpawnConfig describes the child process to attach to a PTY.
type SpawnConfig struct {
	Command string
	Args    []string
	Cwd     string
	Env     []string
	Cols    int
	Rows    int
	// Daemon wraps the child in /bin/sh with SIGHUP ignored so it
	// survives the parent detaching (ALWAYS_CODER_DAEMON=true).
	Daemon bool
}

// ExitInfo is reported once on the Exit channel when the child ends.
type ExitInfo struct {
	Code   int
	Signal string
}

// Process is a running PTY-attached child process.
type Process struct {
	cmd *exec.Cmd
	f   *os.File

	Data chan []byte
	Exit chan ExitInfo

	done      chan struct{}
	closeOnce sync.Once
}

// Spawn starts command under a PTY sized cols x rows, forcing
// TERM=xterm-256color as the teacher's own PTY host does.
func Spawn(cfg SpawnConfig) (*Process, error) {
	name, args := cfg.Command, cfg.Args
	if cfg.Daemon {
		// Ignored signals stay ignored across exec, so the real command
		// inherits the shell's SIGHUP disposition.
		args = append([]string{"-c", `trap '' HUP; exec "$0" "$@"`, name}, args...)
		name = "/bin/sh"
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = cfg.Cwd
	env := append([]string{}, cfg.Env...)
	env = append(env, "TERM=xterm-256color")
	if cfg.Daemon {
		env = append(env, "ALWAYS_CODER_DAEMON=true")
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}
	cmd.Env = env

	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second

	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cfg.Cols),
		Rows: uint16(cfg.Rows),
	})
	if err != nil {
		return nil, fmt.Errorf("pty: spawn %s: %w", cfg.Command, err)
	}

	p := &Process{
		cmd:  cmd,
		f:    f,
		Data: make(chan []byte, 64),
		Exit: make(chan ExitInfo, 1),
		done: make(chan struct{}),
	}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

func (p *Process) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.Data <- chunk
		}
		if err != nil {
			close(p.Data)
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	info := ExitInfo{}
	if err == nil {
		info.Code = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		info.Code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signal = ws.Signal().String()
		}
	} else {
		info.Code = -1
	}
	p.Exit <- info
	close(p.done)
}

// Write sends bytes to the PTY's input side.
func (p *Process) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

// Resize updates the PTY window size.
func (p *Process) Resize(cols, rows int) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill terminates the child: SIGTERM, then SIGKILL after 2s if it
// hasn't exited (spec.md §5 CLI concurrency model).
func (p *Process) Kill() {
	p.closeOnce.Do(func() {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
		}
		_ = p.f.Close()
	})
}
