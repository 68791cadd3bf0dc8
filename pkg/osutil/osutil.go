// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package osutil contains utility functions for interaction with the OS:
// subprocess spawning with deadlines, pipes sized for long-lived streaming,
// and small filesystem helpers. It mirrors the surface this codebase's
// vm/qemu package has always assumed existed.
package osutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Command is like exec.Command but puts the child in its own process group,
// so a force-kill can take down everything it spawned (e.g. qemu spawning
// helper processes), not just the direct child.
func Command(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}

// CommandContext is Command with a context bound for cancellation.
func CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}

// KillProcessGroup force-terminates the process group of cmd. It is safe to
// call on a process that has already exited.
func KillProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		cmd.Process.Kill()
		return
	}
	unix.Kill(-pgid, unix.SIGKILL)
}

// CmdHandle wraps a started *exec.Cmd with idempotent Wait/Kill, so owners
// (like a VM Instance) can call both from multiple exit paths (normal
// completion, timeout, cancellation) without double-Wait panics.
type CmdHandle struct {
	cmd    *exec.Cmd
	waitCh chan error
}

// WrapCmd wraps an already-started *exec.Cmd.
func WrapCmd(cmd *exec.Cmd) *CmdHandle {
	h := &CmdHandle{cmd: cmd, waitCh: make(chan error, 1)}
	go func() { h.waitCh <- cmd.Wait() }()
	return h
}

// Wait blocks until the process has exited, and is safe to call more than
// once (and from more than one goroutine).
func (h *CmdHandle) Wait() error {
	if h == nil {
		return nil
	}
	err := <-h.waitCh
	h.waitCh <- err
	return err
}

// Kill force-terminates the process group. Safe to call after the process
// has already exited.
func (h *CmdHandle) Kill() {
	if h == nil {
		return
	}
	KillProcessGroup(h.cmd)
}

// RunCmd runs name with args and returns its combined output, failing if it
// does not complete within timeout (in minutes, following this codebase's
// convention of specifying short subprocess deadlines as a minute count).
func RunCmd(timeoutMinutes int, dir, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMinutes)*time.Minute)
	defer cancel()
	cmd := CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%v %v: timed out", name, args)
	}
	if err != nil {
		return out, fmt.Errorf("%v %v failed: %w\n%s", name, args, err, out)
	}
	return out, nil
}

// LongPipe returns a plain os.Pipe; its buffer is the OS default, so a
// writer blocks once the buffer is full and nobody is reading.
func LongPipe() (*os.File, *os.File, error) {
	return os.Pipe()
}

// ProcessTempDir creates a fresh temporary directory under workdir for one
// VM instance's scratch files (logs, forwarded sockets, etc).
func ProcessTempDir(workdir string) (string, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(workdir, "instance-")
}

// IsExist reports whether path exists.
func IsExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Abs returns the absolute form of path, leaving it untouched if empty.
func Abs(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// TruncatedBuffer accumulates up to limit bytes and remembers whether it was
// ever exceeded, so the caller can append a truncation marker.
type TruncatedBuffer struct {
	limit     int
	buf       bytes.Buffer
	truncated bool
}

// NewTruncatedBuffer constructs a buffer capped at limit bytes. limit < 0
// means unlimited; limit == 0 caps captured output at zero bytes (still
// marked truncated the instant anything is written) rather than being
// treated as unset.
func NewTruncatedBuffer(limit int) *TruncatedBuffer {
	return &TruncatedBuffer{limit: limit}
}

func (b *TruncatedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit < 0 {
		b.buf.Write(p)
		return n, nil
	}
	if len(p) == 0 {
		return 0, nil
	}
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return n, nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return n, nil
	}
	b.buf.Write(p)
	return n, nil
}

// TruncationMarker is appended to output that exceeded its configured limit.
// Its exact form is implementation-defined by the suite schema.
const TruncationMarker = "\n...[truncated]"

// Bytes returns the captured (possibly truncated) content, with the marker
// appended if truncation occurred.
func (b *TruncatedBuffer) Bytes() []byte {
	if !b.truncated {
		return b.buf.Bytes()
	}
	out := make([]byte, 0, b.buf.Len()+len(TruncationMarker))
	out = append(out, b.buf.Bytes()...)
	out = append(out, TruncationMarker...)
	return out
}
