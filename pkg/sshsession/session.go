// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package sshsession implements the Guest Session: an SSH connection into a
// booted VM exposing file transfer, patch transfer, command execution and
// poweroff primitives, each bounded by a caller-supplied deadline. It is
// built on golang.org/x/crypto/ssh and github.com/pkg/sftp rather than
// shelling out to the ssh/scp binaries, so a missed deadline can sever the
// connection outright instead of leaving an orphaned subprocess.
package sshsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"qtrunner/pkg/log"
)

// Reason classifies why a step failed, per the spec's Step Result kinds.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonProcessExit      Reason = "process-exit-nonzero"
	ReasonTimedOut         Reason = "timed-out"
	ReasonTransferError    Reason = "transfer-error"
	ReasonSSHError         Reason = "ssh-error"
)

// Result is the outcome of a single Guest Session operation.
type Result struct {
	Reason   Reason
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Reason == ReasonNone }

// Session is an open SSH connection to a booted guest. At most one Session
// is open per VM Instance at a time; it is valid only while that VM
// Instance is ssh-ready, and is discarded (via Close) on phase end or any
// unrecoverable SSH error.
type Session struct {
	client      *ssh.Client
	outputLimit int
}

// Dial opens a Guest Session to addr (host:port), retrying the handshake
// until it succeeds or ctx is done. This is the boot-synchronization point:
// a VM Instance considers itself ssh-ready the moment Dial returns nil.
func Dial(ctx context.Context, addr, user, password string, outputLimit int) (*Session, error) {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		dialer := net.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
			if err == nil {
				client := ssh.NewClient(c, chans, reqs)
				log.Logf(2, "sshsession: handshake succeeded with %v", addr)
				return &Session{client: client, outputLimit: outputLimit}, nil
			}
			conn.Close()
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ssh handshake with %v did not succeed: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close severs the underlying SSH connection, discarding the session.
func (s *Session) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// TransferFile streams the contents of localPath to remotePath over SFTP,
// then sets its remote permissions to 0o777. It fails with
// ReasonTransferError on any I/O or SFTP error, or ReasonTimedOut if
// deadline fires first.
func (s *Session) TransferFile(ctx context.Context, localPath, remotePath string) Result {
	f, err := os.Open(localPath)
	if err != nil {
		return Result{Reason: ReasonTransferError, Stderr: []byte(err.Error())}
	}
	defer f.Close()
	return s.transfer(ctx, f, remotePath)
}

func (s *Session) transfer(ctx context.Context, src io.Reader, remotePath string) Result {
	done := make(chan Result, 1)
	go func() {
		done <- s.transferSync(src, remotePath)
	}()
	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		s.Close()
		return Result{Reason: ReasonTimedOut}
	}
}

func (s *Session) transferSync(src io.Reader, remotePath string) Result {
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return Result{Reason: ReasonTransferError, Stderr: []byte(err.Error())}
	}
	defer client.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return Result{Reason: ReasonTransferError, Stderr: []byte(err.Error())}
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return Result{Reason: ReasonTransferError, Stderr: []byte(err.Error())}
	}
	if err := dst.Close(); err != nil {
		return Result{Reason: ReasonTransferError, Stderr: []byte(err.Error())}
	}
	if err := client.Chmod(remotePath, 0o777); err != nil {
		return Result{Reason: ReasonTransferError, Stderr: []byte(err.Error())}
	}
	return Result{Reason: ReasonNone}
}

// RunCommand executes cmd over a fresh SSH channel, capturing stdout and
// stderr independently, each truncated to outputLimit bytes (negative means
// unlimited, 0 keeps no bytes) with a trailing marker. It succeeds iff the remote exit status
// is zero; a missed deadline severs the underlying connection.
func (s *Session) RunCommand(ctx context.Context, cmd string) Result {
	type outcome struct {
		stdout, stderr []byte
		err            error
	}
	done := make(chan outcome, 1)
	sess, err := s.client.NewSession()
	if err != nil {
		return Result{Reason: ReasonSSHError, Stderr: []byte(err.Error())}
	}
	stdout := newLimitedBuffer(s.outputLimit)
	stderr := newLimitedBuffer(s.outputLimit)
	sess.Stdout = stdout
	sess.Stderr = stderr

	go func() {
		done <- outcome{err: sess.Run(cmd)}
	}()

	select {
	case o := <-done:
		sess.Close()
		if o.err == nil {
			return Result{Reason: ReasonNone, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		}
		var exitErr *ssh.ExitError
		if errors.As(o.err, &exitErr) {
			return Result{
				Reason:   ReasonProcessExit,
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
				ExitCode: exitErr.ExitStatus(),
			}
		}
		return Result{Reason: ReasonSSHError, Stdout: stdout.Bytes(), Stderr: []byte(o.err.Error())}
	case <-ctx.Done():
		sess.Close()
		s.Close()
		return Result{Reason: ReasonTimedOut, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	}
}

// Poweroff executes the suite's configured poweroff command and returns as
// soon as it has been dispatched, without waiting for the command (or the
// guest) to respond: the guest may terminate mid-reply.
func (s *Session) Poweroff(command string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open poweroff session: %w", err)
	}
	if err := sess.Start(command); err != nil {
		sess.Close()
		return fmt.Errorf("failed to dispatch poweroff: %w", err)
	}
	go func() {
		sess.Wait()
		sess.Close()
	}()
	return nil
}
