// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package step is the Step Executor: given a live Guest Session, a Step and
// an effective deadline, it dispatches to the matching session primitive
// and returns a Step Result. This is the only place step-level deadlines
// are materialized, as a context.WithTimeout raced against the operation.
package step

import (
	"context"
	"time"

	"qtrunner/pkg/sshsession"
	"qtrunner/pkg/suite"
)

// GuestSession is the subset of *sshsession.Session the executor needs,
// named here so tests can supply a fake.
type GuestSession interface {
	TransferFile(ctx context.Context, localPath, remotePath string) sshsession.Result
	RunCommand(ctx context.Context, cmd string) sshsession.Result
}

// Executor dispatches steps against a GuestSession.
type Executor struct {
	// PatchPath is the current solution's patch file, used by
	// patch_transfer steps.
	PatchPath string
	// DefaultTimeout is the suite's step_timeout_ms, used when a step does
	// not override it.
	DefaultTimeout time.Duration
}

// Run executes one step and returns its result. The effective deadline is
// the step's own timeout_ms if set, otherwise Executor.DefaultTimeout.
func (e *Executor) Run(ctx context.Context, sess GuestSession, st suite.Step) sshsession.Result {
	timeout := e.DefaultTimeout
	if st.TimeoutMs != nil {
		timeout = time.Duration(*st.TimeoutMs) * time.Millisecond
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch st.Type {
	case suite.StepFileTransfer:
		return sess.TransferFile(stepCtx, st.From, st.To)
	case suite.StepPatchTransfer:
		return sess.TransferFile(stepCtx, e.PatchPath, st.To)
	case suite.StepCommand:
		return sess.RunCommand(stepCtx, st.Command)
	default:
		return sshsession.Result{Reason: sshsession.ReasonSSHError, Stderr: []byte("unknown step type")}
	}
}
