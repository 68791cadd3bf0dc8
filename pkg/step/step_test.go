// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package step

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"qtrunner/pkg/sshsession"
	"qtrunner/pkg/suite"
)

type fakeSession struct {
	transferDelay time.Duration
	transferErr   bool
	commandDelay  time.Duration
	exitCode      int
	lastCmd       string
	lastFrom      string
	lastTo        string
}

func (f *fakeSession) TransferFile(ctx context.Context, from, to string) sshsession.Result {
	f.lastFrom, f.lastTo = from, to
	if f.transferDelay > 0 {
		select {
		case <-time.After(f.transferDelay):
		case <-ctx.Done():
			return sshsession.Result{Reason: sshsession.ReasonTimedOut}
		}
	}
	if f.transferErr {
		return sshsession.Result{Reason: sshsession.ReasonTransferError}
	}
	return sshsession.Result{Reason: sshsession.ReasonNone}
}

func (f *fakeSession) RunCommand(ctx context.Context, cmd string) sshsession.Result {
	f.lastCmd = cmd
	if f.commandDelay > 0 {
		select {
		case <-time.After(f.commandDelay):
		case <-ctx.Done():
			return sshsession.Result{Reason: sshsession.ReasonTimedOut}
		}
	}
	if f.exitCode != 0 {
		return sshsession.Result{Reason: sshsession.ReasonProcessExit, ExitCode: f.exitCode}
	}
	return sshsession.Result{Reason: sshsession.ReasonNone}
}

func TestExecutorRunCommandOK(t *testing.T) {
	e := &Executor{DefaultTimeout: time.Second}
	fake := &fakeSession{}
	r := e.Run(context.Background(), fake, suite.Step{Type: suite.StepCommand, Command: "/bin/true"})
	assert.True(t, r.OK())
	assert.Equal(t, "/bin/true", fake.lastCmd)
}

func TestExecutorRunCommandNonZero(t *testing.T) {
	e := &Executor{DefaultTimeout: time.Second}
	fake := &fakeSession{exitCode: 1}
	r := e.Run(context.Background(), fake, suite.Step{Type: suite.StepCommand, Command: "/bin/false"})
	assert.False(t, r.OK())
	assert.Equal(t, sshsession.ReasonProcessExit, r.Reason)
}

func TestExecutorZeroTimeoutFailsImmediately(t *testing.T) {
	e := &Executor{DefaultTimeout: time.Second}
	fake := &fakeSession{commandDelay: 50 * time.Millisecond}
	zero := 0
	r := e.Run(context.Background(), fake, suite.Step{Type: suite.StepCommand, Command: "sleep", TimeoutMs: &zero})
	assert.Equal(t, sshsession.ReasonTimedOut, r.Reason)
}

func TestExecutorPatchTransferUsesPatchPath(t *testing.T) {
	e := &Executor{DefaultTimeout: time.Second, PatchPath: "/tmp/ab000001.patch"}
	fake := &fakeSession{}
	r := e.Run(context.Background(), fake, suite.Step{Type: suite.StepPatchTransfer, To: "/root/fix.patch"})
	assert.True(t, r.OK())
	assert.Equal(t, "/tmp/ab000001.patch", fake.lastFrom)
	assert.Equal(t, "/root/fix.patch", fake.lastTo)
}

func TestExecutorStepOverridesTimeout(t *testing.T) {
	e := &Executor{DefaultTimeout: 10 * time.Millisecond}
	fake := &fakeSession{commandDelay: 30 * time.Millisecond}
	long := 100
	r := e.Run(context.Background(), fake, suite.Step{Type: suite.StepCommand, Command: "sleep", TimeoutMs: &long})
	assert.True(t, r.OK())
}
