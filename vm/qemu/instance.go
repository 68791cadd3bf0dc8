// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package qemu implements the VM Instance: scoped ownership of a single
// QEMU child process bound to one disk image for the duration of one
// phase, with startup synchronization (SSH becomes reachable) and shutdown
// synchronization (the process exits after poweroff). Adapted from this
// codebase's vm/qemu package, generalized from a fixed pool of long-lived
// VMs to one-shot instances bound to whichever image a phase is run
// against.
package qemu

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"qtrunner/pkg/image"
	"qtrunner/pkg/log"
	"qtrunner/pkg/osutil"
	"qtrunner/pkg/sshsession"
	"qtrunner/pkg/stat"
)

// State is the VM Instance boot state machine.
type State int

const (
	StateSpawning State = iota
	StateSSHReady
	StatePoweringOff
	StateExited
)

// SpawnOptions configures one VM Instance.
type SpawnOptions struct {
	Cfg             Config
	Image           *image.Image
	Index           int
	Workdir         string
	SSHUser         string
	SSHPassword     string
	SSHTimeout      time.Duration
	PoweroffTimeout time.Duration
	OutputLimit     int
}

// Instance is one running (or exited) QEMU process bound to one disk image.
type Instance struct {
	opts      SpawnOptions
	state     State
	cmd       *osutil.CmdHandle
	sshPort   int
	logFile   *os.File
	session   *sshsession.Session
	countedVM bool
}

const maxPortRetries = 1000

// Spawn starts a new QEMU process bound to opts.Image and blocks until an
// SSH handshake succeeds or opts.SSHTimeout elapses, the latter being a
// fatal-to-phase failure reported as a non-nil error. At most one Guest
// Session is open per Instance at a time (Session tracks the current one).
//
// Spawn retries the whole attempt on transient "port already in use"/"could
// not set up host forwarding rule" errors QEMU is known to report under
// concurrent port allocation, following this codebase's existing retry
// convention for the same class of error.
func Spawn(ctx context.Context, opts SpawnOptions) (*Instance, error) {
	var lastErr error
	for i := 0; i < maxPortRetries; i++ {
		inst, err := trySpawn(ctx, opts)
		if err == nil {
			return inst, nil
		}
		if !isBusyPortError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("vm/qemu: giving up after %d port-allocation retries: %w", maxPortRetries, lastErr)
}

func trySpawn(ctx context.Context, opts SpawnOptions) (*Instance, error) {
	inst := &Instance{opts: opts, state: StateSpawning}
	ok := false
	defer func() {
		if !ok {
			inst.Close()
		}
	}()

	port, err := unusedTCPPort()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ssh forward port: %w", err)
	}
	inst.sshPort = port

	if opts.Workdir != "" {
		logFile, err := os.Create(opts.Workdir + "/qemu.log")
		if err != nil {
			return nil, fmt.Errorf("failed to create qemu log: %w", err)
		}
		inst.logFile = logFile
	}

	args := buildArgs(opts, port)
	log.Logf(2, "vm/qemu[%d]: running %v %v", opts.Index, opts.Cfg.Qemu, args)
	cmd := osutil.Command(opts.Cfg.Qemu, args...)
	if inst.logFile != nil {
		cmd.Stdout = inst.logFile
		cmd.Stderr = inst.logFile
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %v: %w", opts.Cfg.Qemu, err)
	}
	inst.cmd = osutil.WrapCmd(cmd)

	sshCtx, cancel := context.WithTimeout(ctx, opts.SSHTimeout)
	defer cancel()
	sess, err := sshsession.Dial(sshCtx, fmt.Sprintf("127.0.0.1:%d", port), opts.SSHUser, opts.SSHPassword, opts.OutputLimit)
	if err != nil {
		// Include QEMU's own output so isBusyPortError can see port errors.
		qemuOut := ""
		if inst.logFile != nil {
			if out, rerr := os.ReadFile(inst.logFile.Name()); rerr == nil {
				qemuOut = string(out)
			}
		}
		return nil, fmt.Errorf("ssh handshake did not succeed within %v: %w\n%s", opts.SSHTimeout, err, qemuOut)
	}
	inst.state = StateSSHReady
	inst.session = sess
	inst.countedVM = true
	stat.InFlightVMs.Add(1)
	ok = true
	return inst, nil
}

// Session returns the currently open Guest Session, or nil if none is open
// (the Instance has not finished booting, or the session has already been
// discarded).
func (inst *Instance) Session() *sshsession.Session {
	return inst.session
}

// Poweroff issues the given poweroff command on the Guest Session, then
// awaits process exit within opts.PoweroffTimeout. On timeout, the process
// is force-killed and an error is returned (the phase is deemed failed per
// spec). It is safe to call at most once.
func (inst *Instance) Poweroff(ctx context.Context, command string) error {
	if inst.state != StateSSHReady {
		return fmt.Errorf("vm/qemu: poweroff called in state %v", inst.state)
	}
	inst.state = StatePoweringOff
	if inst.session != nil {
		if err := inst.session.Poweroff(command); err != nil {
			log.Warnf("vm/qemu[%d]: poweroff dispatch failed: %v", inst.opts.Index, err)
		}
	}
	return inst.awaitExit(ctx, inst.opts.PoweroffTimeout)
}

func (inst *Instance) awaitExit(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- inst.cmd.Wait() }()

	select {
	case <-done:
		inst.state = StateExited
		return nil
	case <-waitCtx.Done():
		log.Warnf("vm/qemu[%d]: poweroff timed out, force-killing", inst.opts.Index)
		inst.cmd.Kill()
		<-done
		inst.state = StateExited
		return fmt.Errorf("vm/qemu: poweroff timed out after %v, process force-killed", timeout)
	}
}

// Close guarantees the QEMU process has been reaped (by normal exit or
// force-kill) and releases the session and log file, regardless of which
// state the Instance is in. It is idempotent.
func (inst *Instance) Close() error {
	if inst.session != nil {
		inst.session.Close()
		inst.session = nil
	}
	if inst.cmd != nil {
		inst.cmd.Kill()
		inst.cmd.Wait()
		inst.cmd = nil
	}
	if inst.logFile != nil {
		inst.logFile.Close()
		inst.logFile = nil
	}
	if inst.countedVM {
		stat.InFlightVMs.Add(-1)
		inst.countedVM = false
	}
	inst.state = StateExited
	return nil
}

// SSHPort returns the host-side forwarded SSH port, mostly useful for tests
// and diagnostics.
func (inst *Instance) SSHPort() int { return inst.sshPort }

func buildArgs(opts SpawnOptions, sshPort int) []string {
	args := []string{
		"-m", strconv.Itoa(opts.Cfg.Mem),
		"-smp", strconv.Itoa(opts.Cfg.CPU),
		"-display", "none",
		"-no-reboot",
		"-name", fmt.Sprintf("qtrunner-%d", opts.Index),
		"-device", "e1000,netdev=net0",
		"-netdev", fmt.Sprintf("user,id=net0,hostfwd=tcp:127.0.0.1:%d-:22", sshPort),
		"-drive", "file=" + opts.Image.Path + ",format=qcow2",
	}
	if opts.Cfg.KVM {
		args = append(args, "-enable-kvm", "-cpu", "host")
	}
	return args
}

func isBusyPortError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Address already in use") ||
		strings.Contains(msg, "Device or resource busy") ||
		strings.Contains(msg, "ould not set up host forwarding rule")
}
