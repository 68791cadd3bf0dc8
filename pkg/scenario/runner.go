// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package scenario

import (
	"context"
	"fmt"
	"time"

	"qtrunner/pkg/image"
	"qtrunner/pkg/log"
	"qtrunner/pkg/osutil"
	"qtrunner/pkg/stat"
	"qtrunner/pkg/step"
	"qtrunner/pkg/suite"
	"qtrunner/vm/qemu"
)

// ImageSource produces a fresh image for one scenario attempt. What it is
// backed by (the suite's base image, or a build's output) is the caller's
// concern, not the Runner's.
type ImageSource func() (*image.Image, error)

// Deps holds the configuration a Runner needs to spawn VM Instances and
// Guest Sessions, independent of any particular scenario.
type Deps struct {
	Cfg             qemu.Config
	SSHUser         string
	SSHPassword     string
	SSHTimeout      time.Duration
	PoweroffTimeout time.Duration
	PoweroffCommand string
	StepTimeout     time.Duration
	OutputLimit     int
	PatchPath       string
	Workdir         string
}

// Runner drives scenarios against Deps.
type Runner struct {
	deps Deps

	// runAttemptFn runs a single attempt's phases against img. It defaults
	// to the real VM-spawning implementation; tests substitute a fake to
	// exercise the retry/image-lifecycle logic in Run without booting qemu.
	runAttemptFn func(ctx context.Context, phases []suite.Phase, img *image.Image, attempt int) (ok bool, failedStep string)
}

// NewRunner constructs a Runner.
func NewRunner(deps Deps) *Runner {
	r := &Runner{deps: deps}
	r.runAttemptFn = r.runAttempt
	return r
}

// Run drives sc to completion, retrying up to its effective retry budget
// (resolved against defaultRetries, the suite's retries field). On each
// attempt (including the first), newImage is called to obtain the image for
// that attempt; the image from the previous, failed attempt is released
// before the next is requested, per the discard-and-recreate retry
// semantics. A scenario with no phases succeeds immediately without ever
// calling newImage or spawning a VM.
//
// On success, Run returns the image the successful attempt ran against,
// still held (one reference); the caller owns its lifecycle from then on.
// On failure, Run releases the last attempt's image itself and returns nil.
func (r *Runner) Run(ctx context.Context, sc suite.Scenario, defaultRetries int, newImage ImageSource) (Outcome, *image.Image) {
	start := time.Now()
	phases := sc.Phases()
	if len(phases) == 0 {
		return Outcome{OK: true, Duration: time.Since(start)}, nil
	}

	maxAttempts := 1 + sc.EffectiveRetries(defaultRetries)
	var lastImg *image.Image
	var lastFailedStep string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastImg != nil {
			lastImg.Release()
			lastImg = nil
		}
		img, err := newImage()
		if err != nil {
			outcome := Outcome{OK: false, Attempts: attempt, FailedStep: fmt.Sprintf("image setup: %v", err), Duration: time.Since(start)}
			r.record(outcome)
			return outcome, nil
		}
		ok, failedStep := r.runAttemptFn(ctx, phases, img, attempt)
		if ok {
			outcome := Outcome{OK: true, Attempts: attempt, Duration: time.Since(start)}
			r.record(outcome)
			return outcome, img
		}
		log.Logf(1, "scenario: attempt %d/%d failed at %q", attempt, maxAttempts, failedStep)
		lastImg, lastFailedStep = img, failedStep
	}
	if lastImg != nil {
		lastImg.Release()
	}
	outcome := Outcome{OK: false, Attempts: maxAttempts, FailedStep: lastFailedStep, Duration: time.Since(start)}
	r.record(outcome)
	return outcome, nil
}

// record updates the scenario-duration histogram (one sample per Run,
// covering all of its attempts) and the OK/failed outcome counters. Never
// called for the no-phases immediate-success path,
// which spawns no VM and has no meaningful duration to sample.
func (r *Runner) record(outcome Outcome) {
	stat.ScenarioDuration.Save(outcome.Duration.Milliseconds())
	if outcome.OK {
		stat.ScenariosOK.Add(1)
	} else {
		stat.ScenariosFailed.Add(1)
	}
}

func (r *Runner) runAttempt(ctx context.Context, phases []suite.Phase, img *image.Image, attempt int) (bool, string) {
	executor := &step.Executor{PatchPath: r.deps.PatchPath, DefaultTimeout: r.deps.StepTimeout}
	for phaseIdx, phase := range phases {
		workdir, err := osutil.ProcessTempDir(r.deps.Workdir)
		if err != nil {
			return false, fmt.Sprintf("workdir setup: %v", err)
		}
		inst, err := qemu.Spawn(ctx, qemu.SpawnOptions{
			Cfg:             r.deps.Cfg,
			Image:           img,
			Index:           attempt*1000 + phaseIdx,
			Workdir:         workdir,
			SSHUser:         r.deps.SSHUser,
			SSHPassword:     r.deps.SSHPassword,
			SSHTimeout:      r.deps.SSHTimeout,
			PoweroffTimeout: r.deps.PoweroffTimeout,
			OutputLimit:     r.deps.OutputLimit,
		})
		if err != nil {
			return false, fmt.Sprintf("boot: %v", err)
		}

		ok, failedStep := runPhase(ctx, executor, inst, phase)
		if !ok {
			inst.Close()
			return false, failedStep
		}
		if err := inst.Poweroff(ctx, r.deps.PoweroffCommand); err != nil {
			inst.Close()
			return false, fmt.Sprintf("poweroff: %v", err)
		}
		inst.Close()
	}
	return true, ""
}

func runPhase(ctx context.Context, executor *step.Executor, inst *qemu.Instance, phase suite.Phase) (bool, string) {
	sess := inst.Session()
	for _, st := range phase {
		res := executor.Run(ctx, sess, st)
		if !res.OK() {
			stat.StepsFailed.Add(1)
			return false, st.Name()
		}
		stat.StepsOK.Add(1)
	}
	return true, ""
}
