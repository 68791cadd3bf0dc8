// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package solution

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"qtrunner/pkg/image"
	"qtrunner/pkg/scenario"
	"qtrunner/pkg/stat"
	"qtrunner/pkg/suite"
)

// Result is the pipeline's full account of one solution's run, enough to
// both emit the CSV verdict and populate a Run Report line.
type Result struct {
	Solution     Solution
	Verdict      string
	BuildOutcome *scenario.Outcome
	TestOutcomes map[string]scenario.Outcome
	Duration     time.Duration
}

// scenarioRunner is the subset of *scenario.Runner the pipeline needs,
// named here so tests can substitute a fake that never touches qemu.
type scenarioRunner interface {
	Run(ctx context.Context, sc suite.Scenario, defaultRetries int, newImage scenario.ImageSource) (scenario.Outcome, *image.Image)
}

// Pipeline builds and tests solutions against one parsed suite and one base
// image, sharing a scenario.Deps template across every scenario it runs
// (only PatchPath varies, per solution).
type Pipeline struct {
	Suite          *suite.Suite
	Images         *image.Manager
	BaseImage      *image.Image
	DepsTemplate   scenario.Deps
	PreserveImages bool

	// newRunner constructs the scenario runner used for one (solution,
	// deps) pair. Defaults to scenario.NewRunner; tests override it.
	newRunner func(scenario.Deps) scenarioRunner

	// newChild creates a COW child off backing. Defaults to
	// Pipeline.createChild (real qemu-img); tests override it to avoid
	// shelling out.
	newChild func(backing *image.Image) (*image.Image, error)
}

func (p *Pipeline) makeChild(backing *image.Image) (*image.Image, error) {
	if p.newChild != nil {
		return p.newChild(backing)
	}
	return p.createChild(backing)
}

func (p *Pipeline) runnerFor(sol Solution) scenarioRunner {
	if p.newRunner != nil {
		return p.newRunner(p.depsFor(sol))
	}
	return scenario.NewRunner(p.depsFor(sol))
}

// Run drives one solution through the build stage (if the suite defines
// one) followed by every test scenario concurrently, and returns its
// aggregated verdict. It returns no error: solution-level failures,
// including image-creation failures, are represented in the verdict.
func (p *Pipeline) Run(ctx context.Context, sol Solution) Result {
	start := time.Now()
	runner := p.runnerFor(sol)

	buildImage := p.BaseImage
	var buildOutcome *scenario.Outcome
	if p.Suite.Build != nil {
		outcome, img := runner.Run(ctx, *p.Suite.Build, p.Suite.Retries, func() (*image.Image, error) {
			return p.makeChild(p.BaseImage)
		})
		buildOutcome = &outcome
		if !outcome.OK {
			stat.BuildsFailed.Add(1)
			return Result{
				Solution:     sol,
				Verdict:      "build failed",
				BuildOutcome: buildOutcome,
				Duration:     time.Since(start),
			}
		}
		stat.BuildsOK.Add(1)
		buildImage = img
		defer buildImage.Release()
	}

	testOutcomes := p.runTests(ctx, sol, buildImage)

	return Result{
		Solution:     sol,
		Verdict:      verdict(p.Suite.TestNames, testOutcomes),
		BuildOutcome: buildOutcome,
		TestOutcomes: testOutcomes,
		Duration:     time.Since(start),
	}
}

func (p *Pipeline) runTests(ctx context.Context, sol Solution, buildImage *image.Image) map[string]scenario.Outcome {
	outcomes := make(map[string]scenario.Outcome, len(p.Suite.Tests))
	var mu sync.Mutex
	var g errgroup.Group
	for name, sc := range p.Suite.Tests {
		name, sc := name, sc
		g.Go(func() error {
			runner := p.runnerFor(sol)
			outcome, img := runner.Run(ctx, sc, p.Suite.Retries, func() (*image.Image, error) {
				return p.makeChild(buildImage)
			})
			if img != nil {
				img.Release()
			}
			mu.Lock()
			outcomes[name] = outcome
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (p *Pipeline) createChild(backing *image.Image) (*image.Image, error) {
	img, err := p.Images.CreateCOW(backing)
	if err != nil {
		return nil, err
	}
	if p.PreserveImages {
		img.Preserve()
	}
	return img, nil
}

func (p *Pipeline) depsFor(sol Solution) scenario.Deps {
	deps := p.DepsTemplate
	deps.PatchPath = sol.Path
	return deps
}

// verdict aggregates per-test outcomes into the CSV verdict string: "OK" if
// every test scenario succeeded, otherwise a comma-separated list of failed
// scenario names in the suite file's original tests-map order.
func verdict(orderedNames []string, outcomes map[string]scenario.Outcome) string {
	var failed []string
	for _, name := range orderedNames {
		if oc, ok := outcomes[name]; ok && !oc.OK {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return "OK"
	}
	return strings.Join(failed, ",")
}
