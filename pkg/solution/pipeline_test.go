// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package solution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrunner/pkg/image"
	"qtrunner/pkg/scenario"
	"qtrunner/pkg/suite"
)

// fakeRunner returns a fixed outcome/image regardless of the scenario
// passed in, so pipeline tests exercise the aggregation logic without
// spawning any VM. outcomes/images are keyed by the image path newImage()
// hands back, unless byCommand is set, in which case the scenario's own
// first-step command picks the outcome (used when every scenario in a test
// shares one newChild stub).
type fakeRunner struct {
	outcomes  map[string]scenario.Outcome
	images    map[string]*image.Image
	byCommand map[string]scenario.Outcome
}

func (f *fakeRunner) Run(ctx context.Context, sc suite.Scenario, defaultRetries int, newImage scenario.ImageSource) (scenario.Outcome, *image.Image) {
	img, err := newImage()
	if err != nil {
		return scenario.Outcome{OK: false, FailedStep: err.Error()}, nil
	}
	if f.byCommand != nil {
		cmd := sc.Phases()[0][0].Command
		return f.byCommand[cmd], img
	}
	label := img.Path
	return f.outcomes[label], f.images[label]
}

func newFakeManager(t *testing.T) *image.Manager {
	t.Helper()
	mgr, err := image.NewManager("qemu-img", t.TempDir())
	require.NoError(t, err)
	return mgr
}

func TestPipelineSkipsBuildWhenAbsent(t *testing.T) {
	mgr := newFakeManager(t)
	base := mgr.Base("/base.qcow2")

	testImgA := mgr.Base("/test-a.qcow2")
	outcomes := map[string]scenario.Outcome{testImgA.Path: {OK: true}}
	images := map[string]*image.Image{testImgA.Path: testImgA}

	p := &Pipeline{
		Suite: &suite.Suite{
			TestNames: []string{"a"},
			Tests:     map[string]suite.Scenario{"a": {}},
		},
		Images:    mgr,
		BaseImage: base,
		newRunner: func(scenario.Deps) scenarioRunner {
			return &fakeRunner{outcomes: outcomes, images: images}
		},
		newChild: func(backing *image.Image) (*image.Image, error) {
			return testImgA, nil
		},
	}

	sol, err := Parse("ab123456.patch")
	require.NoError(t, err)
	res := p.Run(context.Background(), sol)

	assert.Equal(t, "OK", res.Verdict)
	assert.Nil(t, res.BuildOutcome)
}

func TestPipelineReportsBuildFailed(t *testing.T) {
	mgr := newFakeManager(t)
	base := mgr.Base("/base.qcow2")
	buildImg := mgr.Base("/build.qcow2")

	p := &Pipeline{
		Suite: &suite.Suite{
			Build:     &suite.Scenario{Steps: []suite.Phase{{{Type: suite.StepCommand, Command: "make"}}}},
			TestNames: []string{"a"},
			Tests:     map[string]suite.Scenario{"a": {}},
		},
		Images:    mgr,
		BaseImage: base,
		newRunner: func(scenario.Deps) scenarioRunner {
			return &fakeRunner{
				outcomes: map[string]scenario.Outcome{buildImg.Path: {OK: false, FailedStep: "command(make)"}},
				images:   map[string]*image.Image{buildImg.Path: nil},
			}
		},
		newChild: func(backing *image.Image) (*image.Image, error) {
			return buildImg, nil
		},
	}

	sol, err := Parse("ab123456.patch")
	require.NoError(t, err)
	res := p.Run(context.Background(), sol)

	assert.Equal(t, "build failed", res.Verdict)
	require.NotNil(t, res.BuildOutcome)
	assert.False(t, res.BuildOutcome.OK)
	assert.Nil(t, res.TestOutcomes)
}

func TestPipelineAggregatesFailedTestsInSuiteOrder(t *testing.T) {
	mgr := newFakeManager(t)
	base := mgr.Base("/base.qcow2")

	byCommand := map[string]scenario.Outcome{
		"run-zeta":  {OK: false},
		"run-alpha": {OK: true},
		"run-mid":   {OK: false},
	}
	shared := base

	p := &Pipeline{
		Suite: &suite.Suite{
			TestNames: []string{"zeta", "alpha", "mid"},
			Tests: map[string]suite.Scenario{
				"zeta":  {Steps: []suite.Phase{{{Type: suite.StepCommand, Command: "run-zeta"}}}},
				"alpha": {Steps: []suite.Phase{{{Type: suite.StepCommand, Command: "run-alpha"}}}},
				"mid":   {Steps: []suite.Phase{{{Type: suite.StepCommand, Command: "run-mid"}}}},
			},
		},
		Images:    mgr,
		BaseImage: base,
		newRunner: func(scenario.Deps) scenarioRunner {
			return &fakeRunner{byCommand: byCommand}
		},
		newChild: func(backing *image.Image) (*image.Image, error) {
			return shared, nil
		},
	}

	sol, err := Parse("cd654321.patch")
	require.NoError(t, err)
	res := p.Run(context.Background(), sol)

	assert.Len(t, res.TestOutcomes, 3)
	// Verdict must list failed tests in suite order (zeta before mid), not
	// map iteration order or completion order.
	assert.Equal(t, "zeta,mid", res.Verdict)
}

func TestPipelinePropagatesImageCreationFailure(t *testing.T) {
	mgr := newFakeManager(t)
	base := mgr.Base("/base.qcow2")

	p := &Pipeline{
		Suite: &suite.Suite{
			Build:     &suite.Scenario{Steps: []suite.Phase{{{Type: suite.StepCommand, Command: "make"}}}},
			TestNames: []string{"a"},
			Tests:     map[string]suite.Scenario{"a": {}},
		},
		Images:    mgr,
		BaseImage: base,
		newRunner: func(scenario.Deps) scenarioRunner {
			return scenario.NewRunner(scenario.Deps{})
		},
		newChild: func(backing *image.Image) (*image.Image, error) {
			return nil, errors.New("no space left on device")
		},
	}

	sol, err := Parse("ab123456.patch")
	require.NoError(t, err)
	res := p.Run(context.Background(), sol)

	assert.Equal(t, "build failed", res.Verdict)
	require.NotNil(t, res.BuildOutcome)
	assert.False(t, res.BuildOutcome.OK)
	assert.Contains(t, res.BuildOutcome.FailedStep, "no space left on device")
}
