// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

// Package-level instruments shared across the runner: outcome counters for
// steps/scenarios/builds, in-flight gauges for solutions and VMs, and
// duration histograms for scenario attempts and image creation.
var (
	StepsOK     = New("steps_ok", "steps that completed successfully")
	StepsFailed = New("steps_failed", "steps that ended in a non-ok result")

	ScenariosOK     = New("scenarios_ok", "scenario runs that ended OK, after retries if any")
	ScenariosFailed = New("scenarios_failed", "scenario runs that exhausted their retry budget")

	BuildsOK     = New("builds_ok", "build scenarios that succeeded")
	BuildsFailed = New("builds_failed", "build scenarios that failed")

	InFlightSolutions = New("in_flight_solutions", "solutions currently being processed by the dispatcher", Graph("dispatcher"))
	InFlightVMs       = New("in_flight_vms", "VM instances currently spawned", Graph("vm"))

	ScenarioDuration      AverageValue[int64]
	ImageCreationDuration AverageValue[int64]
)
