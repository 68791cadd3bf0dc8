// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package report renders the required CSV verdict line and the optional,
// purely additive newline-delimited JSON structured report.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"qtrunner/pkg/scenario"
	"qtrunner/pkg/solution"
)

// CSVLine renders the required "<solution-path>;<verdict>" line (without a
// trailing newline).
func CSVLine(res solution.Result) string {
	return fmt.Sprintf("%s;%s", res.Solution.Path, res.Verdict)
}

// scenarioOutcome mirrors scenario.Outcome for JSON serialization; it is
// kept separate so the wire shape doesn't silently change if the internal
// Outcome struct grows unrelated fields.
type scenarioOutcome struct {
	OK         bool   `json:"ok"`
	Attempts   int    `json:"attempts"`
	FailedStep string `json:"failed_step,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func toScenarioOutcome(oc scenario.Outcome) scenarioOutcome {
	return scenarioOutcome{
		OK:         oc.OK,
		Attempts:   oc.Attempts,
		FailedStep: oc.FailedStep,
		DurationMs: oc.Duration.Milliseconds(),
	}
}

// record is one line of the structured report.
type record struct {
	SolutionPath string                     `json:"solution_path"`
	Verdict      string                     `json:"verdict"`
	Build        *scenarioOutcome           `json:"build,omitempty"`
	Tests        map[string]scenarioOutcome `json:"tests,omitempty"`
	DurationMs   int64                      `json:"duration_ms"`
}

// Writer emits one JSON record per solution to an underlying stream. It is
// not safe for concurrent use from multiple goroutines without external
// synchronization, matching the single-writer discipline the Dispatcher
// already applies to stdout.
type Writer struct {
	enc *json.Encoder
}

// NewWriter constructs a Writer over w. w is typically an *os.File opened
// for the --report path.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write appends one structured record for res.
func (rw *Writer) Write(res solution.Result) error {
	rec := record{
		SolutionPath: res.Solution.Path,
		Verdict:      res.Verdict,
		DurationMs:   res.Duration.Milliseconds(),
	}
	if res.BuildOutcome != nil {
		b := toScenarioOutcome(*res.BuildOutcome)
		rec.Build = &b
	}
	if len(res.TestOutcomes) > 0 {
		rec.Tests = make(map[string]scenarioOutcome, len(res.TestOutcomes))
		for name, oc := range res.TestOutcomes {
			rec.Tests[name] = toScenarioOutcome(oc)
		}
	}
	return rw.enc.Encode(rec)
}
