// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package scenario implements the Scenario Runner: it drives one scenario
// (an ordered list of phases, each an ordered list of steps) to completion,
// retrying the whole scenario up to its retry budget when a phase fails.
package scenario

import "time"

// Outcome is the result of running one scenario, across all retries.
type Outcome struct {
	OK         bool
	Attempts   int
	FailedStep string
	Duration   time.Duration
}
