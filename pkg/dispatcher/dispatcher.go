// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package dispatcher implements the Dispatcher: it reads solution paths
// from an input stream, validates and deduplicates them, and fans them out
// to Solution Pipelines under a global concurrency cap, emitting results in
// completion order.
package dispatcher

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"qtrunner/pkg/log"
	"qtrunner/pkg/solution"
	"qtrunner/pkg/stat"
)

// Runner is the subset of *solution.Pipeline the Dispatcher needs, named
// here so tests can substitute a fake that never touches qemu.
type Runner interface {
	Run(ctx context.Context, sol solution.Solution) solution.Result
}

// Dispatcher reads, validates, and schedules solutions against Pipeline,
// bounding in-flight pipelines to Concurrency (default 1 if unset).
type Dispatcher struct {
	Pipeline    Runner
	Concurrency int64
}

// Run reads one solution path per line from r until EOF, scheduling each
// valid, non-duplicate one against d.Pipeline, and writes each result to
// results as it completes (not in intake order). Run blocks until every
// scheduled solution has completed (drain-on-EOF), then closes results.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader, results chan<- solution.Result) {
	defer close(results)

	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	seen := make(map[string]bool)
	var seenMu sync.Mutex
	var wg sync.WaitGroup

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sol, err := solution.Parse(line)
		if err != nil {
			log.Warnf("dispatcher: rejecting %q: %v", line, err)
			continue
		}

		seenMu.Lock()
		duplicate := seen[sol.ID]
		seen[sol.ID] = true
		seenMu.Unlock()
		if duplicate {
			log.Warnf("dispatcher: rejecting %q: duplicate student id %q", line, sol.ID)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warnf("dispatcher: stopping intake: %v", err)
			break
		}
		wg.Add(1)
		stat.InFlightSolutions.Add(1)
		go func(sol solution.Solution) {
			defer wg.Done()
			defer sem.Release(1)
			defer stat.InFlightSolutions.Add(-1)
			results <- d.Pipeline.Run(ctx, sol)
		}(sol)
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("dispatcher: reading input: %v", err)
	}
	wg.Wait()
}
