// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package dispatcher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrunner/pkg/solution"
)

type fakePipeline struct {
	mu          sync.Mutex
	calls       []string
	inFlight    int32
	maxInFlight int32
	delay       time.Duration
}

func (f *fakePipeline) Run(ctx context.Context, sol solution.Solution) solution.Result {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, sol.ID)
	f.mu.Unlock()
	return solution.Result{Solution: sol, Verdict: "OK"}
}

func drain(t *testing.T, results <-chan solution.Result) []solution.Result {
	t.Helper()
	var out []solution.Result
	for r := range results {
		out = append(out, r)
	}
	return out
}

func TestDispatcherSchedulesValidSolutions(t *testing.T) {
	pipe := &fakePipeline{}
	d := &Dispatcher{Pipeline: pipe, Concurrency: 2}
	results := make(chan solution.Result)

	in := strings.NewReader("ab123456.patch\ncd654321.patch\n")
	go d.Run(context.Background(), in, results)

	out := drain(t, results)
	assert.Len(t, out, 2)
}

func TestDispatcherRejectsInvalidFilenames(t *testing.T) {
	pipe := &fakePipeline{}
	d := &Dispatcher{Pipeline: pipe, Concurrency: 2}
	results := make(chan solution.Result)

	in := strings.NewReader("ab123456.patch\nAB123456.patch\nnotapatch.txt\n\n")
	go d.Run(context.Background(), in, results)

	out := drain(t, results)
	require.Len(t, out, 1)
	assert.Equal(t, "ab123456.patch", out[0].Solution.Path)
}

func TestDispatcherRejectsDuplicateStudentIDs(t *testing.T) {
	pipe := &fakePipeline{}
	d := &Dispatcher{Pipeline: pipe, Concurrency: 2}
	results := make(chan solution.Result)

	// Same id (ab123456), different paths: the second must be rejected.
	in := strings.NewReader("dir1/ab123456.patch\ndir2/ab123456.patch\n")
	go d.Run(context.Background(), in, results)

	out := drain(t, results)
	require.Len(t, out, 1)
	assert.Equal(t, "dir1/ab123456.patch", out[0].Solution.Path)
}

func TestDispatcherEnforcesConcurrencyCap(t *testing.T) {
	pipe := &fakePipeline{delay: 20 * time.Millisecond}
	d := &Dispatcher{Pipeline: pipe, Concurrency: 1}
	results := make(chan solution.Result)

	in := strings.NewReader("ab111111.patch\ncd222222.patch\nef333333.patch\n")
	go d.Run(context.Background(), in, results)

	out := drain(t, results)
	assert.Len(t, out, 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pipe.maxInFlight))
}

func TestDispatcherDefaultsConcurrencyToOne(t *testing.T) {
	pipe := &fakePipeline{delay: 15 * time.Millisecond}
	d := &Dispatcher{Pipeline: pipe} // Concurrency left zero
	results := make(chan solution.Result)

	in := strings.NewReader("ab111111.patch\ncd222222.patch\n")
	go d.Run(context.Background(), in, results)

	out := drain(t, results)
	assert.Len(t, out, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pipe.maxInFlight))
}
