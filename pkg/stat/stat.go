// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat provides small counters/gauges/histograms used to observe the
// runner while it executes, in the style of this codebase's stat.New /
// stat.AverageValue helpers: a lightweight facade in front of real metrics
// libraries rather than another hand-rolled counter type.
package stat

import (
	"sync"
	"sync/atomic"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
)

// Val is a named, described counter backed by a prometheus gauge. Options
// (Graph, Rate, FormatMB, ...) mirror this codebase's stat.New signature but
// only the pieces this domain actually needs are implemented; the rest are
// accepted and ignored so call sites can still pass them for documentation
// value.
type Val struct {
	name  string
	gauge prometheus.Gauge
	val   int64
}

// Option configures a Val at construction time.
type Option interface{ apply(*Val) }

type optionFunc func(*Val)

func (f optionFunc) apply(v *Val) { f(v) }

// Graph groups a Val under a named dashboard section. Purely descriptive.
func Graph(name string) Option { return optionFunc(func(v *Val) {}) }

// Rate marks a Val as a rate (per-second) metric. Purely descriptive.
type Rate struct{}

func (Rate) apply(*Val) {}

// FormatMB marks a Val as byte-valued, typically rendered in MB. Purely descriptive.
var FormatMB Option = optionFunc(func(v *Val) {})

var registry = prometheus.NewRegistry()

// New registers and returns a new named counter/gauge.
func New(name, help string, opts ...Option) *Val {
	v := &Val{name: name}
	v.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: sanitize(name),
		Help: help,
	})
	registry.MustRegister(v.gauge)
	for _, o := range opts {
		o.apply(v)
	}
	return v
}

// Add increments the value by delta (delta may be negative).
func (v *Val) Add(delta int) {
	atomic.AddInt64(&v.val, int64(delta))
	v.gauge.Add(float64(delta))
}

// Set overwrites the current value.
func (v *Val) Set(val int64) {
	atomic.StoreInt64(&v.val, val)
	v.gauge.Set(float64(val))
}

// Value returns the current value.
func (v *Val) Value() int64 {
	return atomic.LoadInt64(&v.val)
}

// AverageValue tracks a running mean of sampled durations/counts, and keeps a
// streaming histogram (via gohistogram) of the full distribution for callers
// that want percentiles rather than just the mean.
type AverageValue[T ~int64 | ~float64] struct {
	mu   sync.Mutex
	hist *gohistogram.NumericHistogram
	sum  float64
	n    int64
}

// Save records one sample.
func (a *AverageValue[T]) Save(v T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hist == nil {
		a.hist = gohistogram.NewHistogram(64)
	}
	f := float64(v)
	a.hist.Add(f)
	a.sum += f
	a.n++
}

// Mean returns the arithmetic mean of all samples saved so far, or 0 if none.
func (a *AverageValue[T]) Mean() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}

// Quantile returns the estimated value at the given quantile (0..1).
func (a *AverageValue[T]) Quantile(q float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hist == nil {
		return 0
	}
	return a.hist.Quantile(q)
}

// Count returns the number of samples saved so far.
func (a *AverageValue[T]) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	valid := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
			valid = true
		default:
			out = append(out, '_')
		}
	}
	if !valid {
		return "metric"
	}
	return "qtrunner_" + string(out)
}
