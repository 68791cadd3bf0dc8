// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrunner/pkg/scenario"
	"qtrunner/pkg/solution"
)

func TestCSVLineFormat(t *testing.T) {
	res := solution.Result{
		Solution: solution.Solution{Path: "/subs/ab123456.patch"},
		Verdict:  "OK",
	}
	assert.Equal(t, "/subs/ab123456.patch;OK", CSVLine(res))
}

func TestCSVLineWithFailedTests(t *testing.T) {
	res := solution.Result{
		Solution: solution.Solution{Path: "/subs/cd654321.patch"},
		Verdict:  "alpha,zeta",
	}
	assert.Equal(t, "/subs/cd654321.patch;alpha,zeta", CSVLine(res))
}

func TestWriterEmitsOneJSONLinePerSolution(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(solution.Result{
		Solution: solution.Solution{Path: "a.patch", ID: "aaaaaa"},
		Verdict:  "OK",
		TestOutcomes: map[string]scenario.Outcome{
			"boot": {OK: true, Attempts: 1, Duration: 2 * time.Second},
		},
		Duration: 3 * time.Second,
	}))
	require.NoError(t, w.Write(solution.Result{
		Solution:     solution.Solution{Path: "b.patch", ID: "bbbbbb"},
		Verdict:      "build failed",
		BuildOutcome: &scenario.Outcome{OK: false, Attempts: 4, FailedStep: "command(make)"},
		Duration:     time.Second,
	}))

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 2)

	var first record
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "a.patch", first.SolutionPath)
	assert.Equal(t, "OK", first.Verdict)
	assert.Nil(t, first.Build)
	require.Contains(t, first.Tests, "boot")
	assert.True(t, first.Tests["boot"].OK)
	assert.Equal(t, int64(2000), first.Tests["boot"].DurationMs)

	var second record
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "build failed", second.Verdict)
	require.NotNil(t, second.Build)
	assert.False(t, second.Build.OK)
	assert.Equal(t, "command(make)", second.Build.FailedStep)
	assert.Nil(t, second.Tests)
}
