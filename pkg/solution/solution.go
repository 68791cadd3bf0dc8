// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package solution models one student submission (a patch file identified
// by a filename-derived student id) and the pipeline that builds and tests
// it against a suite of scenarios.
package solution

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// filenamePattern matches exactly the spec's student-id filenames: two
// lowercase letters, six digits, then the .patch extension.
var filenamePattern = regexp.MustCompile(`^[a-z]{2}[0-9]{6}\.patch$`)

// Solution is one student submission.
type Solution struct {
	// Path is the (possibly relative) patch file path as given on stdin.
	Path string
	// ID is the first 8 characters of the filename, e.g. "ab123456".
	ID string
}

// Parse validates path's filename against the required pattern and derives
// the student id from it. It does not touch the filesystem: existence and
// readability of the patch are a later, per-solution concern.
func Parse(path string) (Solution, error) {
	base := filepath.Base(path)
	if !filenamePattern.MatchString(base) {
		return Solution{}, fmt.Errorf("solution: %q does not match required pattern [a-z]{2}[0-9]{6}.patch", base)
	}
	return Solution{Path: path, ID: base[:8]}, nil
}
