// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package suite

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadFile reads and parses a suite JSON file from disk.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}
