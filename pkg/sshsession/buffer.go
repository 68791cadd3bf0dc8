// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sshsession

import "qtrunner/pkg/osutil"

func newLimitedBuffer(limit int) *osutil.TruncatedBuffer {
	return osutil.NewTruncatedBuffer(limit)
}
