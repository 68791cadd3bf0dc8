// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package qemu

import "net"

// unusedTCPPort asks the kernel for a free TCP port by briefly binding to
// port 0 and reading back what it chose. There is a small unavoidable race
// between closing the listener and QEMU binding the same port, matching
// this codebase's existing port-allocation strategy (and its retry-on-EADDRINUSE
// fallback in the instance constructor).
func unusedTCPPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
