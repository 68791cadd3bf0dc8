// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package qemu

// Config describes how to spawn a QEMU VM Instance, normalized from CLI
// flags and (in the future, should the suite schema grow one) per-suite
// overrides. It plays the role this codebase's vm/qemu.Config has always
// played, minus the fuzzing-target fields this domain has no use for.
type Config struct {
	// QEMU binary name, e.g. "qemu-system-i386".
	Qemu string
	// COW/raw-image creation binary, e.g. "qemu-img". Consumed by
	// pkg/image, kept here too so a single Config can be threaded through
	// both.
	QemuImg string
	// Number of VM CPUs.
	CPU int
	// Amount of VM memory in MiB.
	Mem int
	// Enable -enable-kvm -cpu host. Left configurable (rather than always
	// on, as the direct teacher source does) since CI/sandbox hosts
	// frequently lack /dev/kvm; see DESIGN.md.
	KVM bool
}

// DefaultConfig returns the suite/CLI-independent defaults.
func DefaultConfig() Config {
	return Config{
		Qemu:    "qemu-system-i386",
		QemuImg: "qemu-img",
		CPU:     1,
		Mem:     1024,
	}
}
