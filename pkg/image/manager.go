// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package image manages chained copy-on-write QEMU disk images: creating
// COW children off a backing file with qemu-img, reference-counting shared
// build outputs, and deleting image files on release unless the caller
// asked for preservation.
package image

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"qtrunner/pkg/log"
	"qtrunner/pkg/osutil"
	"qtrunner/pkg/stat"
)

// Manager creates and tracks COW images rooted in a single workdir.
type Manager struct {
	qemuImgCmd string
	workdir    string
}

// NewManager constructs a Manager. qemuImgCmd is normally "qemu-img";
// workdir is where generated image files are placed.
func NewManager(qemuImgCmd, workdir string) (*Manager, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image workdir: %w", err)
	}
	return &Manager{qemuImgCmd: qemuImgCmd, workdir: workdir}, nil
}

// Image is a single disk image file, optionally backed by another Image.
// An Image obtained from Manager.Base or Manager.CreateCOW must be released
// exactly once via Release.
type Image struct {
	mgr      *Manager
	Path     string
	backing  *Image
	refcount *int32
	mu       *sync.Mutex
	preserve *bool
	released bool
}

// Base wraps a pre-existing disk image file (e.g. the raw base image given
// on the command line) as a long-lived, unreleasable Image: it carries an
// implicit reference for the lifetime of the process and Release is a no-op.
func (m *Manager) Base(path string) *Image {
	one := int32(1)
	preserve := true
	return &Image{mgr: m, Path: path, refcount: &one, mu: &sync.Mutex{}, preserve: &preserve}
}

// CreateCOW creates a fresh copy-on-write image layered on backing.
// Creation failures are fatal to the caller's pipeline, per spec: the error
// is returned directly with no retry.
func (m *Manager) CreateCOW(backing *Image) (*Image, error) {
	backing.acquire()
	path := filepath.Join(m.workdir, fmt.Sprintf("img-%s.qcow2", uuid.New().String()))
	start := time.Now()
	_, err := osutil.RunCmd(2, "", m.qemuImgCmd,
		"create", "-f", "qcow2", "-F", "qcow2", "-b", backing.Path, path)
	if err != nil {
		backing.release()
		return nil, fmt.Errorf("failed to create COW image: %w", err)
	}
	elapsed := time.Since(start)
	stat.ImageCreationDuration.Save(elapsed.Milliseconds())
	log.Logf(2, "image: created %v off %v in %v", path, backing.Path, elapsed)
	one := int32(1)
	preserve := false
	return &Image{mgr: m, Path: path, backing: backing, refcount: &one, mu: &sync.Mutex{}, preserve: &preserve}, nil
}

// Preserve marks img so that its file is retained on release rather than
// deleted.
func (img *Image) Preserve() {
	img.mu.Lock()
	defer img.mu.Unlock()
	*img.preserve = true
}

func (img *Image) acquire() {
	if img.refcount == nil {
		return
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	*img.refcount++
}

func (img *Image) release() {
	if img.refcount == nil {
		return
	}
	img.mu.Lock()
	*img.refcount--
	remaining := *img.refcount
	preserve := *img.preserve
	img.mu.Unlock()
	if remaining > 0 {
		return
	}
	if !preserve {
		if err := os.Remove(img.Path); err != nil && !os.IsNotExist(err) {
			log.Warnf("image: failed to delete %v: %v", img.Path, err)
		} else {
			log.Logf(2, "image: deleted %v", img.Path)
		}
	}
	if img.backing != nil {
		img.backing.release()
	}
}

// Release drops the caller's reference to img. The underlying file is
// deleted once the last reference (this image plus every COW child created
// off it) has been released, unless preservation was requested. Release is
// idempotent and safe to call from a defer alongside other exit paths.
func (img *Image) Release() {
	if img == nil || img.released {
		return
	}
	img.released = true
	img.release()
}
