// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncatedBufferUnderLimitIsUntouched(t *testing.T) {
	b := NewTruncatedBuffer(100)
	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(b.Bytes()))
}

func TestTruncatedBufferAppliesMarkerOnOverflow(t *testing.T) {
	b := NewTruncatedBuffer(5)
	_, err := b.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello"+TruncationMarker, string(b.Bytes()))
}

func TestTruncatedBufferSplitsAcrossWrites(t *testing.T) {
	b := NewTruncatedBuffer(8)
	b.Write([]byte("1234"))
	b.Write([]byte("5678"))
	b.Write([]byte("9"))
	assert.Equal(t, "12345678"+TruncationMarker, string(b.Bytes()))
}

func TestTruncatedBufferZeroLimitCapsAtZeroBytes(t *testing.T) {
	b := NewTruncatedBuffer(0)
	b.Write([]byte("anything goes here"))
	assert.Equal(t, TruncationMarker, string(b.Bytes()))
}

func TestTruncatedBufferNegativeLimitMeansUnlimited(t *testing.T) {
	b := NewTruncatedBuffer(-1)
	b.Write([]byte("anything goes here"))
	assert.Equal(t, "anything goes here", string(b.Bytes()))
}

func TestTruncatedBufferEmptyWriteIsNotTruncation(t *testing.T) {
	b := NewTruncatedBuffer(0)
	n, err := b.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "", string(b.Bytes()))
}

func TestCmdHandleWaitIsIdempotent(t *testing.T) {
	cmd := Command("true")
	require.NoError(t, cmd.Start())
	h := WrapCmd(cmd)

	err1 := h.Wait()
	err2 := h.Wait()
	assert.NoError(t, err1)
	assert.NoError(t, err2)
}

func TestCmdHandleKillAfterExitIsSafe(t *testing.T) {
	cmd := Command("true")
	require.NoError(t, cmd.Start())
	h := WrapCmd(cmd)
	h.Wait()
	h.Kill() // must not panic on an already-exited process
}

func TestNilCmdHandleIsSafe(t *testing.T) {
	var h *CmdHandle
	assert.NoError(t, h.Wait())
	h.Kill()
}
