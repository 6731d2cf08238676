// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutMmap(t *testing.T) {
	t.Helper()
	switch runtime.GOOS {
	case "linux", "darwin":
	default:
		t.Skip("no executable mapping support on", runtime.GOOS)
	}
}

func TestAllocateExec(t *testing.T) {
	skipWithoutMmap(t)
	a := &MMapAllocator{}
	defer a.Close()

	code := []byte{0xc3} // ret
	seg, consumed, err := a.AllocateExec(code)
	require.NoError(t, err)
	require.Len(t, seg, 1)
	assert.Equal(t, byte(0xc3), seg[0])
	assert.Zero(t, consumed%(allocationAlignment+1))
	assert.GreaterOrEqual(t, consumed, len(code))
}

func TestAllocateExecPacksPages(t *testing.T) {
	skipWithoutMmap(t)
	a := &MMapAllocator{}
	defer a.Close()

	first, _, err := a.AllocateExec(make([]byte, 64))
	require.NoError(t, err)
	second, _, err := a.AllocateExec(make([]byte, 64))
	require.NoError(t, err)

	// Small placements share one mapping.
	require.Len(t, a.blocks, 1)
	assert.NotEqual(t, &first[0], &second[0])
}

func TestAllocateExecLargeBlock(t *testing.T) {
	skipWithoutMmap(t)
	a := &MMapAllocator{}
	defer a.Close()

	big := make([]byte, minAllocSize*2)
	seg, _, err := a.AllocateExec(big)
	require.NoError(t, err)
	assert.Len(t, seg, len(big))
}
