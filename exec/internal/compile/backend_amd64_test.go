// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package compile

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-uxn/uxnjit/uxn"
)

func newTestJIT(t *testing.T, prog []byte) (*uxn.VM, *JIT) {
	t.Helper()
	switch runtime.GOOS {
	case "linux", "darwin":
	default:
		t.Skip("no executable mapping support on", runtime.GOOS)
	}
	vm := uxn.New(nil)
	copy(vm.Memory[uxn.ResetVector:], prog)
	j := New(vm, nil)
	t.Cleanup(j.Cleanup)
	return vm, j
}

func TestBlockCompileAndInvoke(t *testing.T) {
	vm, j := newTestJIT(t, []byte{0x18}) // ADD
	vm.WS[0], vm.WS[1] = 1, 2
	vm.Wsp = 2

	blk := j.Block(uxn.ResetVector)
	require.True(t, blk.Compiled())
	assert.NotZero(t, blk.HeadAddr)
	assert.NotZero(t, blk.BodyAddr)
	assert.Greater(t, blk.NativeSize, 0)

	status, pc := DecodeExit(blk.Invoke(vm))
	assert.Equal(t, ExitPC, status)
	assert.Equal(t, uint16(0), pc)
	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(3), vm.WS[0])
}

func TestBlockPublishesOnce(t *testing.T) {
	_, j := newTestJIT(t, []byte{0x00})

	blk := j.Block(uxn.ResetVector)
	again := j.Block(uxn.ResetVector)
	assert.Same(t, blk, again)
	assert.Equal(t, 1, j.Stats().NumBlocks)
}

func TestDeviceExitAndResume(t *testing.T) {
	// DEI BRK: the block must exit with a read request and resume into the
	// push of the result.
	vm, j := newTestJIT(t, []byte{0x16, 0x00})
	vm.WS[0] = 0xc0
	vm.Wsp = 1

	blk := j.Block(uxn.ResetVector)
	require.True(t, blk.Compiled())

	status, _ := DecodeExit(blk.Invoke(vm))
	require.Equal(t, ExitDEI, status)
	assert.Equal(t, uint32(0xc0), vm.DevAddr)
	require.NotZero(t, vm.JITResume)

	vm.DevValue = 0x42
	status, pc := DecodeExit(ResumeInvoke(vm))
	assert.Equal(t, ExitPC, status)
	assert.Equal(t, uint16(0), pc)
	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(0x42), vm.WS[0])
}

func TestDeviceWriteLandsBeforeExit(t *testing.T) {
	// LIT ab LIT c0 DEO: device memory carries the byte when the call-out
	// surfaces.
	vm, j := newTestJIT(t, []byte{0x80, 0xab, 0x80, 0xc0, 0x17, 0x00})

	blk := j.Block(uxn.ResetVector)
	require.True(t, blk.Compiled())

	status, _ := DecodeExit(blk.Invoke(vm))
	require.Equal(t, ExitDEO, status)
	assert.Equal(t, uint32(0xc0), vm.DevAddr)
	assert.Equal(t, byte(0xab), vm.Device[0xc0])

	status, pc := DecodeExit(ResumeInvoke(vm))
	assert.Equal(t, ExitPC, status)
	assert.Equal(t, uint16(0), pc)
}

func TestConstantFoldingStillExecutes(t *testing.T) {
	// LIT 02 LIT 03 ADD: both operands are compile-time constants but the
	// computed value must land on the guest stack anyway.
	vm, j := newTestJIT(t, []byte{0x80, 0x02, 0x80, 0x03, 0x18, 0x00})

	blk := j.Block(uxn.ResetVector)
	require.True(t, blk.Compiled())
	blk.Invoke(vm)

	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(5), vm.WS[0])
}

func TestExitWordEncoding(t *testing.T) {
	status, pc := DecodeExit(0x0000_0000_0000_0123)
	assert.Equal(t, ExitPC, status)
	assert.Equal(t, uint16(0x0123), pc)

	status, _ = DecodeExit(uint64(exitWord(ExitDEI2)))
	assert.Equal(t, ExitDEI2, status)

	// A relative jump past 0xffff must still decode as a plain PC with
	// 16-bit wrap-around.
	status, pc = DecodeExit(0x0001_007e)
	assert.Equal(t, ExitPC, status)
	assert.Equal(t, uint16(0x007e), pc)
}
