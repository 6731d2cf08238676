// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package exec_test

import (
	"bytes"
	"fmt"
	"runtime"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/go-uxn/uxnjit/dbg"
	"github.com/go-uxn/uxnjit/exec"
	"github.com/go-uxn/uxnjit/uxn"
	"github.com/go-uxn/uxnjit/uxn/uxnasm"
)

func requireJIT(t testing.TB) {
	t.Helper()
	if runtime.GOARCH != "amd64" {
		t.Skip("no native backend on", runtime.GOARCH)
	}
	switch runtime.GOOS {
	case "linux", "darwin":
	default:
		t.Skip("no executable mapping support on", runtime.GOOS)
	}
}

func newTestEngine(t *testing.T, prog []byte, cfg *exec.Config) (*uxn.VM, *exec.Engine) {
	t.Helper()
	vm := uxn.New(nil)
	copy(vm.Memory[uxn.ResetVector:], prog)
	engine := exec.NewEngine(vm, cfg)
	t.Cleanup(engine.Cleanup)
	return vm, engine
}

func assemble(t *testing.T, src string) []byte {
	t.Helper()
	p, err := uxnasm.Assemble(src)
	require.NoError(t, err)
	return p.Code
}

func TestExecuteEmpty(t *testing.T) {
	requireJIT(t)
	_, engine := newTestEngine(t, nil, nil)
	engine.Execute(uxn.ResetVector)
}

func TestExecuteAdd(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x18}, nil)
	vm.WS[0], vm.WS[1] = 1, 2
	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(3), vm.WS[0])
}

func TestExecuteAddShort(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x38}, nil)
	copy(vm.WS[:], []byte{0, 255, 0, 1})
	vm.Wsp = 4
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(2), vm.Wsp)
	assert.Equal(t, byte(1), vm.WS[0])
	assert.Equal(t, byte(0), vm.WS[1])
}

func TestExecuteAddKeep(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x98}, nil)
	vm.WS[0], vm.WS[1] = 1, 2
	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(3), vm.Wsp)
	assert.Equal(t, []byte{1, 2, 3}, vm.WS[:3])
}

func TestExecuteAddReturnStack(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x58}, nil)
	vm.RS[0], vm.RS[1] = 1, 2
	vm.Rsp = 2
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(1), vm.Rsp)
	assert.Equal(t, byte(3), vm.RS[0])
}

func TestExecutePopWraps(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x02}, nil)
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(0xff), vm.Wsp)
}

func TestExecuteIncShortWrapsAroundStack(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x21}, nil)
	vm.WS[0] = 1
	vm.WS[255] = 2
	vm.Wsp = 1
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(2), vm.WS[0])
	assert.Equal(t, byte(2), vm.WS[255])
}

func TestExecuteDivByZero(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x1b}, nil)
	vm.WS[0], vm.WS[1] = 6, 0
	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(0), vm.WS[0])
}

func TestExecuteLit2(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0xa0, 0x42, 0x69}, nil)
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(2), vm.Wsp)
	assert.Equal(t, []byte{0x42, 0x69}, vm.WS[:2])
}

func TestExecuteJsiRoutine(t *testing.T) {
	requireJIT(t)
	prog := assemble(t, "#07 #04 modulo BRK @modulo DIVk MUL SUB JMP2r")
	vm, engine := newTestEngine(t, prog, nil)
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(3), vm.WS[0])
	assert.Equal(t, byte(0), vm.Rsp)
}

type deoRecorder struct {
	addrs []byte
	bytes []byte
}

func (r *deoRecorder) Dei(vm *uxn.VM, addr byte) byte { return vm.Device[addr] }
func (r *deoRecorder) Deo(vm *uxn.VM, addr byte) {
	r.addrs = append(r.addrs, addr)
	r.bytes = append(r.bytes, vm.Device[addr])
}

func TestExecuteDeo2(t *testing.T) {
	requireJIT(t)
	prog := assemble(t, "|d0 @Test &deo $2 |0100 #cafe .Test/deo DEO2")
	recorder := &deoRecorder{}
	vm, engine := newTestEngine(t, prog, nil)
	vm.Handler = recorder
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(0), vm.Wsp)
	assert.Equal(t, []byte{0xd0, 0xd1}, recorder.addrs)
	assert.Equal(t, []byte{0xca, 0xfe}, recorder.bytes)
	assert.Equal(t, byte(0xca), vm.Device[0xd0])
	assert.Equal(t, byte(0xfe), vm.Device[0xd1])
}

func TestExecuteDeiResumes(t *testing.T) {
	requireJIT(t)
	// #c0 DEI #01 ADD -> reads the port and keeps computing afterwards.
	prog := assemble(t, "#c0 DEI #01 ADD BRK")
	vm, engine := newTestEngine(t, prog, nil)
	vm.Device[0xc0] = 0x41
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(0x42), vm.WS[0])
}

func TestJmiLinksDirectly(t *testing.T) {
	requireJIT(t)
	prog := assemble(t, "!end BRK @end BRK")
	_, engine := newTestEngine(t, prog, nil)
	engine.Execute(uxn.ResetVector)

	stats := engine.Stats()
	assert.Equal(t, 2, stats.NumBlocks)
	assert.Equal(t, 0, stats.NumBounces)
}

func TestIndirectJumpBounces(t *testing.T) {
	requireJIT(t)
	prog := assemble(t, ";ptr LDA2 JMP2 @target #aa BRK @ptr =target")
	vm, engine := newTestEngine(t, prog, nil)
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(1), vm.Wsp)
	assert.Equal(t, byte(0xaa), vm.WS[0])
	assert.GreaterOrEqual(t, engine.Stats().NumBounces, 1)
}

func TestSelfModifyingJumpTarget(t *testing.T) {
	requireJIT(t)
	// 0x0100: a0 01 04  LIT2 0104
	// 0x0103: 2c        JMP2
	// 0x0104: 80 aa 00  @a LIT aa BRK
	// 0x0107: 80 bb 00  @b LIT bb BRK
	prog := []byte{
		0xa0, 0x01, 0x04,
		0x2c,
		0x80, 0xaa, 0x00,
		0x80, 0xbb, 0x00,
	}
	vm, engine := newTestEngine(t, prog, nil)
	engine.Execute(uxn.ResetVector)
	require.Equal(t, byte(0xaa), vm.WS[0])

	blocks := engine.Stats().NumBlocks
	bounces := engine.Stats().NumBounces

	// Rewrite the jump target byte in guest memory; the original block is
	// unchanged but its constant guard now fails.
	vm.Memory[0x0102] = 0x07
	vm.Wsp = 0
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(0xbb), vm.WS[0])
	assert.Equal(t, blocks+1, engine.Stats().NumBlocks)
	assert.GreaterOrEqual(t, engine.Stats().NumBounces, bounces+1)
}

func TestLookupIsIdempotent(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x18}, nil)
	vm.WS[0], vm.WS[1] = 1, 2
	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)
	require.Equal(t, 1, engine.Stats().NumBlocks)

	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)
	assert.Equal(t, 1, engine.Stats().NumBlocks)
}

func TestZeroPageFallsBackToInterpreter(t *testing.T) {
	requireJIT(t)
	prog := assemble(t, "|0050 @zp |0100 ;zp JMP2")
	_, engine := newTestEngine(t, prog, nil)
	engine.Execute(uxn.ResetVector)

	assert.GreaterOrEqual(t, engine.Stats().NumBounces, 1)
}

func TestCodeSizeIsAccounted(t *testing.T) {
	requireJIT(t)
	vm, engine := newTestEngine(t, []byte{0x18}, nil)
	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)

	assert.Greater(t, engine.Stats().CodeSize, 0)
}

func TestNoJITConfig(t *testing.T) {
	vm, engine := newTestEngine(t, []byte{0x18}, &exec.Config{NoJIT: true})
	vm.WS[0], vm.WS[1] = 1, 2
	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)

	assert.Equal(t, byte(3), vm.WS[0])
	assert.Equal(t, 0, engine.Stats().NumBlocks)
}

func TestBooleanJumpSkipsOneOpcode(t *testing.T) {
	requireJIT(t)
	// #02 #01 EQU JMP POP BRK : the comparison is false, so POP runs.
	prog := assemble(t, "#05 #02 #01 EQU JMP POP BRK")
	vm, engine := newTestEngine(t, prog, nil)
	engine.Execute(uxn.ResetVector)
	assert.Equal(t, byte(0), vm.Wsp)

	// Now make the comparison true: POP is skipped.
	prog2 := assemble(t, "#05 #01 #01 EQU JMP POP BRK")
	vm2, engine2 := newTestEngine(t, prog2, nil)
	engine2.Execute(uxn.ResetVector)
	assert.Equal(t, byte(1), vm2.Wsp)
	assert.Equal(t, byte(0x05), vm2.WS[0])
}

func TestPerfHookWritesMapLines(t *testing.T) {
	requireJIT(t)
	var buf bytes.Buffer
	hook := dbg.NewPerfHookWriter(&buf, &dbg.LabelMap{
		Entries: []dbg.LabelEntry{{Addr: 0x0100, Name: "reset"}},
	})
	vm, engine := newTestEngine(t, []byte{0x18}, &exec.Config{Hook: hook})
	vm.Wsp = 2
	engine.Execute(uxn.ResetVector)

	require.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), "uxn:0x0100@reset")
}

func TestGDBHookRegistersBlocks(t *testing.T) {
	requireJIT(t)
	before := len(dbg.CodeEntries())

	hook := dbg.NewGDBHook(nil)
	vm, engine := newTestEngine(t, []byte{0x18, 0x18}, &exec.Config{Hook: hook})
	vm.Wsp = 4
	engine.Execute(uxn.ResetVector)

	entries := dbg.CodeEntries()
	require.Equal(t, before+1, len(entries))
	entry := entries[len(entries)-1]
	assert.Equal(t, uint16(0x0100), entry.Addr)
	assert.NotZero(t, entry.Start)
	assert.Greater(t, entry.Size, 0)
	// Three opcode marks: the two ADDs plus the BRK terminator.
	require.Len(t, entry.Opcodes, 3)
	assert.Equal(t, uint16(0x0100), entry.Opcodes[0].PC)
	assert.Equal(t, uint16(0x0101), entry.Opcodes[1].PC)
	for _, op := range entry.Opcodes {
		assert.GreaterOrEqual(t, op.Native, entry.Start)
	}
}

func TestJITMatchesInterpreter(t *testing.T) {
	requireJIT(t)

	validOp := func(b byte) bool {
		switch b {
		case 0x00, uxn.JCI, uxn.JMI, uxn.JSI:
			return false
		}
		switch b & 0x1f {
		case uxn.JMP, uxn.JCN, uxn.JSR:
			// Arbitrary jump targets are exercised by the directed tests.
			return false
		case uxn.STR, uxn.STA:
			// Can rewrite the program mid-block, where JIT and pure
			// interpretation legitimately differ.
			return false
		}
		return true
	}

	rapid.Check(t, func(rt *rapid.T) {
		op := rapid.Byte().Filter(validOp).Draw(rt, "op")
		imm1 := rapid.Byte().Draw(rt, "imm1")
		imm2 := rapid.Byte().Draw(rt, "imm2")
		ws := rapid.SliceOfN(rapid.Byte(), 256, 256).Draw(rt, "ws")
		rs := rapid.SliceOfN(rapid.Byte(), 256, 256).Draw(rt, "rs")
		wsp := rapid.Byte().Draw(rt, "wsp")
		rsp := rapid.Byte().Draw(rt, "rsp")

		prog := []byte{op, 0x00, 0x00, 0x00}
		switch op {
		case uxn.LIT, uxn.LITr:
			prog[1] = imm1
		case uxn.LIT2, uxn.LIT2r:
			prog[1], prog[2] = imm1, imm2
		}

		setup := func(vm *uxn.VM) {
			copy(vm.WS[:], ws)
			copy(vm.RS[:], rs)
			vm.Wsp, vm.Rsp = wsp, rsp
		}

		ref := uxn.New(nil)
		copy(ref.Memory[uxn.ResetVector:], prog)
		setup(ref)
		ref.Run(uxn.ResetVector)

		vm := uxn.New(nil)
		copy(vm.Memory[uxn.ResetVector:], prog)
		setup(vm)
		engine := exec.NewEngine(vm, nil)
		engine.Execute(uxn.ResetVector)
		engine.Cleanup()

		msg := fmt.Sprintf("opcode %s", uxn.OpString(op))
		require.Equal(rt, ref.Wsp, vm.Wsp, msg)
		require.Equal(rt, ref.Rsp, vm.Rsp, msg)
		if !bytes.Equal(ref.WS[:], vm.WS[:]) || !bytes.Equal(ref.RS[:], vm.RS[:]) {
			rt.Fatalf("%s: stacks diverged\ninterp: %s\njit: %s",
				msg, spew.Sdump(ref.WS, ref.RS), spew.Sdump(vm.WS, vm.RS))
		}
		require.Equal(rt, ref.Memory, vm.Memory, msg)
		require.Equal(rt, ref.Device, vm.Device, msg)
	})
}
