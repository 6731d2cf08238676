// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devices

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-uxn/uxnjit/uxn"
)

// interpRunner drives vectors through the reference interpreter, which is
// all the device tests need.
type interpRunner struct {
	vm *uxn.VM
}

func (r *interpRunner) Execute(pc uint16) { r.vm.Run(pc) }

func TestSystemExitCode(t *testing.T) {
	system := &System{}
	vm := uxn.New(system)

	assert.Equal(t, -1, system.ExitCode())

	vm.Device[SystemState] = 0x80
	system.Deo(vm, SystemState)
	assert.Equal(t, 0, system.ExitCode())

	vm.Device[SystemState] = 0x82
	system.Deo(vm, SystemState)
	assert.Equal(t, 2, system.ExitCode())
}

func TestSystemStackPorts(t *testing.T) {
	system := &System{}
	vm := uxn.New(system)
	vm.Wsp, vm.Rsp = 3, 5

	assert.Equal(t, byte(3), system.Dei(vm, SystemWst))
	assert.Equal(t, byte(5), system.Dei(vm, SystemRst))

	vm.Device[SystemWst] = 9
	system.Deo(vm, SystemWst)
	assert.Equal(t, byte(9), vm.Wsp)
}

func TestSystemDebugDump(t *testing.T) {
	var buf bytes.Buffer
	system := &System{DebugWriter: &buf}
	vm := uxn.New(system)
	vm.WS[0], vm.WS[1] = 0xab, 0xcd
	vm.Wsp = 2

	vm.Device[SystemDebug] = 1
	system.Deo(vm, SystemDebug)

	assert.Contains(t, buf.String(), "WST AB CD")
	assert.Contains(t, buf.String(), "RST")
}

func TestConsoleWrite(t *testing.T) {
	var out, errOut bytes.Buffer
	console := &Console{Out: &out, Err: &errOut}
	vm := uxn.New(console)

	vm.Device[ConsoleWrite] = 'h'
	console.Deo(vm, ConsoleWrite)
	vm.Device[ConsoleWrite] = 'i'
	console.Deo(vm, ConsoleWrite)
	vm.Device[ConsoleError] = '!'
	console.Deo(vm, ConsoleError)

	assert.Equal(t, "hi", out.String())
	assert.Equal(t, "!", errOut.String())
}

func TestConsoleSendArgs(t *testing.T) {
	console := &Console{Args: []string{"ab", "c"}}
	vm := uxn.New(console)

	// Vector that records (type, value) pairs: the guest program stores
	// the type byte into the zero page and halts; we inspect device state
	// per call instead, via a recording runner.
	var types, values []byte
	runner := runnerFunc(func(pc uint16) {
		types = append(types, vm.Device[ConsoleType])
		values = append(values, vm.Device[ConsoleRead])
	})
	vm.Device[ConsoleVector] = 0x01 // non-zero vector

	console.SendArgs(vm, runner)

	assert.Equal(t, []byte{
		ConsoleArg, ConsoleArg, ConsoleArgSep,
		ConsoleArg, ConsoleEnd,
	}, types)
	assert.Equal(t, []byte{'a', 'b', '\n', 'c', '\n'}, values)
}

type runnerFunc func(pc uint16)

func (f runnerFunc) Execute(pc uint16) { f(pc) }

func TestConsoleShouldSendInput(t *testing.T) {
	console := &Console{}
	vm := uxn.New(console)

	assert.False(t, console.ShouldSendInput(vm))
	vm.Device[ConsoleVector] = 0x01
	vm.Device[ConsoleVector+1] = 0x80
	assert.True(t, console.ShouldSendInput(vm))
}

func TestDatetime(t *testing.T) {
	dt := &Datetime{Now: func() time.Time {
		return time.Date(2024, time.March, 5, 13, 37, 42, 0, time.UTC)
	}}
	vm := uxn.New(dt)

	assert.Equal(t, byte(2024>>8), dt.Dei(vm, 0xc0))
	assert.Equal(t, byte(2024&0xff), dt.Dei(vm, 0xc1))
	assert.Equal(t, byte(2), dt.Dei(vm, 0xc2)) // March, zero-based
	assert.Equal(t, byte(5), dt.Dei(vm, 0xc3))
	assert.Equal(t, byte(13), dt.Dei(vm, 0xc4))
	assert.Equal(t, byte(37), dt.Dei(vm, 0xc5))
	assert.Equal(t, byte(42), dt.Dei(vm, 0xc6))
}

func TestMuxDispatch(t *testing.T) {
	system := &System{}
	mux := &Mux{}
	mux.Register(0x0, system)
	vm := uxn.New(mux)

	vm.Wsp = 7
	assert.Equal(t, byte(7), mux.Dei(vm, SystemWst))

	// Unhandled pages read raw device memory.
	vm.Device[0x42] = 0x99
	assert.Equal(t, byte(0x99), mux.Dei(vm, 0x42))
}

func TestMuxThroughInterpreter(t *testing.T) {
	system := &System{}
	mux := &Mux{}
	mux.Register(0x0, system)
	vm := uxn.New(mux)

	// #82 #0f DEO: exit with code 2.
	prog := []byte{0x80, 0x82, 0x80, 0x0f, 0x17, 0x00}
	copy(vm.Memory[uxn.ResetVector:], prog)
	runner := &interpRunner{vm: vm}
	runner.Execute(uxn.ResetVector)

	require.Equal(t, 2, system.ExitCode())
}
