// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devices

import (
	"io"

	"github.com/go-uxn/uxnjit/uxn"
)

// Console device port addresses; the device occupies page 0x10.
const (
	ConsoleVector = 0x10
	ConsoleRead   = 0x12
	ConsoleType   = 0x17
	ConsoleWrite  = 0x18
	ConsoleError  = 0x19
)

// Input types reported through the type port.
const (
	ConsoleNoQueue byte = 0
	ConsoleStdin   byte = 1
	ConsoleArg     byte = 2
	ConsoleArgSep  byte = 3
	ConsoleEnd     byte = 4
)

// Runner re-enters the guest at a vector address. The execution engine
// satisfies this.
type Runner interface {
	Execute(pc uint16)
}

// Console implements the console device: byte output on two streams and
// vectored input of stdin and command-line arguments.
type Console struct {
	Out io.Writer
	Err io.Writer

	// Args are streamed to the guest one byte at a time after the reset
	// vector returns.
	Args []string
}

// Dei handles console device reads.
func (c *Console) Dei(vm *uxn.VM, addr byte) byte {
	return vm.Device[addr]
}

// Deo handles console device writes.
func (c *Console) Deo(vm *uxn.VM, addr byte) {
	switch addr {
	case ConsoleWrite:
		if c.Out != nil {
			c.Out.Write([]byte{vm.Device[addr]})
		}
	case ConsoleError:
		if c.Err != nil {
			c.Err.Write([]byte{vm.Device[addr]})
		}
	}
}

// ShouldSendInput reports whether the guest installed a console vector.
func (c *Console) ShouldSendInput(vm *uxn.VM) bool {
	return vm.Dev2(ConsoleVector) != 0
}

// sendData publishes one input byte with its type and fires the console
// vector.
func (c *Console) sendData(vm *uxn.VM, r Runner, kind, value byte) {
	vm.Device[ConsoleType] = kind
	vm.Device[ConsoleRead] = value
	r.Execute(vm.Dev2(ConsoleVector))
}

// SendInput delivers one byte of stdin.
func (c *Console) SendInput(vm *uxn.VM, r Runner, ch byte) {
	c.sendData(vm, r, ConsoleStdin, ch)
}

// SendInputEnd tells the guest stdin is exhausted.
func (c *Console) SendInputEnd(vm *uxn.VM, r Runner) {
	c.sendData(vm, r, ConsoleEnd, 0)
}

// SendArgs streams the configured arguments, separating them and
// terminating the stream the way the guest expects.
func (c *Console) SendArgs(vm *uxn.VM, r Runner) {
	for i, arg := range c.Args {
		for j := 0; j < len(arg); j++ {
			c.sendData(vm, r, ConsoleArg, arg[j])
		}
		if i == len(c.Args)-1 {
			c.sendData(vm, r, ConsoleEnd, '\n')
		} else {
			c.sendData(vm, r, ConsoleArgSep, '\n')
		}
	}
}
