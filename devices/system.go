// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package devices implements the Varvara devices the CLI host wires up:
// system, console and datetime.
package devices

import (
	"fmt"
	"io"

	"github.com/go-uxn/uxnjit/uxn"
)

// System device ports, relative to the device base.
const (
	SystemExpansion = 0x02
	SystemWst       = 0x04
	SystemRst       = 0x05
	SystemMetadata  = 0x06
	SystemDebug     = 0x0e
	SystemState     = 0x0f
)

// System implements the system device: stack introspection, the debug port
// and the exit-code state port.
type System struct {
	// DebugWriter receives stack dumps from the debug port. Defaults to
	// stderr via the CLI.
	DebugWriter io.Writer

	exitCode int
	hasExit  bool
}

// ExitCode returns the guest's exit code, or -1 while unset.
func (s *System) ExitCode() int {
	if !s.hasExit {
		return -1
	}
	return s.exitCode
}

// Dei handles system device reads.
func (s *System) Dei(vm *uxn.VM, addr byte) byte {
	switch addr & 0x0f {
	case SystemWst:
		return vm.Wsp
	case SystemRst:
		return vm.Rsp
	default:
		return vm.Device[addr]
	}
}

// Deo handles system device writes.
func (s *System) Deo(vm *uxn.VM, addr byte) {
	switch addr & 0x0f {
	case SystemWst:
		vm.Wsp = vm.Device[addr]
	case SystemRst:
		vm.Rsp = vm.Device[addr]
	case SystemDebug:
		if vm.Device[addr] != 0 {
			s.debugDump(vm)
		}
	case SystemState:
		if v := vm.Device[addr]; v != 0 {
			s.exitCode = int(v & 0x7f)
			s.hasExit = true
		}
	}
}

func (s *System) debugDump(vm *uxn.VM) {
	w := s.DebugWriter
	if w == nil {
		return
	}
	fmt.Fprintf(w, "WST")
	for i := byte(0); i < vm.Wsp; i++ {
		fmt.Fprintf(w, " %02X", vm.WS[i])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "RST")
	for i := byte(0); i < vm.Rsp; i++ {
		fmt.Fprintf(w, " %02X", vm.RS[i])
	}
	fmt.Fprintln(w)
}
