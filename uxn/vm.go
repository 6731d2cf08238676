// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uxn

// MemorySize is the size of guest main memory. Addresses wrap modulo this.
const MemorySize = 0x10000

// DeviceHandler receives device port accesses. Deo is called after the
// written byte is already visible in VM.Device; Dei may return a value
// different from the backing device memory.
type DeviceHandler interface {
	Dei(vm *VM, addr byte) byte
	Deo(vm *VM, addr byte)
}

// VM is the guest machine image.
//
// The compiler bakes field offsets of everything above Memory into native
// code as immediates, so the layout of this struct is part of the engine's
// ABI: fields must not be reordered or resized. The padding keeps JITResume
// pointer-aligned regardless of platform.
type VM struct {
	WS     [256]byte
	RS     [256]byte
	Device [256]byte
	Wsp    byte
	Rsp    byte
	_      [6]byte

	// Staging area for JIT device call-outs. Native code fills these and
	// returns to the executor, which performs the handler call and re-enters
	// through the thunk address left in JITResume.
	JITResume uintptr
	DevAddr   uint32
	DevValue  uint32

	Memory [MemorySize]byte

	// Host-only fields. Never touched by native code.
	Handler DeviceHandler
}

// New returns a zeroed VM with the given device handler. A nil handler makes
// DEI read back device memory and DEO a plain memory write.
func New(handler DeviceHandler) *VM {
	return &VM{Handler: handler}
}

// Reset clears all guest-visible state. The handler is kept.
func (vm *VM) Reset() {
	handler := vm.Handler
	*vm = VM{Handler: handler}
}

// Dei reads a device port through the handler.
func (vm *VM) Dei(addr byte) byte {
	if vm.Handler != nil {
		return vm.Handler.Dei(vm, addr)
	}
	return vm.Device[addr]
}

// Deo notifies the handler of a device port write. The byte itself has
// already been stored into vm.Device by the caller.
func (vm *VM) Deo(addr byte) {
	if vm.Handler != nil {
		vm.Handler.Deo(vm, addr)
	}
}

// Dev2 reads a big-endian short from device memory. Device vectors are
// stored this way.
func (vm *VM) Dev2(addr byte) uint16 {
	return uint16(vm.Device[addr])<<8 | uint16(vm.Device[addr+1])
}

// Mem2 reads a big-endian short from main memory with address wrap-around.
func (vm *VM) Mem2(addr uint16) uint16 {
	return uint16(vm.Memory[addr])<<8 | uint16(vm.Memory[addr+1])
}
