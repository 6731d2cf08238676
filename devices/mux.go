// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devices

import (
	"github.com/go-uxn/uxnjit/uxn"
)

// Mux dispatches device accesses by page. Pages without a handler read
// back raw device memory and swallow writes.
type Mux struct {
	handlers [16]uxn.DeviceHandler
}

// DeviceID extracts the device page from a port address.
func DeviceID(addr byte) byte {
	return addr >> 4
}

// Register installs a handler for one device page.
func (m *Mux) Register(page byte, h uxn.DeviceHandler) {
	m.handlers[page&0x0f] = h
}

// Dei implements uxn.DeviceHandler.
func (m *Mux) Dei(vm *uxn.VM, addr byte) byte {
	if h := m.handlers[DeviceID(addr)]; h != nil {
		return h.Dei(vm, addr)
	}
	return vm.Device[addr]
}

// Deo implements uxn.DeviceHandler.
func (m *Mux) Deo(vm *uxn.VM, addr byte) {
	if h := m.handlers[DeviceID(addr)]; h != nil {
		h.Deo(vm, addr)
	}
}
