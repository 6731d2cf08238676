// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uxn

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrROMTooLarge is returned when a ROM does not fit in main memory above
// the reset vector.
var ErrROMTooLarge = errors.New("uxn: rom does not fit in memory")

// LoadROM copies a ROM image into memory starting at the reset vector.
// It returns the number of ROM bytes loaded.
func (vm *VM) LoadROM(r io.Reader) (int, error) {
	n, err := io.ReadFull(r, vm.Memory[ResetVector:])
	switch err {
	case io.EOF, io.ErrUnexpectedEOF:
		return n, nil
	case nil:
		// The buffer filled up; anything left over does not fit.
		var extra [1]byte
		if m, _ := r.Read(extra[:]); m > 0 {
			return n, ErrROMTooLarge
		}
		return n, nil
	default:
		return n, fmt.Errorf("uxn: reading rom: %w", err)
	}
}

// LoadROMFile loads a ROM image from a file.
func (vm *VM) LoadROMFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return vm.LoadROM(f)
}
