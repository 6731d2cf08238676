// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	mmap "github.com/edsrzf/mmap-go"
)

const (
	minAllocSize = 32 * 1024
	// alignment - instruction caching works better on aligned boundaries.
	allocationAlignment = 128 - 1
)

type mmapBlock struct {
	mem       mmap.MMap
	consumed  uint32
	remaining uint32
}

// MMapAllocator copies instructions into executable memory. Blocks are
// packed into shared RWX pages; the returned slices alias the mapping, so
// the linker can patch immediates in place.
type MMapAllocator struct {
	last   *mmapBlock
	blocks []*mmapBlock
}

// Close frees all pages allocated by the allocator. Every code slice it
// handed out is invalid afterwards.
func (a *MMapAllocator) Close() error {
	for _, block := range a.blocks {
		if err := block.mem.Unmap(); err != nil {
			return err
		}
	}
	a.blocks = nil
	a.last = nil
	return nil
}

// AllocateExec places the given code in executable memory and returns the
// segment plus the aligned number of bytes consumed.
func (a *MMapAllocator) AllocateExec(asm []byte) ([]byte, int, error) {
	consumed := uint32(len(asm)+allocationAlignment) & ^uint32(allocationAlignment)

	if a.last != nil && a.last.remaining >= consumed {
		seg := a.last.mem[a.last.consumed : a.last.consumed+uint32(len(asm))]
		copy(seg, asm)
		a.last.consumed += consumed
		a.last.remaining -= consumed
		return seg, int(consumed), nil
	}

	// can't use last allocation - make new block.
	alloc := minAllocSize
	if int(consumed) > alloc { // not big enough? make minAlloc + aligned len
		alloc += int(consumed)
	}
	m, err := mmap.MapRegion(nil, alloc, mmap.EXEC|mmap.RDWR, mmap.ANON, int64(0))
	if err != nil {
		return nil, 0, err
	}
	a.last = &mmapBlock{
		mem:       m,
		consumed:  consumed,
		remaining: uint32(alloc) - consumed,
	}
	a.blocks = append(a.blocks, a.last)
	copy(m[:len(asm)], asm)
	return m[:len(asm)], int(consumed), nil
}
