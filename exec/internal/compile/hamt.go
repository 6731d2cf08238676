// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"unsafe"

	"github.com/go-uxn/uxnjit/uxn"
)

const hamtBits = 4
const hamtFanout = 1 << hamtBits

// Block is one compiled basic block. It is immutable once published, except
// for the rewritable jump immediates inside its code segment, which only the
// linker writes.
type Block struct {
	// Key is the guest entry PC, always >= uxn.ResetVector.
	Key uint16

	children [hamtFanout]*Block

	// fn is the host-callable entry, or 0 while uncompiled. It becomes
	// non-zero exactly once, after every other field is in place. Invoke
	// builds its function value from the address of this field, so the
	// field must stay addressable for the block's lifetime.
	fn uintptr

	code []byte

	// HeadAddr is the fast call entry, BodyAddr the loop body past the
	// state load. Inter-block links are patched to one of these.
	HeadAddr uintptr
	BodyAddr uintptr
	// ExecutableOffset corrects patched immediates when the writable and
	// executable views of the code live at different addresses. The mmap
	// allocator maps one RWX region, so it is zero there.
	ExecutableOffset uintptr
	// NativeSize is the unaligned size of the emitted code.
	NativeSize int

	// next links every block into the all-blocks list used at teardown.
	next *Block
}

// Compiled reports whether the block has native code.
func (b *Block) Compiled() bool { return b.fn != 0 }

// Invoke runs the block's host entry with the VM as argument and returns
// the exit word. The function value is synthesized from a pointer to the
// word holding the code address.
func (b *Block) Invoke(vm *uxn.VM) uint64 {
	f := uintptr(unsafe.Pointer(&b.fn))
	fp := **(**func(vm uintptr) uint64)(unsafe.Pointer(&f))
	return fp(uintptr(unsafe.Pointer(vm)))
}

// ResumeInvoke re-enters whichever block staged a device call-out, through
// the thunk address it left in vm.JITResume.
func ResumeInvoke(vm *uxn.VM) uint64 {
	f := uintptr(unsafe.Pointer(&vm.JITResume))
	fp := **(**func(vm uintptr) uint64)(unsafe.Pointer(&f))
	return fp(uintptr(unsafe.Pointer(vm)))
}

// blockMap is a hash-array-mapped trie keyed by guest PC. Insertion only;
// entries never move, so pointers into it stay valid. Not safe for
// concurrent use: only the executor thread touches it.
type blockMap struct {
	root  *Block
	first *Block
	count int
}

// https://nullprogram.com/blog/2018/07/31/
func prospector32(x uint32) uint32 {
	x ^= x >> 15
	x *= 0x2c1b3c6d
	x ^= x >> 12
	x *= 0x297a2d39
	x ^= x >> 15
	return x
}

// getOrInsert returns the block for pc, allocating and registering a fresh
// record on first sight. The second result reports whether an insert
// happened.
func (m *blockMap) getOrInsert(pc uint16) (*Block, bool) {
	hash := prospector32(uint32(pc))
	slot := &m.root
	for *slot != nil {
		if (*slot).Key == pc {
			return *slot, false
		}
		slot = &(*slot).children[hash&(hamtFanout-1)]
		hash >>= hamtBits
	}

	blk := &Block{Key: pc}
	*slot = blk
	blk.next = m.first
	m.first = blk
	m.count++
	return blk, true
}
