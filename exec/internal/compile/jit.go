// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"encoding/binary"
	"errors"

	"github.com/go-uxn/uxnjit/uxn"
)

// errEmptyAssembly flags a block whose assembly produced no code; the block
// is left uncompiled and execution stays on the interpreter.
var errEmptyAssembly = errors.New("compile: assembler produced no code")

// Stats counts what the JIT has done so far.
type Stats struct {
	// CodeSize is the executable memory taken by compiled blocks, in bytes,
	// counting each block at its aligned allocation size.
	CodeSize int
	// NumBlocks is the number of unique guest entry PCs seen.
	NumBlocks int
	// NumBounces counts block invocations that returned to the executor
	// instead of transferring control directly.
	NumBounces int
}

// JIT owns the block map, the per-wavefront work queues and the executable
// pages. Everything here runs on a single thread.
type JIT struct {
	vm    *uxn.VM
	hook  Hook
	stats Stats
	alloc MMapAllocator

	blocks blockMap

	compileQueue *entry
	linkQueue    *entry
	cleanupQueue *entry
	entryPool    *entry
}

// entry is one queued unit of work. Entries are recycled through entryPool
// to amortize allocation across wavefronts.
type entry struct {
	next *entry

	linkType LinkType
	block    *Block
	c        *blockCompiler
	site     *patchSite
	pc       uint16
}

// New creates a JIT for the given VM. hook may be nil.
func New(vm *uxn.VM, hook Hook) *JIT {
	return &JIT{vm: vm, hook: hook}
}

// Stats returns the engine's counters. The executor increments NumBounces
// through this.
func (j *JIT) Stats() *Stats {
	return &j.stats
}

// VM returns the guest machine this JIT compiles for.
func (j *JIT) VM() *uxn.VM {
	return j.vm
}

// Cleanup releases every executable page. All block function pointers are
// dead afterwards.
func (j *JIT) Cleanup() {
	for blk := j.blocks.first; blk != nil; blk = blk.next {
		blk.fn = 0
		blk.code = nil
	}
	_ = j.alloc.Close()
}

func dequeue(q **entry) *entry {
	e := *q
	if e != nil {
		*q = e.next
	}
	return e
}

func enqueue(q **entry, e *entry) {
	e.next = *q
	*q = e
}

func (j *JIT) allocEntry() *entry {
	e := dequeue(&j.entryPool)
	if e == nil {
		e = new(entry)
	}
	*e = entry{}
	return e
}

// queueBlock looks up or registers the block at pc. A fresh block gets a
// compiler handle and a slot on the compile and cleanup queues.
func (j *JIT) queueBlock(pc uint16) *Block {
	blk, inserted := j.blocks.getOrInsert(pc)
	if !inserted {
		return blk
	}
	j.stats.NumBlocks++

	c := newBlockCompiler(j, blk)
	if c == nil {
		// No backend for this platform, or the builder could not be set
		// up. The block stays uncompiled and the executor falls back to
		// the interpreter.
		return blk
	}

	compileEntry := j.allocEntry()
	compileEntry.block = blk
	compileEntry.c = c
	compileEntry.pc = pc
	enqueue(&j.compileQueue, compileEntry)

	cleanupEntry := j.allocEntry()
	cleanupEntry.c = c
	enqueue(&j.cleanupQueue, cleanupEntry)

	return blk
}

// queueLink records a rewritable jump site waiting for its target block.
func (j *JIT) queueLink(c *blockCompiler, site *patchSite, target *Block, linkType LinkType) {
	e := j.allocEntry()
	e.linkType = linkType
	e.block = target
	e.c = c
	e.site = site
	enqueue(&j.linkQueue, e)
}

// Block returns the compiled block at pc, driving the compile, link and
// cleanup queues until the wavefront started by this lookup is drained.
// Compilation of one block may discover branch targets and enqueue more.
func (j *JIT) Block(pc uint16) *Block {
	blk := j.queueBlock(pc)
	if blk.Compiled() {
		return blk
	}

	for e := dequeue(&j.compileQueue); e != nil; e = dequeue(&j.compileQueue) {
		e.c.compile(e.pc)
		enqueue(&j.entryPool, e)
	}

	for e := dequeue(&j.linkQueue); e != nil; e = dequeue(&j.linkQueue) {
		j.patchLink(e)
		enqueue(&j.entryPool, e)
	}

	for e := dequeue(&j.cleanupQueue); e != nil; e = dequeue(&j.cleanupQueue) {
		e.c.release()
		enqueue(&j.entryPool, e)
	}

	return blk
}

// patchLink installs a direct inter-block link. If the target never
// compiled, the site keeps pointing at its fallback stub, which bounces the
// target PC out to the executor.
func (j *JIT) patchLink(e *entry) {
	var target uintptr
	if e.linkType == LinkToHead {
		target = e.block.HeadAddr
	} else {
		target = e.block.BodyAddr
	}
	if target == 0 {
		return
	}
	site := e.c.block
	if site.code == nil {
		return
	}
	binary.LittleEndian.PutUint64(
		site.code[e.site.immOffset:],
		uint64(target-e.block.ExecutableOffset),
	)
}
