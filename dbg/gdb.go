// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"sort"
	"sync"

	"github.com/go-uxn/uxnjit/exec"
)

// The GDB JIT interface keeps a process-global list of code entries that a
// debugger walks after breaking on the registration function. Reads from
// another thread must hold the same lock the writer takes.

// OpcodeAddr maps one guest opcode to its first native instruction.
type OpcodeAddr struct {
	PC     uint16
	Native uintptr
}

// CodeEntry describes one compiled block.
type CodeEntry struct {
	Addr  uint16
	Start uintptr
	Size  int
	Name  string
	// Opcodes is ordered by native address.
	Opcodes []OpcodeAddr
}

var (
	gdbMu      sync.Mutex
	gdbEntries []*CodeEntry
)

// registerCode is the debugger's hook point; a breakpoint here observes
// every new entry. Kept as a separate function so it survives in the
// symbol table.
//
//go:noinline
func registerCode(entry *CodeEntry) {
	gdbEntries = append(gdbEntries, entry)
}

// CodeEntries returns a snapshot of all registered entries.
func CodeEntries() []*CodeEntry {
	gdbMu.Lock()
	defer gdbMu.Unlock()
	out := make([]*CodeEntry, len(gdbEntries))
	copy(out, gdbEntries)
	return out
}

type pendingMark struct {
	pc   uint16
	mark *exec.AddrMark
}

// GDBHook records per-opcode address marks during compilation and registers
// each finished block with the process-global entry list.
type GDBHook struct {
	labels  *LabelMap
	pending []pendingMark
}

// NewGDBHook creates the hook. labels may be nil.
func NewGDBHook(labels *LabelMap) *GDBHook {
	return &GDBHook{labels: labels}
}

// BeginBlock implements exec.Hook.
func (h *GDBHook) BeginBlock(ctx *exec.HookCtx) {
	h.pending = h.pending[:0]
}

// JitOpcode implements exec.Hook.
func (h *GDBHook) JitOpcode(ctx *exec.HookCtx, pc uint16, opcode byte) {
	h.pending = append(h.pending, pendingMark{pc: pc, mark: ctx.MarkAddr()})
}

// EndBlock implements exec.Hook.
func (h *GDBHook) EndBlock(ctx *exec.HookCtx, start uintptr, size int) {
	entry := &CodeEntry{
		Addr:  ctx.EntryAddr(),
		Start: start,
		Size:  size,
		Name:  h.labels.symbolize(ctx.EntryAddr()),
	}
	for _, p := range h.pending {
		entry.Opcodes = append(entry.Opcodes, OpcodeAddr{
			PC:     p.pc,
			Native: ctx.ResolveAddr(p.mark),
		})
	}
	sort.Slice(entry.Opcodes, func(i, j int) bool {
		return entry.Opcodes[i].Native < entry.Opcodes[j].Native
	})

	gdbMu.Lock()
	registerCode(entry)
	gdbMu.Unlock()
}
