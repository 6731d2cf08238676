// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj"
)

// AddrMark is a snapshot of the emit position, resolvable to a native
// address after the block is finalized.
type AddrMark struct {
	prog *obj.Prog
}

// Hook observes block compilation. The engine never interprets the reported
// data; consumers build GDB JIT-interface entries or perf map files from it.
// All callbacks run on the executor thread.
type Hook interface {
	// BeginBlock is called before any emission for the block.
	BeginBlock(ctx *HookCtx)
	// JitOpcode is called before each opcode is emitted. The hook may take
	// address marks to correlate guest PCs with native code.
	JitOpcode(ctx *HookCtx, pc uint16, opcode byte)
	// EndBlock is called after finalization with the native placement.
	// Marks taken during compilation resolve only from here on.
	EndBlock(ctx *HookCtx, start uintptr, size int)
}

// HookCtx is the per-block handle passed to hook callbacks.
type HookCtx struct {
	c *blockCompiler
}

// EntryAddr returns the block's guest entry PC.
func (ctx *HookCtx) EntryAddr() uint16 {
	return ctx.c.entryPC()
}

// MarkAddr snapshots the current emit position.
func (ctx *HookCtx) MarkAddr() *AddrMark {
	return ctx.c.markAddr()
}

// ResolveAddr turns a mark into a native address. Only valid once EndBlock
// has been called for the mark's block.
func (ctx *HookCtx) ResolveAddr(mark *AddrMark) uintptr {
	return ctx.c.resolveMark(mark)
}
