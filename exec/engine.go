// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package exec provides the just-in-time execution engine for Uxn guests.
//
// The engine compiles basic blocks of guest bytecode to native code on
// demand and runs them until the guest halts. Zero-page execution and
// uncompilable blocks fall back to the reference interpreter, so execution
// is always correct and the JIT is strictly an accelerator.
package exec

import (
	"github.com/go-uxn/uxnjit/exec/internal/compile"
	"github.com/go-uxn/uxnjit/uxn"
)

// Public names for the hook surface, so debug-info consumers outside this
// module can implement it.
type (
	// Hook observes block compilation; see the compile package for the
	// callback contract.
	Hook = compile.Hook
	// HookCtx is the per-block handle handed to hook callbacks.
	HookCtx = compile.HookCtx
	// AddrMark is an emit-position snapshot taken through a HookCtx.
	AddrMark = compile.AddrMark
	// Stats carries the engine counters.
	Stats = compile.Stats
)

// Config carries optional engine settings.
type Config struct {
	// Hook receives debug-info callbacks during compilation. May be nil.
	Hook Hook
	// NoJIT forces everything through the interpreter. The engine still
	// works; nothing is compiled.
	NoJIT bool
}

// Engine runs a guest VM, compiling hot code on demand. Single-threaded:
// all methods must be called from one goroutine.
type Engine struct {
	vm    *uxn.VM
	jit   *compile.JIT
	noJIT bool
}

// NewEngine creates an engine for the given VM. cfg may be nil.
func NewEngine(vm *uxn.VM, cfg *Config) *Engine {
	var hook Hook
	noJIT := false
	if cfg != nil {
		hook = cfg.Hook
		noJIT = cfg.NoJIT
	}
	return &Engine{
		vm:    vm,
		jit:   compile.New(vm, hook),
		noJIT: noJIT,
	}
}

// VM returns the guest machine.
func (e *Engine) VM() *uxn.VM {
	return e.vm
}

// Stats returns the engine's counters.
func (e *Engine) Stats() *Stats {
	return e.jit.Stats()
}

// Cleanup frees all native code. The engine must not execute afterwards.
func (e *Engine) Cleanup() {
	e.jit.Cleanup()
}

// Execute runs the guest from pc until it halts. Vector dispatch re-enters
// here; a pc of zero returns immediately.
func (e *Engine) Execute(pc uint16) {
	for pc != 0 {
		if e.noJIT || pc < uxn.ResetVector {
			// The zero page is the device trampoline; the interpreter
			// handles it one opcode at a time.
			pc = e.vm.Step(pc)
			continue
		}

		blk := e.jit.Block(pc)
		if !blk.Compiled() {
			// Best-effort JIT: compilation failed, stay correct on the
			// interpreter.
			pc = e.vm.Step(pc)
			continue
		}

		pc = e.dispatch(blk.Invoke(e.vm))
		if pc != 0 {
			e.jit.Stats().NumBounces++
		}
	}
}

// dispatch services device call-outs until the block chain produces a plain
// next-PC exit.
func (e *Engine) dispatch(word uint64) uint16 {
	for {
		status, pc := compile.DecodeExit(word)
		addr := byte(e.vm.DevAddr)
		switch status {
		case compile.ExitPC:
			return pc
		case compile.ExitDEI:
			e.vm.DevValue = uint32(e.vm.Dei(addr))
		case compile.ExitDEI2:
			hi := e.vm.Dei(addr)
			lo := e.vm.Dei(addr + 1)
			e.vm.DevValue = uint32(hi)<<8 | uint32(lo)
		case compile.ExitDEO:
			e.vm.Deo(addr)
		case compile.ExitDEO2:
			e.vm.Deo(addr)
			e.vm.Deo(addr + 1)
		}
		word = compile.ResumeInvoke(e.vm)
	}
}

// SetDebugMode toggles per-opcode compilation traces on stderr.
func SetDebugMode(dbg bool) {
	compile.SetDebugMode(dbg)
}
