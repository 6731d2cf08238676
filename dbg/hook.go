// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"github.com/go-uxn/uxnjit/exec"
)

// CompositeHook fans every callback out to a list of hooks, so the engine's
// single hook slot can feed gdb and perf at the same time.
type CompositeHook struct {
	Hooks []exec.Hook
}

// NewCompositeHook bundles the given hooks. Nil entries are dropped.
func NewCompositeHook(hooks ...exec.Hook) *CompositeHook {
	c := &CompositeHook{}
	for _, h := range hooks {
		if h != nil {
			c.Hooks = append(c.Hooks, h)
		}
	}
	return c
}

// BeginBlock implements exec.Hook.
func (c *CompositeHook) BeginBlock(ctx *exec.HookCtx) {
	for _, h := range c.Hooks {
		h.BeginBlock(ctx)
	}
}

// JitOpcode implements exec.Hook.
func (c *CompositeHook) JitOpcode(ctx *exec.HookCtx, pc uint16, opcode byte) {
	for _, h := range c.Hooks {
		h.JitOpcode(ctx, pc, opcode)
	}
}

// EndBlock implements exec.Hook.
func (c *CompositeHook) EndBlock(ctx *exec.HookCtx, start uintptr, size int) {
	for _, h := range c.Hooks {
		h.EndBlock(ctx, start, size)
	}
}
