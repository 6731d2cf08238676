// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

// Creates support files for perf per
// https://github.com/torvalds/linux/blob/master/tools/perf/Documentation/jit-interface.txt

import (
	"fmt"
	"io"
	"os"

	"github.com/go-uxn/uxnjit/exec"
)

// PerfHook writes a /tmp/perf-<pid>.map line for every compiled block so
// perf can symbolize JIT frames.
type PerfHook struct {
	w      io.Writer
	closer io.Closer
	labels *LabelMap
}

// NewPerfHook opens the map file for this process. labels may be nil.
func NewPerfHook(labels *LabelMap) (*PerfHook, error) {
	path := fmt.Sprintf("/tmp/perf-%d.map", os.Getpid())
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &PerfHook{w: f, closer: f, labels: labels}, nil
}

// NewPerfHookWriter writes map lines to the given writer; used by tests.
func NewPerfHookWriter(w io.Writer, labels *LabelMap) *PerfHook {
	return &PerfHook{w: w, labels: labels}
}

// BeginBlock implements exec.Hook.
func (h *PerfHook) BeginBlock(ctx *exec.HookCtx) {}

// JitOpcode implements exec.Hook.
func (h *PerfHook) JitOpcode(ctx *exec.HookCtx, pc uint16, opcode byte) {}

// EndBlock implements exec.Hook.
func (h *PerfHook) EndBlock(ctx *exec.HookCtx, start uintptr, size int) {
	fmt.Fprintf(h.w, "%x %x uxn:%s\n", start, size, h.labels.symbolize(ctx.EntryAddr()))
}

// Close flushes and closes the map file.
func (h *PerfHook) Close() error {
	if h.closer != nil {
		return h.closer.Close()
	}
	return nil
}
