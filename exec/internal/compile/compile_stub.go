// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !amd64

package compile

// No native backend on this architecture. Blocks never compile and the
// executor runs everything on the interpreter.

type patchSite struct {
	immOffset uintptr
}

type blockCompiler struct {
	block *Block
}

func newBlockCompiler(j *JIT, blk *Block) *blockCompiler { return nil }

func (c *blockCompiler) compile(pc uint16) {}
func (c *blockCompiler) release()          {}

func (c *blockCompiler) entryPC() uint16                    { return 0 }
func (c *blockCompiler) markAddr() *AddrMark                { return nil }
func (c *blockCompiler) resolveMark(mark *AddrMark) uintptr { return 0 }
