// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Thin emission layer over the golang-asm builder. Each helper appends one
// instruction; label/branch plumbing follows the obj convention of NOP
// label progs and TYPE_BRANCH operands resolved with SetTarget.

// movImm64Sentinel forces the assembler to pick the 10-byte MOVQ $imm64
// encoding so the immediate can be patched in place later. The immediate
// bytes start 2 bytes into the instruction.
const movImm64Sentinel = int64(1) << 33

const movImm64Skip = 2

func (c *blockCompiler) emit(p *obj.Prog) {
	c.b.AddInstruction(p)
}

// rr emits a register-to-register op: dst = dst <op> src for ALU forms,
// dst = src for moves.
func (c *blockCompiler) rr(as obj.As, src, dst int16) {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	c.emit(p)
}

// ri emits a constant-operand op on a register.
func (c *blockCompiler) ri(as obj.As, imm int64, dst int16) *obj.Prog {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = imm
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	c.emit(p)
	return p
}

// load emits dst = [base+off].
func (c *blockCompiler) load(as obj.As, base int16, off int64, dst int16) {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = off
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	c.emit(p)
}

// store emits [base+off] = src.
func (c *blockCompiler) store(as obj.As, src, base int16, off int64) {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = off
	c.emit(p)
}

// storeImm emits [base+off] = imm.
func (c *blockCompiler) storeImm(as obj.As, imm int64, base int16, off int64) {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = imm
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = off
	c.emit(p)
}

// loadIdx emits dst = [regMemBase + regMemOffset].
func (c *blockCompiler) loadIdx(as obj.As, dst int16) {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = regMemBase
	p.From.Index = regMemOffset
	p.From.Scale = 1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	c.emit(p)
}

// storeIdx emits [regMemBase + regMemOffset] = src.
func (c *blockCompiler) storeIdx(as obj.As, src int16) {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = regMemBase
	p.To.Index = regMemOffset
	p.To.Scale = 1
	c.emit(p)
}

// lea emits dst = base + off.
func (c *blockCompiler) lea(base int16, off int64, dst int16) {
	p := c.b.NewProg()
	p.As = x86.ALEAQ
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = off
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	c.emit(p)
}

// cmpRI emits CMPQ reg, $imm.
func (c *blockCompiler) cmpRI(reg int16, imm int64) {
	p := c.b.NewProg()
	p.As = x86.ACMPQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	p.To.Type = obj.TYPE_CONST
	p.To.Offset = imm
	c.emit(p)
}

// cmpRR emits CMPQ a, b; conditions then read as "a <cond> b".
func (c *blockCompiler) cmpRR(a, b int16) {
	p := c.b.NewProg()
	p.As = x86.ACMPQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = a
	p.To.Type = obj.TYPE_REG
	p.To.Reg = b
	c.emit(p)
}

// setcc emits SETcc dst (low byte) followed by a mask to 0/1.
func (c *blockCompiler) setcc(as obj.As, dst int16) {
	p := c.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	c.emit(p)
	c.ri(x86.AANDQ, 1, dst)
}

// label emits a NOP that branches can target and whose byte offset is known
// after assembly.
func (c *blockCompiler) label() *obj.Prog {
	p := c.b.NewProg()
	p.As = obj.ANOP
	c.emit(p)
	return p
}

// branch emits a jump/call with an unresolved branch target. Resolve it
// with setTarget before assembly.
func (c *blockCompiler) branch(as obj.As) *obj.Prog {
	p := c.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	c.emit(p)
	return p
}

func (c *blockCompiler) setTarget(branch, target *obj.Prog) {
	branch.To.SetTarget(target)
}

// branchTo emits a jump/call straight at an already-emitted label.
func (c *blockCompiler) branchTo(as obj.As, target *obj.Prog) *obj.Prog {
	p := c.branch(as)
	c.setTarget(p, target)
	return p
}

// callReg emits CALL reg.
func (c *blockCompiler) callReg(reg int16) {
	p := c.b.NewProg()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	c.emit(p)
}

// jmpReg emits JMP reg.
func (c *blockCompiler) jmpReg(reg int16) {
	p := c.b.NewProg()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	c.emit(p)
}

// opReg emits a single-register-operand instruction such as DIVQ.
func (c *blockCompiler) opReg(as obj.As, reg int16) {
	p := c.b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	c.emit(p)
}

func (c *blockCompiler) ret() {
	p := c.b.NewProg()
	p.As = obj.ARET
	c.emit(p)
}

// movPatchableImm emits MOVQ $imm64, dst with a sentinel immediate; the
// actual value is written into the code bytes after placement.
func (c *blockCompiler) movPatchableImm(dst int16) *obj.Prog {
	return c.ri(x86.AMOVQ, movImm64Sentinel, dst)
}
