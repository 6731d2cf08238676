// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/go-uxn/uxnjit/uxn"
)

func (c *blockCompiler) dispatch() {
	switch c.opcode {
	case uxn.BRK:
		c.opBRK()
		return
	case uxn.JCI:
		c.opJCI()
		return
	case uxn.JMI:
		c.opJMI()
		return
	case uxn.JSI:
		c.opJSI()
		return
	case uxn.LIT, uxn.LIT2, uxn.LITr, uxn.LIT2r:
		c.opLIT()
		return
	}

	switch c.opcode & 0x1f {
	case uxn.INC:
		c.opINC()
	case uxn.POP:
		c.opPOP()
	case uxn.NIP:
		c.opNIP()
	case uxn.SWP:
		c.opSWP()
	case uxn.ROT:
		c.opROT()
	case uxn.DUP:
		c.opDUP()
	case uxn.OVR:
		c.opOVR()
	case uxn.EQU:
		c.compareOp(x86.ASETEQ)
	case uxn.NEQ:
		c.compareOp(x86.ASETNE)
	case uxn.GTH:
		c.compareOp(x86.ASETHI)
	case uxn.LTH:
		c.compareOp(x86.ASETCS)
	case uxn.JMP:
		c.opJMP()
	case uxn.JCN:
		c.opJCN()
	case uxn.JSR:
		c.opJSR()
	case uxn.STH:
		c.opSTH()
	case uxn.LDZ:
		c.opLDZ()
	case uxn.STZ:
		c.opSTZ()
	case uxn.LDR:
		c.opLDR()
	case uxn.STR:
		c.opSTR()
	case uxn.LDA:
		c.opLDA()
	case uxn.STA:
		c.opSTA()
	case uxn.DEI:
		c.opDEI()
	case uxn.DEO:
		c.opDEO()
	case uxn.ADD:
		c.binaryOp(x86.AADDQ, func(a, b uint16) uint16 { return a + b })
	case uxn.SUB:
		c.binaryOp(x86.ASUBQ, func(a, b uint16) uint16 { return a - b })
	case uxn.MUL:
		c.binaryOp(x86.AIMULQ, func(a, b uint16) uint16 { return a * b })
	case uxn.DIV:
		c.opDIV()
	case uxn.AND:
		c.binaryOp(x86.AANDQ, func(a, b uint16) uint16 { return a & b })
	case uxn.ORA:
		c.binaryOp(x86.AORQ, func(a, b uint16) uint16 { return a | b })
	case uxn.EOR:
		c.binaryOp(x86.AXORQ, func(a, b uint16) uint16 { return a ^ b })
	case uxn.SFT:
		c.opSFT()
	}
}

// maskWidth truncates the register to the operand's guest width. Keeps
// register contents canonical so cached operands compare and divide the way
// the guest would.
func (c *blockCompiler) maskWidth(op operand) {
	if op.short {
		c.ri(x86.AANDQ, 0xffff, op.reg)
	} else {
		c.ri(x86.AANDQ, 0xff, op.reg)
	}
}

func (c *blockCompiler) opBRK() {
	c.flushStacks()
	c.exitConst(0)
	c.done = true
}

func (c *blockCompiler) opINC() {
	op := c.pop()
	op.sem &^= semBoolean
	if op.sem&semConst != 0 {
		op.konst++
		if !op.short {
			op.konst &= 0xff
		}
	}

	c.ri(x86.AADDQ, 1, op.reg)
	c.maskWidth(op)

	c.push(op)
}

func (c *blockCompiler) opPOP() {
	if c.flagK() { // POPk is a nop
		return
	}

	size := int64(1)
	if c.flag2() {
		size = 2
	}
	if c.flagR() {
		c.flushStack(&c.rstTop)
		c.rsp -= uint8(size)
		c.ri(x86.ASUBQ, size, regRsp)
	} else {
		c.flushStack(&c.wstTop)
		c.wsp -= uint8(size)
		c.ri(x86.ASUBQ, size, regWsp)
	}
}

func (c *blockCompiler) opNIP() {
	b := c.pop()
	c.opPOP()
	c.push(b)
}

func (c *blockCompiler) opSWP() {
	b := c.pop()
	a := c.pop()
	c.push(b)
	c.push(a)
}

func (c *blockCompiler) opROT() {
	x := c.pop()
	b := c.pop()
	a := c.pop()
	c.push(b)
	c.push(x)
	c.push(a)
}

func (c *blockCompiler) opDUP() {
	a := c.pop()
	c.push(a)
	c.push(a)
}

func (c *blockCompiler) opOVR() {
	b := c.pop()
	a := c.pop()
	c.push(a)
	c.push(b)
	c.push(a)
}

// compareOp pops two operands and pushes a 0/1 flag tagged boolean, which
// lets later jumps take the skip-next-opcode form.
func (c *blockCompiler) compareOp(set obj.As) {
	b := c.pop()
	a := c.pop()

	res := operand{
		sem: semBoolean,
		reg: c.regs.alloc(),
	}
	c.cmpRR(a.reg, b.reg)
	c.setcc(set, res.reg)

	c.regs.free(a.reg)
	c.regs.free(b.reg)
	c.push(res)
}

func (c *blockCompiler) opJMP() {
	target := c.pop()
	if c.jump(target, 0) {
		c.done = true
	}
}

func (c *blockCompiler) opJCN() {
	target := c.pop()
	cond := c.popEx(false, c.flagR())
	c.conditionalJump(cond, target)
}

func (c *blockCompiler) opJSR() {
	target := c.pop()

	pcOp := operand{short: true, reg: c.regs.alloc()}
	c.ri(x86.AMOVQ, int64(c.pc), pcOp.reg)
	c.pushEx(pcOp, !c.flagR())

	c.jump(target, c.pc)
}

func (c *blockCompiler) opSTH() {
	a := c.pop()
	c.pushEx(a, !c.flagR())
}

func (c *blockCompiler) opLDZ() {
	addr := c.popEx(false, c.flagR())
	val := c.loadOp(c.regs.alloc(), addr)
	c.push(val)
}

func (c *blockCompiler) opSTZ() {
	addr := c.popEx(false, c.flagR())
	val := c.pop()
	c.storeOp(addr, val)
}

func (c *blockCompiler) opLDR() {
	addr := c.popEx(false, c.flagR())
	c.rr(x86.AMOVBQSX, addr.reg, addr.reg)
	c.ri(x86.AADDQ, int64(c.pc), addr.reg)
	addr.short = true
	val := c.loadOp(c.regs.alloc(), addr)
	c.push(val)
}

func (c *blockCompiler) opSTR() {
	addr := c.popEx(false, c.flagR())
	val := c.pop()
	c.rr(x86.AMOVBQSX, addr.reg, addr.reg)
	c.ri(x86.AADDQ, int64(c.pc), addr.reg)
	addr.short = true
	c.storeOp(addr, val)
}

func (c *blockCompiler) opLDA() {
	addr := c.popEx(true, c.flagR())
	val := c.loadOp(c.regs.alloc(), addr)
	c.push(val)
}

func (c *blockCompiler) opSTA() {
	addr := c.popEx(true, c.flagR())
	val := c.pop()
	c.storeOp(addr, val)
}

// deviceExit stages the resume thunk address, returns a device exit word to
// the executor, then emits the thunk itself. Code emitted after this
// continues at the point the thunk re-enters.
func (c *blockCompiler) deviceExit(status ExitStatus) {
	c.memBase = memBaseInvalid

	rs := &resumeSite{mov: c.movPatchableImm(regTmp)}
	c.store(x86.AMOVQ, regTmp, regVM, offJITResume)
	c.exitConst(uint64(exitWord(status)))

	// Host-callable resume thunk, same shape as the block prologue: the
	// handler may have rewritten the stack pointers, so they are reloaded.
	rs.thunk = c.label()
	c.rr(x86.AMOVQ, x86.REG_AX, regVM)
	c.loadState()
	call := c.branch(obj.ACALL)
	c.saveState()
	c.ret()

	c.setTarget(call, c.label())
	c.resumes = append(c.resumes, rs)
}

func (c *blockCompiler) opDEI() {
	addr := c.popEx(false, c.flagR())
	result := operand{short: c.flag2(), reg: c.regs.alloc()}

	c.flushStacks()
	c.saveState()
	c.store(x86.AMOVL, addr.reg, regVM, offDevAddr)
	c.regs.free(addr.reg)

	status := ExitDEI
	if result.short {
		status = ExitDEI2
	}
	c.deviceExit(status)

	c.load(x86.AMOVL, regVM, offDevValue, result.reg)
	c.push(result)
}

func (c *blockCompiler) opDEO() {
	addr := c.popEx(false, c.flagR())
	val := c.pop()

	// The written bytes land in device memory natively; the handler only
	// learns the address.
	c.setMemBase(offDevice)
	if val.short {
		c.rr(x86.AMOVBLZX, addr.reg, regMemOffset)
		c.rr(x86.AMOVQ, val.reg, regTmp)
		c.ri(x86.ASHRQ, 8, regTmp)
		c.storeIdx(x86.AMOVB, regTmp)

		c.ri(x86.AADDQ, 1, regMemOffset)
		c.ri(x86.AANDQ, 0xff, regMemOffset)
		c.storeIdx(x86.AMOVB, val.reg)
	} else {
		c.rr(x86.AMOVBLZX, addr.reg, regMemOffset)
		c.storeIdx(x86.AMOVB, val.reg)
	}
	c.regs.free(val.reg)

	c.flushStacks()
	c.saveState()
	c.store(x86.AMOVL, addr.reg, regVM, offDevAddr)
	c.regs.free(addr.reg)

	status := ExitDEO
	if val.short {
		status = ExitDEO2
	}
	c.deviceExit(status)
}

// binaryOp handles the two-operand arithmetic and logic opcodes, folding
// the result when both inputs are statically known.
func (c *blockCompiler) binaryOp(as obj.As, fold func(a, b uint16) uint16) {
	b := c.pop()
	a := c.pop()

	res := operand{
		short: b.short,
		reg:   c.regs.alloc(),
	}
	if a.sem&semConst != 0 && b.sem&semConst != 0 {
		res.sem = semConst
		res.konst = fold(a.konst, b.konst)
		if !res.short {
			res.konst &= 0xff
		}
	}

	c.rr(x86.AMOVQ, a.reg, res.reg)
	c.rr(as, b.reg, res.reg)
	c.maskWidth(res)

	c.regs.free(a.reg)
	c.regs.free(b.reg)
	c.push(res)
}

func (c *blockCompiler) opDIV() {
	b := c.pop()
	a := c.pop()

	res := operand{
		short: b.short,
		reg:   c.regs.alloc(),
	}
	if a.sem&semConst != 0 && b.sem&semConst != 0 {
		res.sem = semConst
		if b.konst != 0 {
			res.konst = a.konst / b.konst
		}
	}

	// Uxn defines division by zero as zero.
	c.cmpRI(b.reg, 0)
	jz := c.branch(x86.AJEQ)

	c.rr(x86.AMOVQ, a.reg, x86.REG_AX)
	c.rr(x86.AXORQ, x86.REG_DX, x86.REG_DX)
	c.opReg(x86.ADIVQ, b.reg)
	c.rr(x86.AMOVQ, x86.REG_AX, res.reg)
	end := c.branch(obj.AJMP)

	c.setTarget(jz, c.label())
	c.ri(x86.AMOVQ, 0, res.reg)
	c.setTarget(end, c.label())

	c.regs.free(a.reg)
	c.regs.free(b.reg)
	c.push(res)
}

func (c *blockCompiler) opSFT() {
	b := c.popEx(false, c.flagR())
	a := c.pop()

	res := operand{
		short: a.short,
		reg:   c.regs.alloc(),
	}
	if a.sem&semConst != 0 && b.sem&semConst != 0 {
		res.sem = semConst
		res.konst = (a.konst >> (b.konst & 0x0f)) << ((b.konst & 0xf0) >> 4)
		if !res.short {
			res.konst &= 0xff
		}
	}

	c.rr(x86.AMOVQ, b.reg, x86.REG_CX)
	c.ri(x86.AANDQ, 0x0f, x86.REG_CX)
	c.rr(x86.AMOVQ, a.reg, res.reg)
	c.rr(x86.ASHRQ, x86.REG_CX, res.reg)

	c.rr(x86.AMOVQ, b.reg, x86.REG_CX)
	c.ri(x86.ASHRQ, 4, x86.REG_CX)
	c.rr(x86.ASHLQ, x86.REG_CX, res.reg)
	c.maskWidth(res)

	c.regs.free(a.reg)
	c.regs.free(b.reg)
	c.push(res)
}

func (c *blockCompiler) opJCI() {
	cond := c.popEx(false, false)
	target := c.immediateJumpTarget()
	c.conditionalJump(cond, target)
}

func (c *blockCompiler) opJMI() {
	target := c.immediateJumpTarget()
	c.jump(target, 0)
	c.done = true
}

func (c *blockCompiler) opJSI() {
	target := c.immediateJumpTarget()

	pcOp := operand{short: true, reg: c.regs.alloc()}
	c.ri(x86.AMOVQ, int64(c.pc), pcOp.reg)
	c.pushEx(pcOp, true)

	c.jump(target, c.pc)
}

func (c *blockCompiler) opLIT() {
	lit := c.immediate(c.flag2())
	c.push(lit)
}
