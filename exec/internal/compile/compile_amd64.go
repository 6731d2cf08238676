// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package compile

import (
	"encoding/binary"
	"unsafe"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/go-uxn/uxnjit/uxn"
)

// Guest struct offsets baked into emitted code.
var vmLayout uxn.VM

var (
	offWS        = int64(unsafe.Offsetof(vmLayout.WS))
	offRS        = int64(unsafe.Offsetof(vmLayout.RS))
	offDevice    = int64(unsafe.Offsetof(vmLayout.Device))
	offWsp       = int64(unsafe.Offsetof(vmLayout.Wsp))
	offRsp       = int64(unsafe.Offsetof(vmLayout.Rsp))
	offJITResume = int64(unsafe.Offsetof(vmLayout.JITResume))
	offDevAddr   = int64(unsafe.Offsetof(vmLayout.DevAddr))
	offDevValue  = int64(unsafe.Offsetof(vmLayout.DevValue))
	offMemory    = int64(unsafe.Offsetof(vmLayout.Memory))
)

// memBaseInvalid marks the cached memory base register as holding nothing.
// Zero is a valid field offset, so an impossible value is used instead.
const memBaseInvalid = -1

// patchSite is one rewritable jump: a MOVQ $imm64 whose immediate initially
// routes to the in-block fallback stub and is later patched by the linker to
// a target block entry.
type patchSite struct {
	mov       *obj.Prog
	stub      *obj.Prog
	immOffset uintptr
}

// resumeSite is a device call-out continuation: a host-callable thunk
// re-entering the block just past the call-out.
type resumeSite struct {
	mov   *obj.Prog
	thunk *obj.Prog
}

// blockCompiler carries all state for compiling one basic block. It lives
// from the compile queue to the cleanup queue of a single wavefront.
type blockCompiler struct {
	jit     *JIT
	block   *Block
	b       *asm.Builder
	hookCtx HookCtx

	entry  uint16
	pc     uint16
	opcode byte

	memBase int64

	// Abstract stacks: constness inference only, never emitted to. The
	// shadow pointers take over for keep-mode opcodes.
	wst, rst             [256]value
	wsp, rsp             uint8
	shadowWsp, shadowRsp uint8
	ewsp, ersp           *uint8

	wspReg, rspReg int16
	regs           regAllocator

	// Deferred pushes, one per stack.
	wstTop, rstTop operand

	head, body *obj.Prog
	patches    []*patchSite
	resumes    []*resumeSite

	codeBase uintptr
	done     bool
	err      error
}

func newBlockCompiler(j *JIT, blk *Block) *blockCompiler {
	b, err := asm.NewBuilder("amd64", 256)
	if err != nil {
		return nil
	}
	c := &blockCompiler{jit: j, block: blk, b: b, memBase: memBaseInvalid}
	c.hookCtx.c = c
	return c
}

func (c *blockCompiler) release() {
	c.b = nil
}

// compile translates the block starting at pc and publishes the result.
// On failure the block's fn stays zero and the executor falls back to the
// interpreter.
func (c *blockCompiler) compile(pc uint16) {
	c.entry = pc
	c.pc = pc
	c.hookBegin()
	if PrintDebugInfo {
		logger.Printf("compile block 0x%04x", pc)
	}

	// Host-callable prologue. Entered as a Go function value: the VM
	// pointer arrives in AX and the exit word is returned in AX. Load the
	// stack pointers, call into the fast entry, then write the state back.
	c.rr(x86.AMOVQ, x86.REG_AX, regVM)
	c.loadState()
	call := c.branch(obj.ACALL)
	c.saveState()
	c.ret()

	c.head = c.label()
	c.setTarget(call, c.head)
	c.body = c.label()

	for !c.done && c.err == nil {
		c.nextOpcode()
	}
	if c.err == nil {
		c.finalize()
	}
}

func (c *blockCompiler) nextOpcode() {
	if c.pc < uxn.ResetVector {
		// Fell through into the zero page: the interpreter takes over.
		c.flushStacks()
		c.exitConst(uint64(c.pc))
		c.done = true
		return
	}

	c.regs.reset()
	// Retain the cached top operands so nothing reallocates their
	// registers mid-opcode.
	if c.wstTop.reg != 0 {
		c.regs.pin(c.wstTop.reg)
	}
	if c.rstTop.reg != 0 {
		c.regs.pin(c.rstTop.reg)
	}

	c.opcode = c.jit.vm.Memory[c.pc]
	c.hookOpcode(c.pc, c.opcode)
	if PrintDebugInfo {
		logger.Printf("  0x%04x %s", c.pc, uxn.OpString(c.opcode))
	}
	c.pc++

	if c.flagK() {
		// Keep mode pops against shadow stack pointers so the real ones
		// never move. The guest stacks must be consistent first.
		if c.wstTop.reg != 0 {
			reg := c.wstTop.reg
			c.flushStack(&c.wstTop)
			c.regs.free(reg)
		}
		if c.rstTop.reg != 0 {
			reg := c.rstTop.reg
			c.flushStack(&c.rstTop)
			c.regs.free(reg)
		}

		c.shadowWsp, c.shadowRsp = c.wsp, c.rsp
		c.ewsp, c.ersp = &c.shadowWsp, &c.shadowRsp

		swsp := c.regs.alloc()
		srsp := c.regs.alloc()
		c.rr(x86.AMOVBLZX, regWsp, swsp)
		c.rr(x86.AMOVBLZX, regRsp, srsp)
		c.wspReg, c.rspReg = swsp, srsp
	} else {
		c.ewsp, c.ersp = &c.wsp, &c.rsp
		c.wspReg, c.rspReg = regWsp, regRsp
	}

	c.dispatch()
}

func (c *blockCompiler) flag2() bool { return c.opcode&uxn.ModeShort != 0 }
func (c *blockCompiler) flagR() bool { return c.opcode&uxn.ModeReturn != 0 }
func (c *blockCompiler) flagK() bool { return uxn.KeepMode(c.opcode) }

func stackOffset(flagR bool) int64 {
	if flagR {
		return offRS
	}
	return offWS
}

func (c *blockCompiler) setMemBase(off int64) {
	if c.memBase != off {
		c.lea(regVM, off, regMemBase)
		c.memBase = off
	}
}

func (c *blockCompiler) loadState() {
	c.load(x86.AMOVBLZX, regVM, offWsp, regWsp)
	c.load(x86.AMOVBLZX, regVM, offRsp, regRsp)
}

func (c *blockCompiler) saveState() {
	c.store(x86.AMOVB, regWsp, regVM, offWsp)
	c.store(x86.AMOVB, regRsp, regVM, offRsp)
}

// doPush materializes a pending push: byte stores plus stack pointer
// increments. Pushes always move the real stack pointer, keep mode or not.
func (c *blockCompiler) doPush(op operand, flagR bool) {
	c.setMemBase(stackOffset(flagR))
	spReg := int16(regWsp)
	if flagR {
		spReg = regRsp
	}

	if op.short {
		c.rr(x86.AMOVBLZX, spReg, regMemOffset)
		c.rr(x86.AMOVQ, op.reg, regTmp)
		c.ri(x86.ASHRQ, 8, regTmp)
		c.storeIdx(x86.AMOVB, regTmp)
		c.ri(x86.AADDQ, 1, spReg)

		c.rr(x86.AMOVBLZX, spReg, regMemOffset)
		c.storeIdx(x86.AMOVB, op.reg)
		c.ri(x86.AADDQ, 1, spReg)
	} else {
		c.rr(x86.AMOVBLZX, spReg, regMemOffset)
		c.storeIdx(x86.AMOVB, op.reg)
		c.ri(x86.AADDQ, 1, spReg)
	}
}

func (c *blockCompiler) flushStack(top *operand) {
	if top.reg != 0 {
		c.doPush(*top, top == &c.rstTop)
		top.reg = 0
	}
}

func (c *blockCompiler) flushStacks() {
	c.flushStack(&c.wstTop)
	c.flushStack(&c.rstTop)
}

// pushEx defers the push: the operand becomes the stack's cached top and
// only the abstract stack is updated now.
func (c *blockCompiler) pushEx(op operand, flagR bool) {
	if !c.regs.pinned(op.reg) {
		panic("compile: pushing operand with unused register")
	}

	deferred := &c.wstTop
	if flagR {
		deferred = &c.rstTop
	}
	if deferred.reg != 0 {
		c.flushStack(deferred)
	}
	*deferred = op

	stack := &c.wst
	sp := &c.wsp
	if flagR {
		stack = &c.rst
		sp = &c.rsp
	}
	if op.short {
		hi := &stack[*sp]
		*sp++
		lo := &stack[*sp]
		*sp++
		hi.sem = op.sem
		lo.sem = op.sem
		hi.konst = byte(op.konst >> 8)
		lo.konst = byte(op.konst)
	} else {
		v := &stack[*sp]
		*sp++
		v.sem = op.sem
		v.konst = byte(op.konst)
	}
}

// popEx pops an operand, serving it from the cached top when the width
// matches and emitting loads otherwise. The pop respects the shadow stack
// pointer of keep-mode opcodes.
func (c *blockCompiler) popEx(flag2, flagR bool) operand {
	stack := &c.wst
	sp := c.ewsp
	cached := &c.wstTop
	spReg := c.wspReg
	if flagR {
		stack = &c.rst
		sp = c.ersp
		cached = &c.rstTop
		spReg = c.rspReg
	}

	if cached.reg != 0 && !c.regs.pinned(cached.reg) {
		panic("compile: cached operand register is not reserved")
	}

	op := operand{short: flag2}

	if flag2 {
		*sp--
		lo := stack[*sp]
		*sp--
		hi := stack[*sp]
		if hi.sem&semConst != 0 && lo.sem&semConst != 0 {
			op.sem = semConst
			op.konst = uint16(hi.konst)<<8 | uint16(lo.konst)
		}

		if cached.reg != 0 && cached.short {
			op = *cached
		} else {
			c.flushStack(cached)

			op.reg = c.regs.alloc()
			c.setMemBase(stackOffset(flagR))

			c.ri(x86.ASUBQ, 1, spReg)
			c.rr(x86.AMOVBLZX, spReg, regMemOffset)
			c.loadIdx(x86.AMOVBLZX, op.reg)

			c.ri(x86.ASUBQ, 1, spReg)
			c.rr(x86.AMOVBLZX, spReg, regMemOffset)
			c.loadIdx(x86.AMOVBLZX, regTmp)
			c.ri(x86.ASHLQ, 8, regTmp)
			c.rr(x86.AORQ, regTmp, op.reg)
		}
	} else {
		*sp--
		v := stack[*sp]
		op.sem = v.sem
		op.konst = uint16(v.konst)

		if cached.reg != 0 && !cached.short {
			op = *cached
		} else {
			c.flushStack(cached)

			op.reg = c.regs.alloc()
			c.setMemBase(stackOffset(flagR))

			c.ri(x86.ASUBQ, 1, spReg)
			c.rr(x86.AMOVBLZX, spReg, regMemOffset)
			c.loadIdx(x86.AMOVBLZX, op.reg)
		}
	}

	cached.reg = 0
	return op
}

func (c *blockCompiler) push(op operand) {
	c.pushEx(op, c.flagR())
}

func (c *blockCompiler) pop() operand {
	return c.popEx(c.flag2(), c.flagR())
}

// loadOp reads guest memory at the operand address into reg. Short loads
// wrap the second byte inside the zero page for byte addresses and modulo
// 64K otherwise.
func (c *blockCompiler) loadOp(reg int16, addr operand) operand {
	result := operand{short: c.flag2(), reg: reg}

	c.setMemBase(offMemory)
	c.rr(x86.AMOVWLZX, addr.reg, regMemOffset)
	c.loadIdx(x86.AMOVBLZX, result.reg)

	if result.short {
		c.ri(x86.ASHLQ, 8, result.reg)

		c.ri(x86.AADDQ, 1, regMemOffset)
		c.ri(x86.AANDQ, addrWrap(addr), regMemOffset)
		c.loadIdx(x86.AMOVBLZX, regTmp)
		c.rr(x86.AORQ, regTmp, result.reg)
	}

	c.regs.free(addr.reg)
	return result
}

// storeOp writes the value operand to guest memory at the operand address.
func (c *blockCompiler) storeOp(addr, val operand) {
	c.setMemBase(offMemory)

	if val.short {
		c.rr(x86.AMOVWLZX, addr.reg, regMemOffset)
		c.rr(x86.AMOVQ, val.reg, regTmp)
		c.ri(x86.ASHRQ, 8, regTmp)
		c.storeIdx(x86.AMOVB, regTmp)

		c.ri(x86.AADDQ, 1, regMemOffset)
		c.ri(x86.AANDQ, addrWrap(addr), regMemOffset)
		c.storeIdx(x86.AMOVB, val.reg)
	} else {
		c.rr(x86.AMOVWLZX, addr.reg, regMemOffset)
		c.storeIdx(x86.AMOVB, val.reg)
	}

	c.regs.free(addr.reg)
	c.regs.free(val.reg)
}

func addrWrap(addr operand) int64 {
	if addr.short {
		return 0xffff
	}
	return 0x00ff
}

// exitConst returns the given exit word to the host.
func (c *blockCompiler) exitConst(word uint64) {
	c.ri(x86.AMOVQ, int64(word), x86.REG_AX)
	c.ret()
}

// exitReg returns the register's value as the next guest PC.
func (c *blockCompiler) exitReg(reg int16) {
	c.rr(x86.AMOVQ, reg, x86.REG_AX)
	c.ret()
}

// immediate reads operand bytes from the instruction stream. The value is
// assumed constant even though ROM can be overwritten; jump opcodes recheck
// the assumption, so the full runtime fetch is emitted as well.
func (c *blockCompiler) immediate(isShort bool) operand {
	imm := operand{
		sem:   semConst,
		short: isShort,
		reg:   c.regs.alloc(),
	}

	c.setMemBase(offMemory)
	if isShort {
		hi := c.jit.vm.Memory[c.pc]
		lo := c.jit.vm.Memory[c.pc+1]
		imm.konst = uint16(hi)<<8 | uint16(lo)

		if c.pc < 0xffff { // no wrap-around
			c.ri(x86.AMOVQ, int64(c.pc), regMemOffset)
			c.loadIdx(x86.AMOVWLZX, imm.reg)
			c.ri(x86.AROLW, 8, imm.reg)
		} else {
			c.ri(x86.AMOVQ, int64(c.pc), regMemOffset)
			c.loadIdx(x86.AMOVBLZX, imm.reg)
			c.ri(x86.ASHLQ, 8, imm.reg)

			c.ri(x86.AMOVQ, int64(c.pc+1), regMemOffset)
			c.loadIdx(x86.AMOVBLZX, regTmp)
			c.rr(x86.AORQ, regTmp, imm.reg)
		}
		c.pc += 2
	} else {
		imm.konst = uint16(c.jit.vm.Memory[c.pc])

		c.ri(x86.AMOVQ, int64(c.pc), regMemOffset)
		c.loadIdx(x86.AMOVBLZX, imm.reg)
		c.pc++
	}

	return imm
}

// immediateJumpTarget reads a two-byte signed displacement and turns it
// into an absolute PC, both statically and in the emitted code.
func (c *blockCompiler) immediateJumpTarget() operand {
	target := c.immediate(true)

	target.konst += c.pc

	c.ri(x86.AADDQ, int64(c.pc), target.reg)
	c.ri(x86.AANDQ, 0xffff, target.reg)

	return target
}

// jumpAbs transfers control to a full 16-bit target. A constant target gets
// a guarded rewritable direct link; everything else bounces to the
// executor. returnAddr is non-zero for calls, which link through the head
// entry and verify the PC that comes back.
func (c *blockCompiler) jumpAbs(target operand, returnAddr uint16) {
	// Zero-page targets belong to the interpreter; never link into them.
	if target.sem&semConst != 0 && target.konst >= uxn.ResetVector {
		if returnAddr == 0 {
			// Recheck the assumed constant before taking the direct jump.
			c.cmpRI(target.reg, int64(target.konst))
			jne := c.branch(x86.AJNE)

			site := &patchSite{mov: c.movPatchableImm(regTmp)}
			c.jmpReg(regTmp)

			// Unlinked, the site routes here and bounces.
			site.stub = c.label()
			c.setTarget(jne, site.stub)
			c.patches = append(c.patches, site)
			c.jit.queueLink(c, site, c.jit.queueBlock(target.konst), LinkToBody)
		} else {
			c.cmpRI(target.reg, int64(target.konst))
			jneSkip := c.branch(x86.AJNE)

			// The callee is compiled by a different context; every cached
			// assumption dies across the call.
			c.memBase = memBaseInvalid
			site := &patchSite{mov: c.movPatchableImm(regTmp)}
			c.callReg(regTmp)

			// Unexpected return PC (or a device exit word unwinding
			// through us): bounce it out unchanged.
			c.cmpRI(x86.REG_AX, int64(returnAddr))
			jeCont := c.branch(x86.AJEQ)
			c.ret()

			// Fallback stub while unlinked: pretend the call happened and
			// report the target as the next PC.
			site.stub = c.label()
			c.ri(x86.AMOVQ, int64(target.konst), x86.REG_AX)
			c.ret()

			c.setTarget(jneSkip, c.label())
			c.patches = append(c.patches, site)
			c.jit.queueLink(c, site, c.jit.queueBlock(target.konst), LinkToHead)

			// Guard failure: bounce with the runtime target, then resume
			// compilation at the post-call continuation.
			c.exitReg(target.reg)
			c.setTarget(jeCont, c.label())
			return
		}
	}

	// Return to trampoline. Always correct but slow.
	c.exitReg(target.reg)
}

// jump handles both jump flavors. It reports whether every emitted path
// left the block, i.e. whether the caller may finalize.
func (c *blockCompiler) jump(target operand, returnAddr uint16) bool {
	c.flushStacks()

	switch {
	case target.short:
		c.jumpAbs(target, returnAddr)
		c.regs.free(target.reg)
		return returnAddr == 0

	case target.sem&semBoolean != 0:
		// A 0/1 flag used as a relative jump skips the next opcode.
		// Compile that opcode inline instead of a real branch.
		c.cmpRI(target.reg, 0)
		c.regs.free(target.reg)
		jne := c.branch(x86.AJNE)

		c.nextOpcode()
		if !c.done {
			// The skipped path rejoins here: nothing emitted by the inlined
			// opcode may stay live in registers, and the cached memory base
			// differs between the two paths.
			c.flushStacks()
		}
		c.memBase = memBaseInvalid

		c.setTarget(jne, c.label())
		if c.done {
			// The inlined opcode ended the block; give the skip path its
			// own exit. A one-byte skip lands right past the inlined
			// opcode.
			c.exitConst(uint64(c.pc))
			return true
		}
		return false

	default:
		c.rr(x86.AMOVBQSX, target.reg, target.reg)
		c.ri(x86.AADDQ, int64(c.pc), target.reg)
		target.konst = uint16(int32(c.pc) + int32(int8(target.konst)))
		c.jumpAbs(target, returnAddr)
		c.regs.free(target.reg)
		return returnAddr == 0
	}
}

// conditionalJump tests the low byte of the condition and takes the jump on
// non-zero. Compilation always continues past the skip label.
func (c *blockCompiler) conditionalJump(cond, target operand) {
	c.flushStacks()

	c.rr(x86.AMOVQ, cond.reg, regTmp)
	c.ri(x86.AANDQ, 0xff, regTmp)
	c.regs.free(cond.reg)
	jz := c.branch(x86.AJEQ)

	pcAfter := c.pc
	c.jump(target, 0)

	c.setTarget(jz, c.label())
	if c.done {
		// A boolean target inlined a terminating opcode inside the taken
		// path; the fall-through still needs somewhere to go.
		c.exitConst(uint64(pcAfter))
	}
}

// finalize assembles the block, places it in executable memory, resolves
// labels and stub immediates, and publishes the function pointer.
func (c *blockCompiler) finalize() {
	code := c.b.Assemble()
	if len(code) == 0 {
		c.err = errEmptyAssembly
		return
	}

	seg, consumed, err := c.jit.alloc.AllocateExec(code)
	if err != nil {
		c.err = err
		return
	}

	base := uintptr(unsafe.Pointer(&seg[0]))
	c.codeBase = base

	blk := c.block
	blk.code = seg
	blk.NativeSize = len(code)
	c.jit.stats.CodeSize += consumed

	for _, site := range c.patches {
		site.immOffset = uintptr(site.mov.Pc) + movImm64Skip
		binary.LittleEndian.PutUint64(
			seg[site.immOffset:],
			uint64(base+uintptr(site.stub.Pc)),
		)
	}
	for _, rs := range c.resumes {
		binary.LittleEndian.PutUint64(
			seg[uintptr(rs.mov.Pc)+movImm64Skip:],
			uint64(base+uintptr(rs.thunk.Pc)),
		)
	}

	blk.HeadAddr = base + uintptr(c.head.Pc)
	blk.BodyAddr = base + uintptr(c.body.Pc)
	blk.ExecutableOffset = 0

	c.hookEnd(base, len(code))

	// Published last: lookups treat a non-zero fn as fully registered.
	blk.fn = base
}

func (c *blockCompiler) entryPC() uint16 {
	return c.entry
}

func (c *blockCompiler) markAddr() *AddrMark {
	return &AddrMark{prog: c.label()}
}

func (c *blockCompiler) resolveMark(mark *AddrMark) uintptr {
	if c.codeBase == 0 || mark == nil {
		return 0
	}
	return c.codeBase + uintptr(mark.prog.Pc)
}

func (c *blockCompiler) hookBegin() {
	if c.jit.hook != nil {
		c.jit.hook.BeginBlock(&c.hookCtx)
	}
}

func (c *blockCompiler) hookOpcode(pc uint16, opcode byte) {
	if c.jit.hook != nil {
		c.jit.hook.JitOpcode(&c.hookCtx, pc, opcode)
	}
}

func (c *blockCompiler) hookEnd(start uintptr, size int) {
	if c.jit.hook != nil {
		c.jit.hook.EndBlock(&c.hookCtx, start, size)
	}
}
