// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uxn

// The reference interpreter. The engine delegates to it for zero-page
// execution and when a block fails to compile; tests use it as the semantic
// oracle the JIT must agree with.

// Step executes the single opcode at pc and returns the address of the next
// opcode, or 0 if the opcode was BRK.
func (vm *VM) Step(pc uint16) uint16 {
	op := vm.Memory[pc]
	pc++

	switch op {
	case BRK:
		return 0
	case JCI:
		target := vm.immTarget(&pc)
		if vm.popWS() != 0 {
			return target
		}
		return pc
	case JMI:
		return vm.immTarget(&pc)
	case JSI:
		target := vm.immTarget(&pc)
		vm.pushRS(byte(pc >> 8))
		vm.pushRS(byte(pc))
		return target
	case LIT, LITr:
		vm.push(op&ModeReturn != 0, vm.Memory[pc])
		return pc + 1
	case LIT2, LIT2r:
		r := op&ModeReturn != 0
		vm.push(r, vm.Memory[pc])
		vm.push(r, vm.Memory[pc+1])
		return pc + 2
	}

	short := op&ModeShort != 0
	ret := op&ModeReturn != 0
	keep := op&ModeKeep != 0

	sp := vm.stackPtr(ret)
	shadow := *sp
	pop := func() uint16 {
		st := vm.stack(ret)
		if short {
			shadow -= 2
			return uint16(st[shadow])<<8 | uint16(st[shadow+1])
		}
		shadow--
		return uint16(st[shadow])
	}
	pop8 := func() byte {
		shadow--
		return vm.stack(ret)[shadow]
	}
	commit := func() {
		if !keep {
			*sp = shadow
		}
	}
	push := func(v uint16) {
		if short {
			vm.push(ret, byte(v>>8))
		}
		vm.push(ret, byte(v))
	}
	pushOther := func(v uint16, wide bool) {
		if wide {
			vm.push(!ret, byte(v>>8))
		}
		vm.push(!ret, byte(v))
	}

	switch op & 0x1f {
	case INC:
		a := pop()
		commit()
		push(a + 1)
	case POP:
		pop()
		commit()
	case NIP:
		b := pop()
		pop()
		commit()
		push(b)
	case SWP:
		b, a := pop(), pop()
		commit()
		push(b)
		push(a)
	case ROT:
		c, b, a := pop(), pop(), pop()
		commit()
		push(b)
		push(c)
		push(a)
	case DUP:
		a := pop()
		commit()
		push(a)
		push(a)
	case OVR:
		b, a := pop(), pop()
		commit()
		push(a)
		push(b)
		push(a)
	case EQU:
		b, a := pop(), pop()
		commit()
		vm.push(ret, flag(a == b))
	case NEQ:
		b, a := pop(), pop()
		commit()
		vm.push(ret, flag(a != b))
	case GTH:
		b, a := pop(), pop()
		commit()
		vm.push(ret, flag(a > b))
	case LTH:
		b, a := pop(), pop()
		commit()
		vm.push(ret, flag(a < b))
	case JMP:
		target := pop()
		commit()
		return vm.jumpTarget(pc, target, short)
	case JCN:
		target := pop()
		cond := pop8()
		commit()
		if cond != 0 {
			return vm.jumpTarget(pc, target, short)
		}
		return pc
	case JSR:
		target := pop()
		commit()
		pushOther(pc, true)
		return vm.jumpTarget(pc, target, short)
	case STH:
		a := pop()
		commit()
		pushOther(a, short)
	case LDZ:
		addr := pop8()
		commit()
		vm.loadPush(uint16(addr), short, ret, 0x00ff)
	case STZ:
		addr := pop8()
		v := pop()
		commit()
		vm.store(uint16(addr), v, short, 0x00ff)
	case LDR:
		addr := pc + uint16(int16(int8(pop8())))
		commit()
		vm.loadPush(addr, short, ret, 0xffff)
	case STR:
		addr := pc + uint16(int16(int8(pop8())))
		v := pop()
		commit()
		vm.store(addr, v, short, 0xffff)
	case LDA:
		st := vm.stack(ret)
		shadow -= 2
		addr := uint16(st[shadow])<<8 | uint16(st[shadow+1])
		commit()
		vm.loadPush(addr, short, ret, 0xffff)
	case STA:
		st := vm.stack(ret)
		shadow -= 2
		addr := uint16(st[shadow])<<8 | uint16(st[shadow+1])
		v := pop()
		commit()
		vm.store(addr, v, short, 0xffff)
	case DEI:
		d := pop8()
		commit()
		if short {
			hi := vm.Dei(d)
			lo := vm.Dei(d + 1)
			vm.push(ret, hi)
			vm.push(ret, lo)
		} else {
			vm.push(ret, vm.Dei(d))
		}
	case DEO:
		d := pop8()
		v := pop()
		commit()
		if short {
			vm.Device[d] = byte(v >> 8)
			vm.Device[d+1] = byte(v)
			vm.Deo(d)
			vm.Deo(d + 1)
		} else {
			vm.Device[d] = byte(v)
			vm.Deo(d)
		}
	case ADD:
		b, a := pop(), pop()
		commit()
		push(a + b)
	case SUB:
		b, a := pop(), pop()
		commit()
		push(a - b)
	case MUL:
		b, a := pop(), pop()
		commit()
		push(a * b)
	case DIV:
		b, a := pop(), pop()
		commit()
		if b == 0 {
			push(0)
		} else {
			push(a / b)
		}
	case AND:
		b, a := pop(), pop()
		commit()
		push(a & b)
	case ORA:
		b, a := pop(), pop()
		commit()
		push(a | b)
	case EOR:
		b, a := pop(), pop()
		commit()
		push(a ^ b)
	case SFT:
		b := pop8()
		a := pop()
		commit()
		push((a >> (b & 0x0f)) << ((b & 0xf0) >> 4))
	}

	return pc
}

// Run interprets from pc until the program halts.
func (vm *VM) Run(pc uint16) {
	for pc != 0 {
		pc = vm.Step(pc)
	}
}

func (vm *VM) stack(ret bool) *[256]byte {
	if ret {
		return &vm.RS
	}
	return &vm.WS
}

func (vm *VM) stackPtr(ret bool) *byte {
	if ret {
		return &vm.Rsp
	}
	return &vm.Wsp
}

func (vm *VM) push(ret bool, v byte) {
	sp := vm.stackPtr(ret)
	vm.stack(ret)[*sp] = v
	*sp++
}

func (vm *VM) pushRS(v byte) { vm.push(true, v) }

func (vm *VM) popWS() byte {
	vm.Wsp--
	return vm.WS[vm.Wsp]
}

// immTarget reads the two immediate bytes at *pc, advances past them, and
// returns the relative jump target.
func (vm *VM) immTarget(pc *uint16) uint16 {
	off := vm.Mem2(*pc)
	*pc += 2
	return *pc + off
}

func (vm *VM) jumpTarget(pc, target uint16, short bool) uint16 {
	if short {
		return target
	}
	return pc + uint16(int16(int8(target)))
}

func (vm *VM) loadPush(addr uint16, short, ret bool, wrap uint16) {
	vm.push(ret, vm.Memory[addr])
	if short {
		vm.push(ret, vm.Memory[(addr+1)&wrap])
	}
}

func (vm *VM) store(addr, v uint16, short bool, wrap uint16) {
	if short {
		vm.Memory[addr] = byte(v >> 8)
		vm.Memory[(addr+1)&wrap] = byte(v)
	} else {
		vm.Memory[addr] = byte(v)
	}
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
