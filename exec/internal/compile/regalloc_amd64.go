// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Register assignment:
//  - R12 - VM base pointer (saved across block calls)
//  - R13 - working stack pointer (saved)
//  - R15 - return stack pointer (saved)
//  - R10 - cached memory base (vm + field offset)
//  - R11 - memory offset for [base+offset] accesses
//  - CX  - scratch / patchable jump target / shift counts
//  - AX, DX - entry argument, exit values and division
// Operand registers, managed by the free-mask allocator:
//  - BX, SI, DI, R8, R9
// SP, BP and R14 (the goroutine pointer) are never touched: compiled code
// is entered through a plain Go function value and must leave them intact.

const (
	regVM  = x86.REG_R12
	regWsp = x86.REG_R13
	regRsp = x86.REG_R15

	regMemBase   = x86.REG_R10
	regMemOffset = x86.REG_R11
	regTmp       = x86.REG_CX
)

var operandRegs = [...]int16{x86.REG_BX, x86.REG_SI, x86.REG_DI, x86.REG_R8, x86.REG_R9}

// regAllocator hands out operand registers from a fixed bank via a
// free-mask. Misuse is a compiler bug, not a guest-triggerable condition,
// so it panics.
type regAllocator struct {
	used uint8
}

func regMask(reg int16) uint8 {
	for i, r := range operandRegs {
		if r == reg {
			return 1 << uint(i)
		}
	}
	panic("compile: not an operand register")
}

func (a *regAllocator) alloc() int16 {
	for i := range operandRegs {
		mask := uint8(1) << uint(i)
		if a.used&mask == 0 {
			a.used |= mask
			return operandRegs[i]
		}
	}
	panic("compile: out of operand registers")
}

func (a *regAllocator) free(reg int16) {
	mask := regMask(reg)
	if a.used&mask == 0 {
		panic("compile: freeing unused register")
	}
	a.used &^= mask
}

func (a *regAllocator) pin(reg int16) {
	a.used |= regMask(reg)
}

func (a *regAllocator) pinned(reg int16) bool {
	return a.used&regMask(reg) != 0
}

func (a *regAllocator) reset() {
	a.used = 0
}
