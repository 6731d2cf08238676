// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uxn defines the guest virtual machine the JIT engine targets:
// the VM memory image, the opcode encoding, and a reference interpreter.
package uxn

// ResetVector is the address execution starts at after a reset. Everything
// below it is the zero page, where the engine defers to the interpreter.
const ResetVector = 0x0100

// Opcode mode bits. The low five bits select the base operation; the
// top three modify it.
const (
	ModeShort  = 0x20 // operands are 16-bit
	ModeReturn = 0x40 // operate on the return stack
	ModeKeep   = 0x80 // pop without moving the stack pointer
)

// Base opcodes (low five bits).
const (
	BRK = 0x00
	INC = 0x01
	POP = 0x02
	NIP = 0x03
	SWP = 0x04
	ROT = 0x05
	DUP = 0x06
	OVR = 0x07
	EQU = 0x08
	NEQ = 0x09
	GTH = 0x0a
	LTH = 0x0b
	JMP = 0x0c
	JCN = 0x0d
	JSR = 0x0e
	STH = 0x0f
	LDZ = 0x10
	STZ = 0x11
	LDR = 0x12
	STR = 0x13
	LDA = 0x14
	STA = 0x15
	DEI = 0x16
	DEO = 0x17
	ADD = 0x18
	SUB = 0x19
	MUL = 0x1a
	DIV = 0x1b
	AND = 0x1c
	ORA = 0x1d
	EOR = 0x1e
	SFT = 0x1f
)

// Special encodings where the mode bits are not modifiers.
const (
	JCI   = 0x20
	JMI   = 0x40
	JSI   = 0x60
	LIT   = 0x80
	LIT2  = 0xa0
	LITr  = 0xc0
	LIT2r = 0xe0
)

var baseNames = [32]string{
	"BRK", "INC", "POP", "NIP", "SWP", "ROT", "DUP", "OVR",
	"EQU", "NEQ", "GTH", "LTH", "JMP", "JCN", "JSR", "STH",
	"LDZ", "STZ", "LDR", "STR", "LDA", "STA", "DEI", "DEO",
	"ADD", "SUB", "MUL", "DIV", "AND", "ORA", "EOR", "SFT",
}

// IsImmediate reports whether op is one of the encodings that carry an
// immediate operand in the instruction stream and ignore the keep bit.
func IsImmediate(op byte) bool {
	switch op {
	case JCI, JMI, JSI, LIT, LIT2, LITr, LIT2r:
		return true
	}
	return false
}

// ShortMode reports whether the opcode operates on 16-bit values.
func ShortMode(op byte) bool { return op&ModeShort != 0 }

// ReturnMode reports whether the opcode operates on the return stack.
func ReturnMode(op byte) bool { return op&ModeReturn != 0 }

// KeepMode reports whether the opcode is non-destructive. The keep bit is
// part of the encoding for the immediate opcodes and must be ignored there.
func KeepMode(op byte) bool {
	return op&ModeKeep != 0 && !IsImmediate(op)
}

// OpString returns the mnemonic for an opcode byte, with mode suffixes in
// the conventional order (2, k, r).
func OpString(op byte) string {
	switch op {
	case BRK:
		return "BRK"
	case JCI:
		return "JCI"
	case JMI:
		return "JMI"
	case JSI:
		return "JSI"
	case LIT:
		return "LIT"
	case LIT2:
		return "LIT2"
	case LITr:
		return "LITr"
	case LIT2r:
		return "LIT2r"
	}
	name := baseNames[op&0x1f]
	if op&ModeShort != 0 {
		name += "2"
	}
	if op&ModeKeep != 0 {
		name += "k"
	}
	if op&ModeReturn != 0 {
		name += "r"
	}
	return name
}

// OpByte returns the opcode byte for a base mnemonic, or false if the name
// is not a plain opcode. Mode suffixes are handled by the assembler.
func OpByte(name string) (byte, bool) {
	for i, n := range baseNames {
		if n == name {
			return byte(i), true
		}
	}
	return 0, false
}
