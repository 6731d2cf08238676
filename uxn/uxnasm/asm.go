// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uxnasm assembles Uxntal source into ROM images. It covers the
// core of the language: padding, labels and sublabels, literal and address
// runes, immediate jumps and opcode mnemonics with mode suffixes. Test
// fixtures and the dump tool are its main consumers.
package uxnasm

import (
	"fmt"
	"strings"

	"github.com/go-uxn/uxnjit/uxn"
)

// Symbol is one resolved label, in definition order.
type Symbol struct {
	Addr uint16
	Name string
}

// Program is an assembled ROM plus its symbols.
type Program struct {
	// Code is the image starting at the reset vector.
	Code []byte
	// Symbols lists every label with an absolute address.
	Symbols []Symbol
}

// Error is an assembly error with source position.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("uxnasm: %d:%d: %s", e.Line, e.Col, e.Msg)
}

type token struct {
	text      string
	line, col int
}

type ref struct {
	name  string
	rune  byte
	addr  uint16
	scope string
	tok   token
}

type assembler struct {
	rom    [0x10000]byte
	pos    uint16
	max    uint16
	labels map[string]uint16
	order  []string
	refs   []ref
	scope  string
}

// Assemble builds a ROM from Uxntal source.
func Assemble(src string) (*Program, error) {
	a := &assembler{
		pos:    uxn.ResetVector,
		labels: map[string]uint16{},
	}
	if err := a.run(tokenize(src)); err != nil {
		return nil, err
	}
	if err := a.resolve(); err != nil {
		return nil, err
	}

	p := &Program{}
	if a.max > uxn.ResetVector {
		p.Code = append(p.Code, a.rom[uxn.ResetVector:a.max]...)
	}
	for _, name := range a.order {
		p.Symbols = append(p.Symbols, Symbol{Addr: a.labels[name], Name: name})
	}
	return p, nil
}

func tokenize(src string) []token {
	var toks []token
	line, col := 1, 1
	start, startCol := -1, 0
	for i, r := range src {
		switch r {
		case ' ', '\t', '\n', '\r':
			if start >= 0 {
				toks = append(toks, token{text: src[start:i], line: line, col: startCol})
				start = -1
			}
			if r == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		default:
			if start < 0 {
				start = i
				startCol = col
			}
			col++
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: src[start:], line: line, col: startCol})
	}
	return toks
}

func errAt(tok token, format string, args ...interface{}) error {
	return &Error{Line: tok.line, Col: tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) run(toks []token) error {
	depth := 0
	for _, tok := range toks {
		text := tok.text

		// Comments are space-delimited and nest.
		if text == "(" {
			depth++
			continue
		}
		if depth > 0 {
			if text == ")" {
				depth--
			}
			continue
		}

		if err := a.token(tok); err != nil {
			return err
		}
	}
	if depth != 0 {
		return &Error{Line: 0, Col: 0, Msg: "unterminated comment"}
	}
	return nil
}

func (a *assembler) token(tok token) error {
	text := tok.text
	switch text[0] {
	case '|':
		v, err := parseHex(text[1:], 4)
		if err != nil {
			return errAt(tok, "bad absolute padding %q", text)
		}
		a.pos = uint16(v)
		return nil
	case '$':
		v, err := parseHex(text[1:], 4)
		if err != nil {
			return errAt(tok, "bad relative padding %q", text)
		}
		a.pos += uint16(v)
		return nil
	case '@':
		name := text[1:]
		if name == "" {
			return errAt(tok, "empty label")
		}
		a.scope = name
		return a.define(tok, name)
	case '&':
		if a.scope == "" {
			return errAt(tok, "sublabel %q outside of a label", text)
		}
		return a.define(tok, a.scope+"/"+text[1:])
	case '#':
		switch len(text) {
		case 3:
			v, err := parseHex(text[1:], 2)
			if err != nil {
				return errAt(tok, "bad literal %q", text)
			}
			a.write(uxn.LIT)
			a.write(byte(v))
		case 5:
			v, err := parseHex(text[1:], 4)
			if err != nil {
				return errAt(tok, "bad literal %q", text)
			}
			a.write(uxn.LIT2)
			a.write(byte(v >> 8))
			a.write(byte(v))
		default:
			return errAt(tok, "bad literal %q", text)
		}
		return nil
	case '"':
		for i := 1; i < len(text); i++ {
			a.write(text[i])
		}
		return nil
	case '.':
		a.write(uxn.LIT)
		a.makeRef(tok, '.', text[1:])
		a.write(0xff)
		return nil
	case ',':
		a.write(uxn.LIT)
		a.makeRef(tok, ',', text[1:])
		a.write(0xff)
		return nil
	case ';':
		a.write(uxn.LIT2)
		a.makeRef(tok, ';', text[1:])
		a.write(0xff)
		a.write(0xff)
		return nil
	case '=':
		a.makeRef(tok, '=', text[1:])
		a.write(0xff)
		a.write(0xff)
		return nil
	case '!':
		a.write(uxn.JMI)
		a.makeRef(tok, '!', text[1:])
		a.write(0xff)
		a.write(0xff)
		return nil
	case '?':
		a.write(uxn.JCI)
		a.makeRef(tok, '?', text[1:])
		a.write(0xff)
		a.write(0xff)
		return nil
	}

	if op, ok := parseOpcode(text); ok {
		a.write(op)
		return nil
	}

	if v, err := parseHex(text, len(text)); err == nil {
		switch len(text) {
		case 2:
			a.write(byte(v))
			return nil
		case 4:
			a.write(byte(v >> 8))
			a.write(byte(v))
			return nil
		}
	}

	// Bare word: subroutine call.
	a.write(uxn.JSI)
	a.makeRef(tok, ' ', text)
	a.write(0xff)
	a.write(0xff)
	return nil
}

func (a *assembler) define(tok token, name string) error {
	if _, dup := a.labels[name]; dup {
		return errAt(tok, "duplicate label %q", name)
	}
	a.labels[name] = a.pos
	a.order = append(a.order, name)
	return nil
}

func (a *assembler) write(b byte) {
	a.rom[a.pos] = b
	a.pos++
	if a.pos > a.max {
		a.max = a.pos
	}
}

func (a *assembler) makeRef(tok token, kind byte, name string) {
	a.refs = append(a.refs, ref{name: name, rune: kind, addr: a.pos, scope: a.scope, tok: tok})
}

func (a *assembler) lookup(r ref) (uint16, bool) {
	name := r.name
	if strings.HasPrefix(name, "&") || strings.HasPrefix(name, "/") {
		name = r.scope + "/" + name[1:]
	}
	addr, ok := a.labels[name]
	return addr, ok
}

func (a *assembler) resolve() error {
	for _, r := range a.refs {
		target, ok := a.lookup(r)
		if !ok {
			return errAt(r.tok, "undefined reference %q", r.name)
		}
		switch r.rune {
		case '.':
			a.rom[r.addr] = byte(target)
		case ',':
			rel := int32(target) - int32(r.addr) - 2
			if rel < -128 || rel > 127 {
				return errAt(r.tok, "reference %q out of byte range", r.name)
			}
			a.rom[r.addr] = byte(rel)
		case ';', '=':
			a.rom[r.addr] = byte(target >> 8)
			a.rom[r.addr+1] = byte(target)
		default: // '!', '?', bare call
			rel := target - r.addr - 2
			a.rom[r.addr] = byte(rel >> 8)
			a.rom[r.addr+1] = byte(rel)
		}
	}
	return nil
}

func parseHex(s string, maxDigits int) (uint32, error) {
	if s == "" || len(s) > maxDigits {
		return 0, fmt.Errorf("bad hex %q", s)
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint32
		switch {
		case '0' <= c && c <= '9':
			d = uint32(c - '0')
		case 'a' <= c && c <= 'f':
			d = uint32(c-'a') + 10
		default:
			return 0, fmt.Errorf("bad hex %q", s)
		}
		v = v<<4 | d
	}
	return v, nil
}

func parseOpcode(text string) (byte, bool) {
	if len(text) < 3 {
		return 0, false
	}
	base := text[0:3]
	suffix := text[3:]

	var op byte
	switch base {
	case "LIT":
		op = uxn.LIT
	case "BRK":
		if suffix != "" {
			return 0, false
		}
		return uxn.BRK, true
	default:
		b, ok := uxn.OpByte(base)
		if !ok {
			return 0, false
		}
		op = b
	}

	for i := 0; i < len(suffix); i++ {
		switch suffix[i] {
		case '2':
			op |= uxn.ModeShort
		case 'k':
			op |= uxn.ModeKeep
		case 'r':
			op |= uxn.ModeReturn
		default:
			return 0, false
		}
	}
	return op, true
}
