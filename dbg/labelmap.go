// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dbg contains consumers for the engine's debug-info hook: a label
// map for symbolizing guest addresses, a perf map writer, and a GDB
// JIT-interface style registry.
package dbg

import (
	"bytes"
	"fmt"
	"os"
)

// LabelEntry names one guest address.
type LabelEntry struct {
	Addr uint16
	Name string
}

// LabelMap is an ordered set of guest labels, usually loaded from the .sym
// file an assembler writes next to the ROM.
type LabelMap struct {
	Entries []LabelEntry
}

// PCToLabel finds the closest non-anonymous label at or before pc, skipping
// the zero page. Returns nil if nothing precedes pc.
func (m *LabelMap) PCToLabel(pc uint16) *LabelEntry {
	if m == nil {
		return nil
	}
	var closest *LabelEntry
	for i := range m.Entries {
		entry := &m.Entries[i]
		if entry.Addr <= 0x00ff {
			continue
		}
		if len(entry.Name) == 0 || entry.Name[0] == '@' {
			continue
		}
		if entry.Addr > pc {
			continue
		}
		if closest == nil || entry.Addr > closest.Addr {
			closest = entry
		}
	}
	return closest
}

// ParseSymFile decodes the flat symbol format written next to ROMs:
// repeated records of a big-endian address followed by a NUL-terminated
// name.
func ParseSymFile(data []byte) (*LabelMap, error) {
	m := &LabelMap{}
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, fmt.Errorf("dbg: truncated symbol record")
		}
		addr := uint16(data[0])<<8 | uint16(data[1])
		data = data[2:]
		end := bytes.IndexByte(data, 0)
		if end < 0 {
			return nil, fmt.Errorf("dbg: unterminated symbol name at 0x%04x", addr)
		}
		m.Entries = append(m.Entries, LabelEntry{Addr: addr, Name: string(data[:end])})
		data = data[end+1:]
	}
	return m, nil
}

// LoadSymFile reads a symbol file from disk. A missing file is not an
// error; it returns an empty map.
func LoadSymFile(path string) (*LabelMap, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &LabelMap{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseSymFile(data)
}

// symbolize renders a guest address the way the tooling expects:
// "0x0100@label" for an exact hit, "0x0123~label" for an offset into one.
func (m *LabelMap) symbolize(pc uint16) string {
	entry := m.PCToLabel(pc)
	if entry == nil {
		return fmt.Sprintf("0x%04x@?", pc)
	}
	sep := "~"
	if entry.Addr == pc {
		sep = "@"
	}
	return fmt.Sprintf("0x%04x%s%s", pc, sep, entry.Name)
}
