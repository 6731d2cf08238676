// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command uxn-dump disassembles a Uxn ROM to stdout.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-uxn/uxnjit/dbg"
	"github.com/go-uxn/uxnjit/uxn"
)

func main() {
	log.SetPrefix("uxn-dump: ")
	log.SetFlags(0)

	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: uxn-dump <rom>")
		os.Exit(1)
	}

	if err := dump(os.Stdout, flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func dump(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rom, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	labels, err := dbg.LoadSymFile(path + ".sym")
	if err != nil {
		labels = &dbg.LabelMap{}
	}

	pc := uint16(uxn.ResetVector)
	for i := 0; i < len(rom); {
		op := rom[i]
		if entry := labels.PCToLabel(pc); entry != nil && entry.Addr == pc {
			fmt.Fprintf(w, "@%s\n", entry.Name)
		}

		size := 1
		switch op {
		case uxn.JCI, uxn.JMI, uxn.JSI, uxn.LIT2, uxn.LIT2r:
			size = 3
		case uxn.LIT, uxn.LITr:
			size = 2
		}
		if i+size > len(rom) {
			size = len(rom) - i
		}

		fmt.Fprintf(w, "0x%04x\t", pc)
		for j := 0; j < size; j++ {
			fmt.Fprintf(w, "%02x ", rom[i+j])
		}
		fmt.Fprintf(w, "\t%s", uxn.OpString(op))
		switch {
		case size == 3:
			fmt.Fprintf(w, " %02x%02x", rom[i+1], rom[i+2])
		case size == 2:
			fmt.Fprintf(w, " %02x", rom[i+1])
		}
		fmt.Fprintln(w)

		i += size
		pc += uint16(size)
	}
	return nil
}
