// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command uxn-run executes a Uxn ROM under the JIT engine. Remaining
// arguments after the ROM path are forwarded to the guest as console
// arguments; the process exit code is the guest's system exit code.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-uxn/uxnjit/dbg"
	"github.com/go-uxn/uxnjit/devices"
	"github.com/go-uxn/uxnjit/exec"
	"github.com/go-uxn/uxnjit/uxn"
)

func main() {
	log.SetPrefix("uxn-run: ")
	log.SetFlags(0)

	verbose := flag.Bool("v", false, "enable/disable compilation traces")
	perfMap := flag.Bool("perf-map", false, "write a perf map for compiled blocks")
	noJIT := flag.Bool("no-jit", false, "run everything on the interpreter")

	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: uxn-run [flags] <rom> [args...]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	exec.SetDebugMode(*verbose)

	os.Exit(run(flag.Arg(0), flag.Args()[1:], *perfMap, *noJIT))
}

func run(romPath string, args []string, perfMap, noJIT bool) int {
	system := &devices.System{DebugWriter: os.Stderr}
	console := &devices.Console{Out: os.Stdout, Err: os.Stderr, Args: args}

	mux := &devices.Mux{}
	mux.Register(0x0, system)
	mux.Register(0x1, console)
	mux.Register(0xc, &devices.Datetime{})

	vm := uxn.New(mux)
	if _, err := vm.LoadROMFile(romPath); err != nil {
		log.Fatalf("could not load rom: %v", err)
	}

	cfg := &exec.Config{NoJIT: noJIT}
	if perfMap {
		labels, err := dbg.LoadSymFile(romPath + ".sym")
		if err != nil {
			log.Printf("could not load symbols: %v", err)
			labels = &dbg.LabelMap{}
		}
		hook, err := dbg.NewPerfHook(labels)
		if err != nil {
			log.Fatalf("could not create perf map: %v", err)
		}
		defer hook.Close()
		cfg.Hook = hook
	}

	engine := exec.NewEngine(vm, cfg)
	defer engine.Cleanup()

	engine.Execute(uxn.ResetVector)

	if code := system.ExitCode(); code > 0 {
		printStats(engine)
		return code
	}

	console.SendArgs(vm, engine)

	reader := bufio.NewReader(os.Stdin)
	for system.ExitCode() < 0 && console.ShouldSendInput(vm) {
		ch, err := reader.ReadByte()
		if err == io.EOF {
			console.SendInputEnd(vm, engine)
			break
		}
		if err != nil {
			log.Printf("stdin: %v", err)
			break
		}
		console.SendInput(vm, engine, ch)
	}

	printStats(engine)

	if code := system.ExitCode(); code > 0 {
		return code
	}
	return 0
}

func printStats(engine *exec.Engine) {
	stats := engine.Stats()
	fmt.Fprintf(os.Stderr, "Num blocks: %d\n", stats.NumBlocks)
	fmt.Fprintf(os.Stderr, "Num bounces: %d\n", stats.NumBounces)
	fmt.Fprintf(os.Stderr, "Code size: %d\n", stats.CodeSize)
}
