// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"io"
	"log"
	"os"
)

// PrintDebugInfo routes per-opcode compilation traces to stderr when true.
var PrintDebugInfo = false

var logger = log.New(io.Discard, "", 0)

// SetDebugMode enables or disables compilation traces.
func SetDebugMode(dbg bool) {
	w := io.Discard
	if dbg {
		w = os.Stderr
	}
	PrintDebugInfo = dbg
	logger = log.New(w, "jit: ", 0)
}
