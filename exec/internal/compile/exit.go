// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

// ExitStatus describes why a compiled block handed control back to the
// executor. Native code returns a 64-bit exit word with the status in bits
// 32..39; for ExitPC the low 16 bits are the next guest PC (0 = halt), for
// the device statuses the parameters are staged in the VM's DevAddr field
// and the resume address in its JITResume field.
type ExitStatus uint8

const (
	// ExitPC is a normal exit: the low word is the next guest PC.
	ExitPC ExitStatus = iota
	// ExitDEI asks the executor to perform a byte device read.
	ExitDEI
	// ExitDEI2 asks for a short device read (two handler calls).
	ExitDEI2
	// ExitDEO notifies a byte device write already visible in vm.Device.
	ExitDEO
	// ExitDEO2 notifies a short device write.
	ExitDEO2
)

const exitStatusShift = 32

// DecodeExit splits an exit word into its status and PC payload.
func DecodeExit(word uint64) (ExitStatus, uint16) {
	return ExitStatus(word >> exitStatusShift), uint16(word)
}

func exitWord(status ExitStatus) int64 {
	return int64(status) << exitStatusShift
}
