// Copyright 2024 The go-uxn Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devices

import (
	"time"

	"github.com/go-uxn/uxnjit/uxn"
)

// Datetime implements the wall-clock device at page 0xc0. Now is swappable
// for tests.
type Datetime struct {
	Now func() time.Time
}

func (d *Datetime) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dei handles datetime device reads.
func (d *Datetime) Dei(vm *uxn.VM, addr byte) byte {
	t := d.now()
	switch addr & 0x0f {
	case 0x00:
		return byte(t.Year() >> 8)
	case 0x01:
		return byte(t.Year())
	case 0x02:
		return byte(t.Month() - 1)
	case 0x03:
		return byte(t.Day())
	case 0x04:
		return byte(t.Hour())
	case 0x05:
		return byte(t.Minute())
	case 0x06:
		return byte(t.Second())
	case 0x07:
		return byte(t.Weekday())
	case 0x08:
		return byte(t.YearDay() >> 8)
	case 0x09:
		return byte(t.YearDay())
	case 0x0a:
		if t.IsDST() {
			return 1
		}
		return 0
	default:
		return vm.Device[addr]
	}
}

// Deo handles datetime device writes; the device is read-only.
func (d *Datetime) Deo(vm *uxn.VM, addr byte) {}
