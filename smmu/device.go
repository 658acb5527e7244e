// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import (
	"time"

	"github.com/usbarmory/smmuv3/internal/reg"
)

// pollAttempts and pollInterval are the hard-coded bounded-poll parameters
// used throughout bring-up, teardown, and the queue engine (spec §4.1,
// §5). A real deployment might want these configurable; today they are
// not (see DESIGN.md).
const (
	pollAttempts = 10
	pollInterval = 10 * time.Microsecond
)

// Device is the memory-mapped I/O read/write and bounded-polling
// primitive the hard core consumes as an external collaborator. The real
// SMMUv3 register frame is reached through mmioDevice (backed by
// internal/reg); tests substitute a fake backed by plain Go memory so
// that command/event queue behaviour can be driven deterministically
// without real hardware.
type Device interface {
	// Read32 and Write32 access a 32-bit register at byte offset off
	// from the device's page-0 base.
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)

	// Read64 and Write64 access a 64-bit register at byte offset off
	// from the device's page-0 base.
	Read64(off uint32) uint64
	Write64(off uint32, val uint64)

	// Read32P1 and Write32P1 access a 32-bit register at byte offset
	// off from the device's page-1 base (base+0x10000), used for
	// EVENTQ_PROD/EVENTQ_CONS.
	Read32P1(off uint32) uint32
	Write32P1(off uint32, val uint32)

	// Poll32 samples a 32-bit page-0 register up to pollAttempts times,
	// pollInterval apart, until (value & mask) == expected. It reports
	// whether the condition was observed.
	Poll32(off uint32, mask uint32, expected uint32) bool

	// DSB issues a data-synchronisation barrier.
	DSB()
}

const page1Offset = 0x10000

// mmioDevice is the real Device implementation: a physical SMMUv3
// register frame reached through internal/reg at a fixed base address.
type mmioDevice struct {
	base uint64
}

// NewDevice wraps the SMMUv3 register frame located at the given
// physical base address.
func NewDevice(base uint64) Device {
	return &mmioDevice{base: base}
}

func (d *mmioDevice) Read32(off uint32) uint32 {
	return reg.Read(d.base + uint64(off))
}

func (d *mmioDevice) Write32(off uint32, val uint32) {
	reg.Write(d.base+uint64(off), val)
}

func (d *mmioDevice) Read64(off uint32) uint64 {
	return reg.Read64(d.base + uint64(off))
}

func (d *mmioDevice) Write64(off uint32, val uint64) {
	reg.Write64(d.base+uint64(off), val)
}

func (d *mmioDevice) Read32P1(off uint32) uint32 {
	return reg.Read(d.base + page1Offset + uint64(off))
}

func (d *mmioDevice) Write32P1(off uint32, val uint32) {
	reg.Write(d.base+page1Offset+uint64(off), val)
}

func (d *mmioDevice) Poll32(off uint32, mask uint32, expected uint32) bool {
	return reg.Poll(d.base+uint64(off), 0, int(mask), expected, pollAttempts, pollInterval)
}

func (d *mmioDevice) DSB() {
	dsb()
}
