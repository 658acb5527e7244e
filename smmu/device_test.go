// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

// fakeDevice is a plain-memory stand-in for the SMMUv3 register frame,
// used throughout this package's tests to drive bring-up, the command
// and event queues, and the DMA-mapping facade deterministically,
// without real hardware (spec.md §1's external Device collaborator
// exists precisely to make this possible).
type fakeDevice struct {
	page0 map[uint32]uint32
	page1 map[uint32]uint32
	wide  map[uint32]uint64

	// autoDrainCmdq, when true, makes a CMDQ_PROD write immediately
	// mirror into CMDQ_CONS, simulating a hardware engine that drains
	// the command queue instantly. Tests of back-pressure behaviour
	// set this false and drive CMDQ_CONS manually.
	autoDrainCmdq bool

	dsbCount int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		page0:         make(map[uint32]uint32),
		page1:         make(map[uint32]uint32),
		wide:          make(map[uint32]uint64),
		autoDrainCmdq: true,
	}
}

func (f *fakeDevice) Read32(off uint32) uint32 {
	if off == regCR0ACK {
		return f.page0[regCR0]
	}

	return f.page0[off]
}

func (f *fakeDevice) Write32(off uint32, val uint32) {
	f.page0[off] = val

	switch off {
	case regGBPA:
		// Hardware completes the global-bypass-attribute update
		// instantly in the fake, clearing UPDATE but preserving
		// whatever ABORT state was requested.
		f.page0[off] = val &^ gbpaUpdate
	case regCmdqProd:
		if f.autoDrainCmdq {
			f.page0[regCmdqCons] = val
		}
	}
}

func (f *fakeDevice) Read64(off uint32) uint64 {
	return f.wide[off]
}

func (f *fakeDevice) Write64(off uint32, val uint64) {
	f.wide[off] = val
}

func (f *fakeDevice) Read32P1(off uint32) uint32 {
	return f.page1[off]
}

func (f *fakeDevice) Write32P1(off uint32, val uint32) {
	f.page1[off] = val
}

func (f *fakeDevice) Poll32(off uint32, mask uint32, expected uint32) bool {
	return f.Read32(off)&mask == expected
}

func (f *fakeDevice) DSB() {
	f.dsbCount++
}
