// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import "github.com/usbarmory/smmuv3/bits"

// Page-0 register byte offsets (spec.md §6).
const (
	regIDR0 = 0x00
	regIDR1 = 0x04
	regIDR2 = 0x08
	regIDR3 = 0x0C
	regIDR4 = 0x10
	regIDR5 = 0x14

	regCR0    = 0x20
	regCR0ACK = 0x24
	regCR1    = 0x28
	regCR2    = 0x2C

	regGBPA = 0x44

	regIRQCtrl    = 0x50
	regIRQCtrlAck = 0x54

	regGERROR = 0x60

	regStrtabBase    = 0x80 // 64-bit
	regStrtabBaseCfg = 0x88
	regCmdqBase      = 0x90 // 64-bit
	regCmdqProd      = 0x98
	regCmdqCons      = 0x9C
	regEventqBase    = 0xA0 // 64-bit
)

// Page-1 register byte offsets (base + 0x10000).
const (
	regEventqProd = 0xA8
	regEventqCons = 0xAC
)

// Per-register valid (RMW-owned) masks: a read-modify-write only ever
// touches these bits, leaving every reserved bit exactly as hardware left
// it (spec.md §4.2, §6).
const (
	cr0ValidMask     = 0x5F
	cr1ValidMask     = 0x3F
	cr2ValidMask     = 0x7
	gerrorValidMask  = 0x1FD
	irqCtrlValidMask = 0x7
)

// CR0 field bit positions.
const (
	cr0SMMUEN   = 0
	cr0PRIQEN   = 1
	cr0EVENTQEN = 2
	cr0CMDQEN   = 3
	cr0ATSCHK   = 4
)

// CR1 fields: 2-bit shareability/cacheability codes for queue walks.
const (
	cr1QueueSh = 0 // width 2
	cr1QueueOc = 2 // width 2
	cr1QueueIc = 4 // width 2

	shNonShareable = 0b00
	shOuter        = 0b10
	shInner        = 0b11

	cacheNonCacheable = 0b00
	cacheWBWA         = 0b01
)

// CR2 field bit positions.
const (
	cr2E2H        = 0
	cr2RecInvSid  = 1
	cr2PTM        = 2
)

// IRQ_CTRL field bit positions.
const (
	irqGError  = 0
	irqEventq  = 1
	irqPriq    = 2
)

// GBPA field bit positions (spec.md §6).
const (
	gbpaAbort  = 1 << 20
	gbpaUpdate = 1 << 31
)

// IDR0 field bit positions. Modeled after the architecture's published
// layout; this driver only ever reads these fields to decide template
// construction (spec.md §4.5), it never writes IDR0.
const (
	idr0S2P    = 0
	idr0S1P    = 1
	idr0BTM    = 5
	idr0OASPos = 6 // width 3
	idr0OASMask = 0x7
	idr0ATS    = 10
)

// IDR1 fields.
const (
	idr1EventQsPos  = 16
	idr1EventQsMask = 0x1F
	idr1CmdQsPos    = 21
	idr1CmdQsMask   = 0x1F
	idr1AttrTypesOvr = 27
)

// bitSet and fieldGet wrap the bits package's pointer-based primitives
// for the register snapshots this package decodes, which are plain
// local values rather than addresses this driver owns.
func bitSet(v uint32, pos int) bool {
	return bits.Get(&v, pos, 1) == 1
}

func fieldGet(v uint32, pos int, mask uint32) uint32 {
	return bits.Get(&v, pos, int(mask))
}
