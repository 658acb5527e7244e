// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import (
	"github.com/usbarmory/smmuv3/bits"
	"github.com/usbarmory/smmuv3/internal/reg"
)

// steSizeBytes is the fixed size of a single stream table slot: 8 x
// 64-bit words (spec.md §3).
const steSizeBytes = 64

// Stage selection for STE.Config: Stage 2 translates, Stage 1 is
// bypassed (spec.md §4.5). Stage-1 translation is explicitly out of
// scope.
const configStage2TranslateStage1Bypass = 0b110

// Absolute bit offsets within the 512-bit (8 x 64-bit word) STE record.
const (
	steValid  = 0
	steConfig = 1 // width 3

	steS2VMID = 64  // width 16
	steS2T0Sz = 96  // width 6
	steS2SL0  = 102 // width 2
	steS2IR0  = 104 // width 2
	steS2OR0  = 106 // width 2
	steS2SH0  = 108 // width 2
	steS2TG   = 110 // width 2
	steS2PS   = 112 // width 3
	steS2AA64 = 115 // width 1
	steS2RS   = 116 // width 2
	steS2PTW  = 118 // width 1

	steS2TTB = 128 // width 48, holds root-page-table-address >> 4

	steShCfg   = 256 // width 2
	steMemAttr = 258 // width 4
	steMtcfg   = 262 // width 1
)

// ShCfg encodings (spec.md §4.5: "use incoming" override).
const (
	shCfgNonShareable = 0b00
	shCfgUseIncoming  = 0b01
	shCfgOuter        = 0b10
	shCfgInner        = 0b11
)

// Cacheability/shareability encodings shared with CR1 (spec.md §4.5).
const (
	ir0Or0NonCacheable = 0b00
	ir0Or0WBWA         = 0b01

	sh0OuterShareable = 0b10
	sh0InnerShareable = 0b11
)

// StreamTableEntry is the 64-byte descriptor every stream table slot is
// filled with (spec.md §3). Every slot gets the same template entry;
// per-stream specialisation is a non-goal.
type StreamTableEntry struct {
	Valid bool

	Config uint64

	S2VMID uint64
	S2TG   uint64
	S2AA64 bool
	// S2TTB is the root page-table's physical address, NOT
	// pre-shifted; Encode applies the architectural >>4 shift.
	S2TTB  uint64
	S2PS   uint64
	S2SL0  uint64
	S2T0Sz uint64
	S2IR0  uint64
	S2OR0  uint64
	S2SH0  uint64
	S2RS   uint64
	S2Ptw  bool

	ShCfg   uint64
	Mtcfg   bool
	MemAttr uint64
}

// Encode packs the entry into its eight 64-bit words, ready to be
// written into a stream table slot.
func (s *StreamTableEntry) Encode() [8]uint64 {
	var words [8]uint64

	setBool(&words, steValid, s.Valid)
	setField(&words, steConfig, 3, s.Config)

	setField(&words, steS2VMID, 16, s.S2VMID)
	setField(&words, steS2T0Sz, 6, s.S2T0Sz)
	setField(&words, steS2SL0, 2, s.S2SL0)
	setField(&words, steS2IR0, 2, s.S2IR0)
	setField(&words, steS2OR0, 2, s.S2OR0)
	setField(&words, steS2SH0, 2, s.S2SH0)
	setField(&words, steS2TG, 2, s.S2TG)
	setField(&words, steS2PS, 3, s.S2PS)
	setBool(&words, steS2AA64, s.S2AA64)
	setField(&words, steS2RS, 2, s.S2RS)
	setBool(&words, steS2PTW, s.S2Ptw)

	setField(&words, steS2TTB, 48, s.S2TTB>>4)

	setField(&words, steShCfg, 2, s.ShCfg)
	setField(&words, steMemAttr, 4, s.MemAttr)
	setBool(&words, steMtcfg, s.Mtcfg)

	return words
}

// writeSlot writes the entry's eight words, in order, to the stream
// table slot at physical address addr. Each word is written with
// reg.Write64: STE memory is observed asynchronously by the SMMU's
// table walker, so every word is a volatile, single-copy-atomic store
// like any other hardware-visible state this driver produces.
func (s *StreamTableEntry) writeSlot(addr uint64) {
	words := s.Encode()

	for i, w := range words {
		reg.Write64(addr+uint64(i*8), w)
	}
}

// setField packs val into the STE's bit field at absolute bit offset
// abs, width wide; no STE field this driver writes crosses a 64-bit
// word boundary, so splitting abs into word/pos and delegating to
// bits.SetN64 for the single-word update is exact.
func setField(words *[8]uint64, abs int, width int, val uint64) {
	word := abs / 64
	pos := abs % 64
	mask := int(uint64(1)<<uint(width) - 1)

	bits.SetN64(&words[word], pos, mask, val)
}

func setBool(words *[8]uint64, abs int, val bool) {
	var v uint64

	if val {
		v = 1
	}

	setField(words, abs, 1, v)
}
