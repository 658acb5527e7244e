// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import "sync"

// Smmu is the single driver instance (spec.md §3): it owns the page
// table, the stream table, and both queues, and is created once at
// entry and destroyed either on a bring-up failure path or on final
// teardown.
type Smmu struct {
	mu sync.Mutex

	dev   Device
	pages PageAllocator
	pool  PoolAllocator
	cfg   *SmmuConfig

	Root                   uint64
	StreamTableBase        uint64
	StreamTableLog2Entries uint

	CmdQ *Queue
	EvtQ *Queue

	// Trace, if set, receives verbose-level notices: re-mapping an
	// already-valid leaf (spec.md §4.3 edge case, §3.1 of
	// SPEC_FULL.md), and each event queue record drained after
	// Map/Unmap.
	Trace func(format string, args ...interface{})
}

// oasWidths maps the architecture's 3-bit output-address-size encoding
// to its decoded width in bits. 52-bit OAS is excluded by this driver's
// non-goals (spec.md §1).
var oasWidths = [6]int{32, 36, 40, 42, 44, 48}

func decodeOAS(code uint32) int {
	if int(code) < len(oasWidths) {
		return oasWidths[code]
	}

	return 48
}

func encodeOAS(width int) uint32 {
	for i, w := range oasWidths {
		if w == width {
			return uint32(i)
		}
	}

	return uint32(len(oasWidths) - 1)
}

// clampOAS enforces "min(OAS-decoded width, 48)" (spec.md §4.5).
func clampOAS(code uint32) uint32 {
	width := decodeOAS(code)

	if width > 48 {
		width = 48
	}

	return encodeOAS(width)
}

// buildSTETemplate derives the single template entry replicated into
// every stream table slot (spec.md §4.5 "STE template construction").
func buildSTETemplate(cfg *SmmuConfig, idr0, idr1 uint32, root uint64) *StreamTableEntry {
	s1p := bitSet(idr0, idr0S1P)
	s2p := bitSet(idr0, idr0S2P)
	attrTypesOvr := bitSet(idr1, idr1AttrTypesOvr)
	cohac := cfg.IORT.SmmuNode.COHACOverride

	oasCode := clampOAS(fieldGet(idr0, idr0OASPos, idr0OASMask))
	width := decodeOAS(oasCode)

	ste := &StreamTableEntry{
		Valid:  true,
		Config: configStage2TranslateStage1Bypass,
		S2TG:   0, // 4 KiB granule
		S2AA64: true,
		S2SL0:  2, // start at level 0
		S2TTB:  root,
		S2VMID: 1,
		S2PS:   uint64(oasCode),
		S2T0Sz: uint64(64 - width),
		S2RS:   1, // record faults
		S2Ptw:  s1p && s2p,
	}

	if cohac {
		ste.S2IR0 = ir0Or0WBWA
		ste.S2OR0 = ir0Or0WBWA
		ste.S2SH0 = sh0InnerShareable
	} else {
		ste.S2IR0 = ir0Or0NonCacheable
		ste.S2OR0 = ir0Or0NonCacheable
		ste.S2SH0 = sh0OuterShareable
	}

	if attrTypesOvr {
		ste.ShCfg = shCfgUseIncoming

		rc := cfg.IORT.RcNode
		if rc.CacheCoherent && rc.CoherentPathModifiable && !rc.DeviceAttributeCoherencySupported {
			ste.Mtcfg = true
			ste.MemAttr = 0xF // IWB-OWB: inner and outer write-back
			ste.ShCfg = shCfgInner
		}
	}

	return ste
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}

	p := uint64(1)

	for p < n {
		p <<= 1
	}

	return p
}

func log2(n uint64) uint {
	var l uint

	for n > 1 {
		n >>= 1
		l++
	}

	return l
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}

	return b
}

// Base register byte shifts/bit positions for STRTAB_BASE, CMDQ_BASE,
// and EVENTQ_BASE (spec.md §6).
const (
	strtabBaseAddrShift = 6
	strtabBaseRABit     = 62

	qBaseAddrShift = 5
	qBaseRABit     = 62
	qBaseWABit     = 61
)

// rmw32 performs the register-owned read-modify-write discipline of
// spec.md §4.2: only validMask's bits are ever touched, preserving every
// reserved bit.
func (s *Smmu) rmw32(off uint32, validMask uint32, newVal uint32) {
	v := s.dev.Read32(off)
	v = (v &^ validMask) | (newVal & validMask)
	s.dev.Write32(off, v)
}

func (s *Smmu) setCR0Bits(bits uint32) {
	cur := s.dev.Read32(regCR0) & cr0ValidMask
	s.rmw32(regCR0, cr0ValidMask, cur|bits)
}

func (s *Smmu) clearCR0Bits(bits uint32) {
	cur := s.dev.Read32(regCR0) & cr0ValidMask
	s.rmw32(regCR0, cr0ValidMask, cur&^bits)
}

// disableTranslation clears SMMU_EN/CMDQ_EN/EVENTQ_EN/PRIQ_EN and waits
// for CR0ACK to mirror the change (spec.md §4.5 step 1).
func (s *Smmu) disableTranslation() error {
	s.clearCR0Bits(1<<cr0SMMUEN | 1<<cr0CMDQEN | 1<<cr0EVENTQEN | 1<<cr0PRIQEN)

	expected := s.dev.Read32(regCR0) & cr0ValidMask

	if !s.dev.Poll32(regCR0ACK, cr0ValidMask, expected) {
		return newError(Timeout, "disableTranslation", nil)
	}

	return nil
}

// disableIRQs clears the bottom three bits of IRQ_CTRL (spec.md §4.5
// step 2).
func (s *Smmu) disableIRQs() {
	s.rmw32(regIRQCtrl, irqCtrlValidMask, 0)
}

// enableIRQs enables the global-error and event-queue interrupt sources
// (spec.md §4.5 step 8).
func (s *Smmu) enableIRQs() {
	s.rmw32(regIRQCtrl, irqCtrlValidMask, 1<<irqGError|1<<irqEventq)
}

func encodeCR1(cohac bool) uint32 {
	var ic, oc, sh uint32

	if cohac {
		ic, oc, sh = cacheWBWA, cacheWBWA, shInner
	}

	return ic<<cr1QueueIc | oc<<cr1QueueOc | sh<<cr1QueueSh
}

func encodeCR2(ptm bool) uint32 {
	v := uint32(1) << cr2RecInvSid

	if ptm {
		v |= 1 << cr2PTM
	}

	return v
}

// programBaseRegisters writes STRTAB_BASE_CFG/STRTAB_BASE, CMDQ_BASE,
// EVENTQ_BASE, and resets both queues' PROD/CONS (spec.md §4.5 step 7).
func (s *Smmu) programBaseRegisters() {
	cohac := s.cfg.IORT.SmmuNode.COHACOverride

	s.dev.Write32(regStrtabBaseCfg, uint32(s.StreamTableLog2Entries))

	strtabBaseVal := s.StreamTableBase << strtabBaseAddrShift
	if cohac {
		strtabBaseVal |= uint64(1) << strtabBaseRABit
	}

	s.dev.Write64(regStrtabBase, strtabBaseVal)

	cmdqBaseVal := s.CmdQ.Base<<qBaseAddrShift | uint64(s.CmdQ.Log2Size)
	evtqBaseVal := s.EvtQ.Base<<qBaseAddrShift | uint64(s.EvtQ.Log2Size)

	if cohac {
		cmdqBaseVal |= uint64(1)<<qBaseRABit | uint64(1)<<qBaseWABit
		evtqBaseVal |= uint64(1)<<qBaseRABit | uint64(1)<<qBaseWABit
	}

	s.dev.Write64(regCmdqBase, cmdqBaseVal)
	s.dev.Write64(regEventqBase, evtqBaseVal)

	s.dev.Write32(regCmdqProd, 0)
	s.dev.Write32(regCmdqCons, 0)
	s.dev.Write32P1(regEventqProd, 0)
	s.dev.Write32P1(regEventqCons, 0)
}

// Configure brings the SMMUv3 from reset to "enabled, Stage-2
// translate, Stage-1 bypass" (spec.md §4.5), rolling back to "disabled,
// global abort" on the first error.
func Configure(dev Device, pages PageAllocator, pool PoolAllocator, cfg *SmmuConfig, trace func(string, ...interface{})) (*Smmu, error) {
	s := &Smmu{dev: dev, pages: pages, pool: pool, cfg: cfg, Trace: trace}

	// 1. Disable translation.
	if err := s.disableTranslation(); err != nil {
		return nil, err
	}

	// 2. Disable IRQs.
	s.disableIRQs()

	idr0 := dev.Read32(regIDR0)
	idr1 := dev.Read32(regIDR1)

	// 3. Allocate the linear stream table.
	entries := nextPow2(uint64(cfg.IORT.RcNode.MaxStreamID) + 1)
	strtabSize := alignUp4K(entries * steSizeBytes)

	strtabBase, err := pool.Alloc(strtabSize, strtabSize)
	if err != nil {
		return nil, s.rollback(newError(OutOfResources, "Configure", err))
	}

	s.StreamTableBase = strtabBase
	s.StreamTableLog2Entries = log2(entries)

	// 4. Allocate the page-table root.
	root, err := pages.AllocPage()
	if err != nil {
		return nil, s.rollback(newError(OutOfResources, "Configure", err))
	}

	s.Root = root

	// 5. Build and replicate the template STE into every slot.
	template := buildSTETemplate(cfg, idr0, idr1, root)

	for i := uint64(0); i < entries; i++ {
		template.writeSlot(strtabBase + i*steSizeBytes)
	}

	// 6. Allocate command and event queues.
	cmdLog2 := minUint32(fieldGet(idr1, idr1CmdQsPos, idr1CmdQsMask), 8)
	evtLog2 := minUint32(fieldGet(idr1, idr1EventQsPos, idr1EventQsMask), 7)

	cmdQSize := (uint64(1) << cmdLog2) * cmdEntrySize

	cmdBase, err := pool.Alloc(cmdQSize, cmdQSize)
	if err != nil {
		return nil, s.rollback(newError(OutOfResources, "Configure", err))
	}

	s.CmdQ = NewCommandQueue(dev, cmdBase, uint(cmdLog2))

	evtQSize := (uint64(1) << evtLog2) * evtEntrySize

	evtBase, err := pool.Alloc(evtQSize, evtQSize)
	if err != nil {
		return nil, s.rollback(newError(OutOfResources, "Configure", err))
	}

	s.EvtQ = NewEventQueue(dev, evtBase, uint(evtLog2))

	// 7. Program base/config registers.
	s.programBaseRegisters()

	// 8. Enable IRQs.
	s.enableIRQs()

	// 9. Program CR1.
	s.rmw32(regCR1, cr1ValidMask, encodeCR1(cfg.IORT.SmmuNode.COHACOverride))

	// 10. Program CR2.
	ptm := !bitSet(idr0, idr0BTM)
	s.rmw32(regCR2, cr2ValidMask, encodeCR2(ptm))

	// 11. Enable CMDQ_EN and EVENTQ_EN.
	dev.DSB()
	s.setCR0Bits(1<<cr0CMDQEN | 1<<cr0EVENTQEN)

	if !dev.Poll32(regCR0ACK, 1<<cr0CMDQEN|1<<cr0EVENTQEN, 1<<cr0CMDQEN|1<<cr0EVENTQEN) {
		return nil, s.rollback(newError(Timeout, "Configure", nil))
	}

	// 12. Invalidate caches and synchronise.
	for _, cmd := range [][2]uint64{cfgiAllCommand(), tlbiNsNhAllCommand(), tlbiEl2AllCommand(), cmdSyncCommand()} {
		if err := s.CmdQ.SendCommand(cmd); err != nil {
			return nil, s.rollback(err)
		}
	}

	// 13. Enable SMMU_EN (and AtsChk, if supported).
	dev.DSB()

	enableBits := uint32(1) << cr0SMMUEN
	if bitSet(idr0, idr0ATS) {
		enableBits |= 1 << cr0ATSCHK
	}

	s.setCR0Bits(enableBits)

	if !dev.Poll32(regCR0ACK, 1<<cr0SMMUEN, 1<<cr0SMMUEN) {
		return nil, s.rollback(newError(Timeout, "Configure", nil))
	}

	// 14. Confirm no fatal device error latched during enable.
	dev.DSB()

	if dev.Read32(regGERROR) != 0 {
		return nil, s.rollback(newError(DeviceError, "Configure", nil))
	}

	return s, nil
}

func (s *Smmu) rollback(err error) error {
	s.Teardown()
	return err
}

// Teardown disables translation, drives the SMMU into global abort, and
// releases every resource this driver owns (spec.md §4.5).
func (s *Smmu) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disableTranslation()

	s.dev.Write32(regGBPA, gbpaAbort|gbpaUpdate)

	if !s.dev.Poll32(regGBPA, gbpaUpdate, 0) {
		return newError(Timeout, "Teardown", nil)
	}

	if s.dev.Read32(regGBPA)&gbpaAbort == 0 {
		return newError(DeviceError, "Teardown", nil)
	}

	if s.CmdQ != nil {
		s.pool.Free(s.CmdQ.Base)
		s.CmdQ = nil
	}

	if s.EvtQ != nil {
		s.pool.Free(s.EvtQ.Base)
		s.EvtQ = nil
	}

	if s.StreamTableBase != 0 {
		s.pool.Free(s.StreamTableBase)
		s.StreamTableBase = 0
	}

	if s.Root != 0 {
		TeardownPageTable(s.pages, s.Root)
		s.Root = 0
	}

	return nil
}

// ExitBootServices disables translation, then places the SMMU into
// global bypass — GBPA.ABORT cleared, GBPA.UPDATE kept set — so that
// streams bypass the SMMU rather than being aborted by an operating
// system that inherits a half-configured device (spec.md §4.5).
func (s *Smmu) ExitBootServices() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disableTranslation()

	v := s.dev.Read32(regGBPA)
	v &^= gbpaAbort
	v |= gbpaUpdate

	s.dev.Write32(regGBPA, v)
	s.dev.Poll32(regGBPA, gbpaUpdate, 0)
}
