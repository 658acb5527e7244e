// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

// Page-table flag bits a caller may pass into Map/SetAttribute (spec.md
// §4.3, §4.6).
const (
	FlagAccess     uint64 = 1 << 0
	FlagDescriptor uint64 = 1 << 1
)

// MapInfo is the opaque handle returned by Map and consumed by Unmap and
// SetAttribute (spec.md §4.6). HostAddr and Bytes are exposed so callers
// can hand the device address straight to a DMA-capable peripheral.
type MapInfo struct {
	Op        OperationType
	HostAddr  uint64
	Bytes     uint64
	DeviceAddr uint64

	// record is the pool allocation backing this handle itself; Map
	// allocates it from pool so that Unmap can release it without the
	// caller ever seeing it.
	record uint64
}

// Map installs Stage-2 identity translations covering [hostAddr,
// hostAddr+bytes), rounding bytes up to a 4 KiB multiple, then records
// the mapping in a pool-allocated MapInfo (spec.md §4.6, §8 scenarios 1
// and 2).
func (s *Smmu) Map(op OperationType, hostAddr uint64, bytes uint64) (*MapInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bytes == 0 || hostAddr == 0 {
		return nil, newError(InvalidParameter, "Map", nil)
	}

	aligned := alignUp4K(bytes)

	flags := FlagAccess | FlagDescriptor

	if err := UpdatePageTable(s.pages, s.Root, hostAddr, aligned, flags, true, false, s.trace); err != nil {
		return nil, err
	}

	record, err := s.pool.Alloc(mapInfoRecordSize, mapInfoRecordSize)
	if err != nil {
		// Roll back the page-table entries just installed: a MapInfo
		// that can't be recorded must not leave live translations
		// behind (spec.md §9 open question, resolved).
		UpdatePageTable(s.pages, s.Root, hostAddr, aligned, 0, false, false, s.trace)
		return nil, newError(OutOfResources, "Map", err)
	}

	s.drainEvents("Map")

	return &MapInfo{
		Op:         op,
		HostAddr:   hostAddr,
		Bytes:      aligned,
		DeviceAddr: hostAddr,
		record:     record,
	}, nil
}

// mapInfoRecordSize is the pool allocation Map reserves per outstanding
// mapping purely to make MapInfo lifetime observable to the allocator;
// the identity-mapped driver stores no per-mapping metadata in it.
const mapInfoRecordSize = 64

// Unmap clears VALID on every leaf Map installed, issues TLBI_NSNH_ALL,
// TLBI_EL2_ALL and CMD_SYNC, and releases the MapInfo's bookkeeping
// record (spec.md §4.6, §8 scenario 1). It issues no stream table
// invalidation: every slot holds the single template written at
// bring-up, which no per-stream operation changes (spec.md §9).
func (s *Smmu) Unmap(m *MapInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == nil {
		return newError(InvalidParameter, "Unmap", nil)
	}

	if err := UpdatePageTable(s.pages, s.Root, m.HostAddr, m.Bytes, 0, false, false, s.trace); err != nil {
		return err
	}

	if s.CmdQ != nil {
		for _, cmd := range [][2]uint64{tlbiNsNhAllCommand(), tlbiEl2AllCommand(), cmdSyncCommand()} {
			if err := s.CmdQ.SendCommand(cmd); err != nil {
				return err
			}
		}
	}

	s.pool.Free(m.record)
	s.drainEvents("Unmap")

	return nil
}

// SetAttribute toggles the leaf READ/WRITE bits of an existing mapping
// without touching its VALID state or output address (spec.md §4.6, §8
// scenario 4): access == 0 clears both bits, otherwise only the given
// bits are set, never clearing ones already set.
func (s *Smmu) SetAttribute(m *MapInfo, access AccessType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == nil || access&^(Read|Write) != 0 {
		return newError(InvalidParameter, "SetAttribute", nil)
	}

	// spec.md §4.6: page-table flags are access bits shifted into the
	// leaf's R/W field, bits 6-7 (rwReadBit/rwWriteBit in pagetable.go).
	return UpdatePageTable(s.pages, s.Root, m.HostAddr, m.Bytes, uint64(access)<<rwReadBit, false, true, s.trace)
}

// AllocateBuffer hands out a zeroed, page-aligned host buffer for later
// mapping (spec.md §4.6). MemoryType only affects host-side accounting
// (spec.md §9); this driver always serves the request from its page
// allocator.
func (s *Smmu) AllocateBuffer(memType MemoryType, pages uint64) (uint64, error) {
	if pages == 0 {
		return 0, newError(InvalidParameter, "AllocateBuffer", nil)
	}

	first, err := s.pages.AllocPage()
	if err != nil {
		return 0, newError(OutOfResources, "AllocateBuffer", err)
	}

	for i := uint64(1); i < pages; i++ {
		if _, err := s.pages.AllocPage(); err != nil {
			return 0, newError(OutOfResources, "AllocateBuffer", err)
		}
	}

	return first, nil
}

// FreeBuffer releases a buffer previously returned by AllocateBuffer.
func (s *Smmu) FreeBuffer(hostAddr uint64, pages uint64) error {
	if pages == 0 {
		return newError(InvalidParameter, "FreeBuffer", nil)
	}

	for i := uint64(0); i < pages; i++ {
		s.pages.FreePage(hostAddr + i*pageSize)
	}

	return nil
}

// drainEvents best-effort drains the event queue after a mapping
// operation, tracing any fault record it finds (spec.md §4.4, §7); it
// never turns a fault record into an error, since a stale event may
// belong to an unrelated stream.
func (s *Smmu) drainEvents(op string) {
	if s.EvtQ == nil {
		return
	}

	for {
		rec, empty := s.EvtQ.ConsumeEventQueueForErrors()
		if empty {
			return
		}

		s.trace("smmu: %s: event queue record type=0x%02x", op, rec.Type())
	}
}
