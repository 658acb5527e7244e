// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import (
	"errors"
	"testing"

	"github.com/usbarmory/smmuv3/internal/reg"
)

func newTestSmmu(t *testing.T) *Smmu {
	t.Helper()

	_, pages, pool := testAllocators()

	root, err := pages.AllocPage()
	if err != nil {
		t.Fatal(err)
	}

	return &Smmu{dev: newFakeDevice(), pages: pages, pool: pool, Root: root}
}

func TestMapUnmapHappyPath(t *testing.T) {
	s := newTestSmmu(t)

	hostAddr := s.Root + pageSize
	m, err := s.Map(BusMasterCommonBuffer, hostAddr, pageSize)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	if m.DeviceAddr != hostAddr {
		t.Fatalf("expected identity device address, got %#x", m.DeviceAddr)
	}

	if err := s.Unmap(m); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
}

func TestMapRoundsLengthUpToPageMultiple(t *testing.T) {
	s := newTestSmmu(t)

	hostAddr := s.Root + pageSize
	m, err := s.Map(BusMasterRead, hostAddr, 1) // one byte
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	if m.Bytes != pageSize {
		t.Fatalf("expected length rounded up to one page, got %d", m.Bytes)
	}
}

func TestMapRejectsZeroHostAddr(t *testing.T) {
	s := newTestSmmu(t)

	if _, err := s.Map(BusMasterWrite, 0, pageSize); err == nil {
		t.Fatalf("expected error for PA == 0")
	}
}

func TestSetAttributeReadThenReadWriteThenNone(t *testing.T) {
	s := newTestSmmu(t)

	hostAddr := s.Root + pageSize
	m, err := s.Map(BusMasterCommonBuffer, hostAddr, pageSize)
	if err != nil {
		t.Fatal(err)
	}

	table := walkToLastLevel(t, s.Root, hostAddr)
	addr := entryAddr(table, hostAddr, ptLevels-1)

	if err := s.SetAttribute(m, Read); err != nil {
		t.Fatal(err)
	}

	entry := reg.Read64(addr)
	if entry&(1<<rwReadBit) == 0 || entry&(1<<rwWriteBit) != 0 {
		t.Fatalf("expected R set, W clear after SetAttribute(Read): %#x", entry)
	}

	if err := s.SetAttribute(m, Read|Write); err != nil {
		t.Fatal(err)
	}

	entry = reg.Read64(addr)
	if entry&(1<<rwReadBit) == 0 || entry&(1<<rwWriteBit) == 0 {
		t.Fatalf("expected both R and W set: %#x", entry)
	}

	if err := s.SetAttribute(m, 0); err != nil {
		t.Fatal(err)
	}

	entry = reg.Read64(addr)
	if entry&(1<<rwReadBit) != 0 || entry&(1<<rwWriteBit) != 0 {
		t.Fatalf("expected both R and W clear: %#x", entry)
	}
}

func TestSetAttributeRejectsBitsOutsideReadWrite(t *testing.T) {
	s := newTestSmmu(t)

	hostAddr := s.Root + pageSize
	m, err := s.Map(BusMasterCommonBuffer, hostAddr, pageSize)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetAttribute(m, AccessType(0x80)); err == nil {
		t.Fatalf("expected error for access bits outside Read|Write")
	}
}

func TestAllocateAndFreeBuffer(t *testing.T) {
	s := newTestSmmu(t)

	addr, err := s.AllocateBuffer(MemoryTypeBootServicesData, 3)
	if err != nil {
		t.Fatalf("AllocateBuffer: %v", err)
	}

	if err := s.FreeBuffer(addr, 3); err != nil {
		t.Fatalf("FreeBuffer: %v", err)
	}
}

func TestUnmapRejectsNil(t *testing.T) {
	s := newTestSmmu(t)

	err := s.Unmap(nil)
	if err == nil {
		t.Fatalf("expected error for nil MapInfo")
	}

	var smmuErr *Error
	if !errors.As(err, &smmuErr) || smmuErr.Kind != InvalidParameter {
		t.Fatalf("expected InvalidParameter kind, got %v", err)
	}
}
