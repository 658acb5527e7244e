// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import "github.com/usbarmory/smmuv3/internal/reg"

// Stage-2 identity page-table geometry: four levels, 512 entries per 4
// KiB table (spec.md §3, §4.3).
const (
	pageSize  = 4096
	ptEntries = 512
	ptLevels  = 4
)

// Bit layout of a page-table entry (spec.md §3, §4.3, §8): bits 0..11
// carry flags only, bits 12..47 carry a 4 KiB-aligned physical address
// (either a child table pointer, or — at level 3 — the identity output
// address), and bit 63 is the software VALID bit this driver maintains
// independently of the caller-supplied flags.
const (
	leafValidBit   = 63
	paFieldMask    = 0xfffffffff000 // bits 12..47, 4 KiB aligned
	flagsFieldMask = 0xfff          // bits 0..11

	rwReadBit  = 6
	rwWriteBit = 7
)

func alignUp4K(addr uint64) uint64 {
	return (addr + pageSize - 1) &^ uint64(pageSize-1)
}

// levelIndex returns the 9-bit index into a page table at the given
// level (0..3) for virtual address va: bits (12+9*(3-level))..+9
// (spec.md §4.3).
func levelIndex(va uint64, level int) uint64 {
	shift := uint(12 + 9*(3-level))
	return (va >> shift) & uint64(ptEntries-1)
}

func entryAddr(table uint64, va uint64, level int) uint64 {
	return table + levelIndex(va, level)*8
}

// UpdatePageTable walks pa..ALIGN_UP(pa+bytes, 4 KiB) in 4 KiB steps,
// calling UpdateMapping for each page (spec.md §4.3). trace, if non-nil,
// receives the verbose-level notice for re-mapping an already-valid
// leaf; callers with no Trace hook configured may pass nil.
func UpdatePageTable(pages PageAllocator, root uint64, pa uint64, bytes uint64, flags uint64, valid bool, rwOnly bool, trace func(string, ...interface{})) error {
	if flags&^uint64(flagsFieldMask) != 0 {
		return newError(InvalidParameter, "UpdatePageTable", nil)
	}

	if !rwOnly && pa == 0 {
		return newError(InvalidParameter, "UpdatePageTable", nil)
	}

	end := alignUp4K(pa + bytes)

	for addr := pa; addr < end; addr += pageSize {
		if err := UpdateMapping(pages, root, addr, addr, flags, valid, rwOnly, trace); err != nil {
			return err
		}
	}

	return nil
}

// UpdateMapping installs or updates the single 4 KiB leaf translation
// for va (spec.md §4.3). Levels 0..2 are traversed, allocating an empty,
// zeroed child page wherever the current entry is zero (except in
// rw_only mode, which never allocates); the leaf is then updated at
// level 3.
func UpdateMapping(pages PageAllocator, root uint64, va uint64, pa uint64, flags uint64, valid bool, rwOnly bool, trace func(string, ...interface{})) error {
	if flags&^uint64(flagsFieldMask) != 0 {
		return newError(InvalidParameter, "UpdateMapping", nil)
	}

	if !rwOnly && pa == 0 {
		return newError(InvalidParameter, "UpdateMapping", nil)
	}

	table := root

	for level := 0; level < ptLevels-1; level++ {
		addr := entryAddr(table, va, level)
		entry := reg.Read64(addr)

		if entry == 0 {
			if rwOnly {
				return newError(InvalidParameter, "UpdateMapping", nil)
			}

			child, err := pages.AllocPage()
			if err != nil {
				return newError(OutOfResources, "UpdateMapping", err)
			}

			entry = child & paFieldMask
			entry |= flags & flagsFieldMask

			if valid {
				entry |= uint64(1) << leafValidBit
			}

			reg.Write64(addr, entry)
		}

		table = entry & paFieldMask
	}

	writeLeaf(entryAddr(table, va, ptLevels-1), pa, flags, valid, rwOnly, trace)

	return nil
}

// writeLeaf applies the leaf write semantics of spec.md §4.3.
// Re-mapping an already-valid leaf is not an error: it overwrites, and
// is logged through trace at verbose level (spec.md §4.3 edge case).
func writeLeaf(addr uint64, pa uint64, flags uint64, valid bool, rwOnly bool, trace func(string, ...interface{})) {
	entry := reg.Read64(addr)

	switch {
	case rwOnly:
		rwMask := uint64(1)<<rwReadBit | uint64(1)<<rwWriteBit

		if flags == 0 {
			entry &^= rwMask
		} else {
			entry |= flags & rwMask
		}
	case valid:
		if trace != nil && entry&(uint64(1)<<leafValidBit) != 0 {
			trace("smmu: re-mapping already-valid leaf at %#x", addr)
		}

		entry &^= paFieldMask
		entry |= pa & paFieldMask
		entry |= flags & flagsFieldMask
		entry |= uint64(1) << leafValidBit
	default:
		entry &^= uint64(1) << leafValidBit
		entry |= flags & flagsFieldMask
	}

	reg.Write64(addr, entry)
}

// TeardownPageTable recursively frees every page-table node reachable
// from root, post-order, down to the level-3 tables themselves — never
// the leaf output addresses they point to, which are caller-owned
// buffers, not allocator pages (spec.md §4.3, §9).
func TeardownPageTable(pages PageAllocator, root uint64) {
	teardownChildren(pages, root, 0)
	pages.FreePage(root)
}

func teardownChildren(pages PageAllocator, table uint64, level int) {
	if level >= ptLevels-1 {
		return
	}

	for i := 0; i < ptEntries; i++ {
		entry := reg.Read64(table + uint64(i*8))

		if entry == 0 {
			continue
		}

		child := entry & paFieldMask

		teardownChildren(pages, child, level+1)
		pages.FreePage(child)
	}
}
