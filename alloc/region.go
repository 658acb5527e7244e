// First-fit memory allocator, adapted from the DMA buffer allocator of
// https://github.com/usbarmory/tamago (dma/region.go) for 64-bit physical
// addressing and for reporting exhaustion as an error return rather than a
// panic, so that callers (the page-table engine, the DMA mapping facade)
// can surface it through the out-of-resources error kind instead of
// crashing the firmware.
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package alloc

import (
	"container/list"
	"errors"
	"sync"
)

// ErrOutOfMemory is returned when a region has no free block large enough
// to satisfy a request.
var ErrOutOfMemory = errors.New("alloc: out of memory")

// region is a first-fit free-list allocator over a fixed, pre-reserved
// span of physical address space [start, start+size).
type region struct {
	sync.Mutex

	start uint64
	size  uint64

	freeBlocks *list.List
	usedBlocks map[uint64]*block
}

func newRegion(start, size uint64) *region {
	r := &region{
		start:      start,
		size:       size,
		freeBlocks: list.New(),
		usedBlocks: make(map[uint64]*block),
	}

	r.freeBlocks.PushBack(&block{addr: start, size: size})

	return r
}

// contains reports whether addr falls within the region's managed span.
func (r *region) contains(addr uint64) bool {
	return addr >= r.start && addr < r.start+r.size
}

// alloc reserves size bytes, aligned to align (which must be a power of 2;
// 0 means no alignment beyond 1), and returns its address.
func (r *region) alloc(size uint64, align uint64) (uint64, error) {
	if size == 0 {
		return 0, errors.New("alloc: zero size")
	}

	if align == 0 {
		align = 1
	}

	r.Lock()
	defer r.Unlock()

	var e *list.Element
	var freeBlock *block
	var pad uint64
	var want uint64

	for e = r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		pad = -b.addr & (align - 1)
		want = size + pad

		if b.size >= want {
			freeBlock = b
			break
		}
	}

	if freeBlock == nil {
		return 0, ErrOutOfMemory
	}

	defer r.freeBlocks.Remove(e)

	if rem := freeBlock.size - want; rem != 0 {
		r.freeBlocks.InsertAfter(&block{addr: freeBlock.addr + want, size: rem}, e)
	}

	if pad != 0 {
		r.freeBlocks.InsertBefore(&block{addr: freeBlock.addr, size: pad}, e)
		freeBlock.addr += pad
	}

	freeBlock.size = size
	r.usedBlocks[freeBlock.addr] = freeBlock

	return freeBlock.addr, nil
}

func (r *region) defrag() {
	var prev *block

	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if prev != nil && prev.addr+prev.size == b.addr {
			prev.size += b.size
			defer r.freeBlocks.Remove(e)
			continue
		}

		prev = b
	}
}

// free releases a previously allocated span back to the free list.
func (r *region) free(addr uint64) {
	if addr == 0 {
		return
	}

	r.Lock()
	defer r.Unlock()

	b, ok := r.usedBlocks[addr]
	if !ok {
		return
	}

	delete(r.usedBlocks, addr)

	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		fb := e.Value.(*block)

		if fb.addr > b.addr {
			r.freeBlocks.InsertBefore(b, e)
			r.defrag()
			return
		}
	}

	r.freeBlocks.PushBack(b)
	r.defrag()
}

// sizeOf returns the size previously allocated at addr, or 0 if addr is
// not a currently used block.
func (r *region) sizeOf(addr uint64) uint64 {
	r.Lock()
	defer r.Unlock()

	if b, ok := r.usedBlocks[addr]; ok {
		return b.size
	}

	return 0
}
