// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package alloc

// PoolAllocator hands out small, arbitrarily-sized and arbitrarily-aligned
// physical allocations for the driver's own bookkeeping structures (stream
// table entries, queue memory, per-mapping records) — the Go analogue of
// the original_source driver's AllocateZeroPool/AllocateAlignedPages
// firmware calls. It implements the smmu.PoolAllocator collaborator
// interface.
type PoolAllocator struct {
	r *region
}

// NewPoolAllocator reserves [start, start+size) for pool allocation.
func NewPoolAllocator(start, size uint64) *PoolAllocator {
	return &PoolAllocator{r: newRegion(start, size)}
}

// Alloc returns the address of a freshly reserved, zeroed span of size
// bytes aligned to align (0 means byte alignment). It reports
// ErrOutOfMemory when the region is exhausted.
func (p *PoolAllocator) Alloc(size uint64, align uint64) (uint64, error) {
	addr, err := p.r.alloc(size, align)
	if err != nil {
		return 0, err
	}

	zero(addr, size)

	return addr, nil
}

// Free releases a span previously returned by Alloc.
func (p *PoolAllocator) Free(addr uint64) {
	p.r.free(addr)
}

// Contains reports whether addr was handed out by this allocator.
func (p *PoolAllocator) Contains(addr uint64) bool {
	return p.r.contains(addr)
}
