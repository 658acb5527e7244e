// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package alloc

// PageSize is the 4 KiB translation granule this allocator, and the
// driver's Stage-2 page tables, are built around.
const PageSize = 4096

// PageAllocator hands out 4 KiB-aligned, 4 KiB-sized physical pages from a
// fixed span of memory set aside for page-table nodes and DMA buffers. It implements
// the smmu.PageAllocator collaborator interface.
type PageAllocator struct {
	r *region
}

// NewPageAllocator reserves [start, start+size) for page allocation. start
// and size must be multiples of PageSize for the span to yield
// size/PageSize pages.
func NewPageAllocator(start, size uint64) *PageAllocator {
	return &PageAllocator{r: newRegion(start, size)}
}

// AllocPage returns the physical address of a freshly reserved, zeroed 4
// KiB page. It reports ErrOutOfMemory when the region is exhausted.
func (p *PageAllocator) AllocPage() (uint64, error) {
	addr, err := p.r.alloc(PageSize, PageSize)
	if err != nil {
		return 0, err
	}

	zero(addr, PageSize)

	return addr, nil
}

// FreePage releases a page previously returned by AllocPage.
func (p *PageAllocator) FreePage(addr uint64) {
	p.r.free(addr)
}

// Contains reports whether addr was handed out by this allocator.
func (p *PageAllocator) Contains(addr uint64) bool {
	return p.r.contains(addr)
}
