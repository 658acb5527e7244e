// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import (
	"unsafe"

	"github.com/usbarmory/smmuv3/alloc"
)

// backingMemory reserves a real, GC-pinned Go buffer and reports its
// address as a bare physical address, the same idiom tamago's
// dma/alloc.go uses to turn a Go slice into a DMA buffer address. The
// returned slice must be kept alive by the caller for as long as the
// address is used.
func backingMemory(size int) (buf []byte, base uint64) {
	buf = make([]byte, size)
	return buf, uint64(uintptr(unsafe.Pointer(&buf[0])))
}

// testAllocators carves a page allocator and a pool allocator out of a
// single backing buffer, large enough for the page-table and
// queue/stream-table exercises this package's tests perform.
func testAllocators() (buf []byte, pages *alloc.PageAllocator, pool *alloc.PoolAllocator) {
	const pagesSize = 64 * alloc.PageSize
	const poolSize = 64 * alloc.PageSize

	buf, base := backingMemory(pagesSize + poolSize)

	pages = alloc.NewPageAllocator(base, pagesSize)
	pool = alloc.NewPoolAllocator(base+pagesSize, poolSize)

	return buf, pages, pool
}
