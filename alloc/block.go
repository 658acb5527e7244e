// First-fit memory allocator, adapted from the DMA buffer allocator of
// https://github.com/usbarmory/tamago (dma/block.go, dma/region.go) for
// 64-bit physical addressing.
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package alloc

// block represents a single free or allocated span within a region.
type block struct {
	addr uint64
	size uint64
}
