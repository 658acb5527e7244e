// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package alloc

import "unsafe"

// zero clears size bytes of physical memory at addr, identity-mapped as is
// assumed throughout this driver. Grounded on the read/write idiom of
// tamago's dma/block.go (unsafe.Add + unsafe.Slice over a bare address).
func zero(addr uint64, size uint64) {
	var ptr unsafe.Pointer

	ptr = unsafe.Add(ptr, uintptr(addr))
	mem := unsafe.Slice((*byte)(ptr), size)

	for i := range mem {
		mem[i] = 0
	}
}
