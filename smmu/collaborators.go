// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

// PageAllocator is the external collaborator that hands out zeroed,
// 4 KiB-aligned physical pages (spec.md §1). The driver uses it for the
// page-table root, every lazily-allocated intermediate page-table node,
// and buffers handed out through AllocateBuffer.
type PageAllocator interface {
	AllocPage() (uint64, error)
	FreePage(addr uint64)
}

// PoolAllocator is the external collaborator that hands out zeroed,
// arbitrarily-sized and arbitrarily-aligned physical spans (spec.md §1),
// used for the stream table, the command/event queues, and per-mapping
// MapInfo records.
type PoolAllocator interface {
	Alloc(size uint64, align uint64) (uint64, error)
	Free(addr uint64)
}

// HostServices is the firmware host this driver registers callbacks
// with and consumes configuration from (spec.md §2, §4.7, §6). It
// stands in for the platform configuration descriptor, the ACPI table
// publisher, and the exit-boot-services notification mechanism.
type HostServices interface {
	// PlatformConfig returns the platform's read-only SMMU
	// configuration descriptor.
	PlatformConfig() (*SmmuConfig, error)

	// InstallACPITable hands the host a pre-formatted, checksummed
	// ACPI table blob (the IORT) for publication to the OS.
	InstallACPITable(blob []byte) error

	// RegisterDMAMappingCallbacks publishes the DMA-mapping callback
	// table under the host's well-known identifier.
	RegisterDMAMappingCallbacks(Mapper)

	// RegisterExitBootNotifier arranges for fn to be invoked once,
	// when the firmware transitions control to the operating system.
	RegisterExitBootNotifier(fn func())
}

// Mapper is the DMA-mapping callback table (spec.md §6): the operations
// the rest of the firmware uses to publish buffers to DMA-capable
// devices once the SMMU has been brought up.
type Mapper interface {
	Map(op OperationType, hostAddr uint64, bytes uint64) (*MapInfo, error)
	Unmap(m *MapInfo) error
	SetAttribute(m *MapInfo, access AccessType) error
	AllocateBuffer(memType MemoryType, pages uint64) (uint64, error)
	FreeBuffer(hostAddr uint64, pages uint64) error
}

// OperationType classifies the direction of a Map request, mirroring the
// original_source's IOMMU_OPERATION enumeration. The hard core does not
// branch on it (identity Stage-2 mapping is direction-agnostic); Map only
// records it in the returned MapInfo's Op field.
type OperationType int

const (
	BusMasterRead OperationType = iota
	BusMasterWrite
	BusMasterCommonBuffer
)

// AccessType is the bitset SetAttribute accepts; it must be a subset of
// Read|Write (spec.md §4.6, §8 scenario 4).
type AccessType uint8

const (
	Read AccessType = 1 << iota
	Write
)

// MemoryType mirrors the original_source's EfiMemoryType classification.
// AllocateBuffer accepts it but does not use it: every request is served
// from the one page allocator, as page-type accounting belongs to the
// host's memory map, not to the SMMU.
type MemoryType int

const (
	MemoryTypeBootServicesData MemoryType = iota
	MemoryTypeRuntimeServicesData
)
