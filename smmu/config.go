// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import "encoding/binary"

// CurrentVersionMajor and CurrentVersionMinor identify the platform
// configuration layout this driver understands (spec.md §4.7). A
// mismatch in either the major or the minor version is rejected.
const (
	CurrentVersionMajor uint16 = 0
	CurrentVersionMinor uint16 = 7
)

// SmmuConfig is the read-only platform descriptor this driver consumes
// from the host before bring-up (spec.md §2, §4.7).
type SmmuConfig struct {
	VersionMajor uint16
	VersionMinor uint16

	IORT IORTTable
}

// IORTTable holds the pre-formatted fragments this driver concatenates,
// patches, and checksums into a single ACPI IORT blob (spec.md §4.7).
type IORTTable struct {
	// Header is the ACPI table header, sized and laid out per the ACPI
	// System Description Table convention: Length at byte offset 4,
	// Checksum at byte offset 9.
	Header []byte

	// ItsNode is the pre-formatted ITS Group node, copied verbatim.
	ItsNode []byte

	SmmuNode SMMUv3Node
	RcNode   RootComplexNode
}

// SMMUv3Node carries this driver's own IORT node fragment plus the
// fields bring-up needs to decide cacheability (spec.md §4.5, §4.7).
type SMMUv3Node struct {
	// Raw is the pre-formatted SMMUv3 node; this driver never edits
	// Raw, it only appends it to the IORT blob verbatim.
	Raw []byte

	Base uint64

	// COHACOverride reports whether the platform's coherent-access
	// fabric lets this driver mark Stage-2 table walks and queue
	// memory cacheable (spec.md §4.5).
	COHACOverride bool
}

// RootComplexNode carries the one upstream Root Complex node this
// driver's IORT publishes, plus the fields bring-up needs (spec.md
// §4.5, §4.7).
type RootComplexNode struct {
	Raw []byte

	MaxStreamID uint32

	CacheCoherent                    bool
	CoherentPathModifiable           bool
	DeviceAttributeCoherencySupported bool
}

const (
	iortLengthOffset   = 4
	iortChecksumOffset = 9
)

// checkVersion rejects a platform configuration whose version does not
// match this driver's exactly (spec.md §4.7: no backward compatibility,
// mirroring original_source's CheckSmmuConfigVersion).
func checkVersion(cfg *SmmuConfig) error {
	if cfg.VersionMajor != CurrentVersionMajor || cfg.VersionMinor != CurrentVersionMinor {
		return newError(IncompatibleVersion, "checkVersion", nil)
	}

	return nil
}

// buildIORT concatenates Header, ItsNode, the SMMUv3 node, and the Root
// Complex node into a single blob, then patches Length and Checksum so
// that the whole blob sums to zero mod 256, as ACPI requires (spec.md
// §4.7).
func buildIORT(cfg *SmmuConfig) []byte {
	blob := make([]byte, 0, len(cfg.IORT.Header)+len(cfg.IORT.ItsNode)+len(cfg.IORT.SmmuNode.Raw)+len(cfg.IORT.RcNode.Raw))

	blob = append(blob, cfg.IORT.Header...)
	blob = append(blob, cfg.IORT.ItsNode...)
	blob = append(blob, cfg.IORT.SmmuNode.Raw...)
	blob = append(blob, cfg.IORT.RcNode.Raw...)

	binary.LittleEndian.PutUint32(blob[iortLengthOffset:], uint32(len(blob)))

	blob[iortChecksumOffset] = 0

	var sum byte
	for _, b := range blob {
		sum += b
	}

	blob[iortChecksumOffset] = -sum

	return blob
}

// Start is this package's entry point (spec.md §4.7): it fetches the
// platform configuration, rejects an incompatible version before
// touching any hardware or publishing any table, publishes the IORT,
// brings the SMMU up, and registers the DMA-mapping callback table and
// exit-boot-services notifier.
func Start(host HostServices, dev Device, pages PageAllocator, pool PoolAllocator, trace func(string, ...interface{})) (*Smmu, error) {
	cfg, err := host.PlatformConfig()
	if err != nil {
		return nil, newError(NotFound, "Start", err)
	}

	if err := checkVersion(cfg); err != nil {
		return nil, err
	}

	if err := host.InstallACPITable(buildIORT(cfg)); err != nil {
		return nil, newError(NotFound, "Start", err)
	}

	s, err := Configure(dev, pages, pool, cfg, trace)
	if err != nil {
		return nil, err
	}

	host.RegisterDMAMappingCallbacks(s)
	host.RegisterExitBootNotifier(s.ExitBootServices)

	return s, nil
}
