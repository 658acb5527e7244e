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
)

func testIORT() IORTTable {
	return IORTTable{
		Header:  make([]byte, 36), // ACPI SDT header size
		ItsNode: []byte{0x00, 0x01, 0x02, 0x03},
		SmmuNode: SMMUv3Node{
			Raw:           []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE},
			Base:          0x09050000,
			COHACOverride: true,
		},
		RcNode: RootComplexNode{
			Raw:                     []byte{0x11, 0x22, 0x33},
			MaxStreamID:             0xFFFF,
			CacheCoherent:           true,
			CoherentPathModifiable:  true,
		},
	}
}

func TestBuildIORTChecksumsToZero(t *testing.T) {
	cfg := &SmmuConfig{VersionMajor: CurrentVersionMajor, VersionMinor: CurrentVersionMinor, IORT: testIORT()}

	blob := buildIORT(cfg)

	var sum byte
	for _, b := range blob {
		sum += b
	}

	if sum != 0 {
		t.Fatalf("IORT blob must sum to zero mod 256, got %#x", sum)
	}
}

func TestBuildIORTPatchesLength(t *testing.T) {
	cfg := &SmmuConfig{VersionMajor: CurrentVersionMajor, VersionMinor: CurrentVersionMinor, IORT: testIORT()}

	blob := buildIORT(cfg)

	length := uint32(blob[iortLengthOffset]) | uint32(blob[iortLengthOffset+1])<<8 |
		uint32(blob[iortLengthOffset+2])<<16 | uint32(blob[iortLengthOffset+3])<<24

	if int(length) != len(blob) {
		t.Fatalf("Length field %d does not match blob size %d", length, len(blob))
	}
}

func TestCheckVersionRejectsMismatchedMajor(t *testing.T) {
	cfg := &SmmuConfig{VersionMajor: CurrentVersionMajor + 1, VersionMinor: 0}

	err := checkVersion(cfg)
	if err == nil {
		t.Fatalf("expected error for mismatched major version")
	}

	var smmuErr *Error
	if !errors.As(err, &smmuErr) || smmuErr.Kind != IncompatibleVersion {
		t.Fatalf("expected IncompatibleVersion kind, got %v", err)
	}
}

func TestCheckVersionRejectsNewerMinor(t *testing.T) {
	cfg := &SmmuConfig{VersionMajor: CurrentVersionMajor, VersionMinor: CurrentVersionMinor + 1}

	if err := checkVersion(cfg); err == nil {
		t.Fatalf("expected error for a minor version newer than this driver understands")
	}
}

func TestCheckVersionRejectsOlderMinor(t *testing.T) {
	cfg := &SmmuConfig{VersionMajor: CurrentVersionMajor, VersionMinor: 0}

	err := checkVersion(cfg)
	if err == nil {
		t.Fatalf("expected error: this driver requires an exact version match, no backward compatibility")
	}

	var smmuErr *Error
	if !errors.As(err, &smmuErr) || smmuErr.Kind != IncompatibleVersion {
		t.Fatalf("expected IncompatibleVersion kind, got %v", err)
	}
}

func TestCheckVersionAcceptsExactMatch(t *testing.T) {
	cfg := &SmmuConfig{VersionMajor: CurrentVersionMajor, VersionMinor: CurrentVersionMinor}

	if err := checkVersion(cfg); err != nil {
		t.Fatalf("expected an exact version match to be accepted, got %v", err)
	}
}
