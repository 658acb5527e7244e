// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

// trace calls s.Trace if the host set one, a nil-safe wrapper around the
// single optional, function-valued hook this driver exposes — the same
// pluggable-callback idiom the teacher uses for its USDHC.LowVoltage
// hook: a struct field the caller may leave nil.
func (s *Smmu) trace(format string, args ...interface{}) {
	if s.Trace == nil {
		return
	}

	s.Trace(format, args...)
}
