// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

// dsb issues a data synchronisation barrier (DSB SY), ensuring all prior
// writes to shared memory (stream table, page-table entries, queue
// entries) have completed before a subsequent MMIO write makes them
// visible to the SMMU (advancing a queue PROD register, or setting an
// enable bit in CR0/CR1/CR2).
//
// Defined in barrier_arm64.s.
func dsb()
