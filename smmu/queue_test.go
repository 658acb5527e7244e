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

	"github.com/usbarmory/smmuv3/internal/reg"
)

func TestQueueWrapArithmetic(t *testing.T) {
	const n = 4 // log2size = 2

	if !isEmpty(0, 0, n) {
		t.Fatalf("prod==cons==0 must be empty")
	}

	if isFull(0, 0, n) {
		t.Fatalf("prod==cons==0 must not be full")
	}

	// Fill the ring: advance prod n times from cons=0.
	prod := uint32(0)
	for i := 0; i < n; i++ {
		prod = advance(prod, n)
	}

	if !isFull(prod, 0, n) {
		t.Fatalf("prod advanced n times from cons=0 must be full, prod=%#x", prod)
	}

	if isEmpty(prod, 0, n) {
		t.Fatalf("a full queue must not report empty")
	}

	// Draining one slot must leave it non-full, non-empty.
	cons := advance(0, n)
	if isFull(prod, cons, n) {
		t.Fatalf("queue must not be full after draining one slot")
	}

	if isEmpty(prod, cons, n) {
		t.Fatalf("queue must not be empty with one slot still pending")
	}
}

func TestQueueSendCommandAutoDrain(t *testing.T) {
	_, _, pool := testAllocators()

	base, err := pool.Alloc(16*cmdEntrySize, 16*cmdEntrySize)
	if err != nil {
		t.Fatal(err)
	}

	dev := newFakeDevice()
	q := NewCommandQueue(dev, base, 4) // 16 entries

	if err := q.SendCommand(cmdSyncCommand()); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	if dev.dsbCount == 0 {
		t.Fatalf("expected at least one DSB issued")
	}
}

func TestQueueSendCommandBackPressureTimeout(t *testing.T) {
	_, _, pool := testAllocators()

	base, err := pool.Alloc(2*cmdEntrySize, 2*cmdEntrySize)
	if err != nil {
		t.Fatal(err)
	}

	dev := newFakeDevice()
	dev.autoDrainCmdq = false

	q := NewCommandQueue(dev, base, 1) // log2size=1, n=2

	// Every command waits for the hardware to drain the slot it just
	// produced (spec.md §4.4, §5); with nothing ever advancing
	// CMDQ_CONS, even the first submission times out against the
	// pollAttempts/pollInterval bound.
	err = q.SendCommand(cfgiAllCommand())
	if err == nil {
		t.Fatalf("expected timeout error on a queue nothing drains")
	}

	var smmuErr *Error
	if !errors.As(err, &smmuErr) || smmuErr.Kind != Timeout {
		t.Fatalf("expected Timeout kind, got %v", err)
	}
}

func TestQueueFullDetectionAtSmallestSize(t *testing.T) {
	const n = 2 // log2size = 1, the smallest usable ring

	prod := advance(0, n)
	if isFull(prod, 0, n) {
		t.Fatalf("one slot produced out of two must not be full")
	}

	prod = advance(prod, n)
	if !isFull(prod, 0, n) {
		t.Fatalf("two slots produced out of two must be full, prod=%#x", prod)
	}
}

func TestConsumeEventQueueForErrorsEmpty(t *testing.T) {
	_, _, pool := testAllocators()

	base, err := pool.Alloc(4*evtEntrySize, 4*evtEntrySize)
	if err != nil {
		t.Fatal(err)
	}

	dev := newFakeDevice()
	q := NewEventQueue(dev, base, 2)

	_, empty := q.ConsumeEventQueueForErrors()
	if !empty {
		t.Fatalf("expected an empty queue to report empty")
	}
}

func TestConsumeEventQueueForErrorsDrainsOneRecord(t *testing.T) {
	_, _, pool := testAllocators()

	base, err := pool.Alloc(4*evtEntrySize, 4*evtEntrySize)
	if err != nil {
		t.Fatal(err)
	}

	dev := newFakeDevice()
	q := NewEventQueue(dev, base, 2)

	// Simulate hardware having produced one record: write its type
	// byte, then bump EVENTQ_PROD.
	slotAddr := q.Base
	reg.Write64(slotAddr, 0x42) // type byte 0x42 in the low byte

	dev.page1[regEventqProd] = advance(0, q.n())

	rec, empty := q.ConsumeEventQueueForErrors()
	if empty {
		t.Fatalf("expected a record, got empty")
	}

	if rec.Type() != 0x42 {
		t.Fatalf("unexpected record type: %#x", rec.Type())
	}

	if dev.page1[regEventqCons] != advance(0, q.n()) {
		t.Fatalf("EVENTQ_CONS not advanced")
	}
}
