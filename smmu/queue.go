// https://github.com/usbarmory/smmuv3
//
// Copyright (c) The SMMUv3 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smmu

import (
	"encoding/binary"
	"time"

	"github.com/usbarmory/smmuv3/internal/reg"
)

// Entry sizes, in bytes, for the two queue kinds the engine drives
// (spec.md §3).
const (
	cmdEntrySize = 16
	evtEntrySize = 32
)

// Command opcodes (spec.md §4.5 step 12, §4.6), matching the
// architecture's published SMMU_CMD_* encodings.
const (
	opCfgiAll     = 0x04
	opTlbiEl2All  = 0x20
	opTlbiNsNhAll = 0x30
	opCmdSync     = 0x46
)

// Queue is the circular command or event ring described in spec.md §3,
// §4.4: a fixed-size-entry buffer whose producer/consumer indices are
// each (log2size+1) bits wide, the extra bit being the wrap indicator
// that lets the engine tell an empty ring from a full one.
type Queue struct {
	Base      uint64
	Log2Size  uint
	EntrySize uint64

	dev     Device
	prodOff uint32
	consOff uint32
	page1   bool
}

// NewCommandQueue builds the command-queue view over CMDQ_BASE's memory,
// driven through CMDQ_PROD/CMDQ_CONS on page 0.
func NewCommandQueue(dev Device, base uint64, log2size uint) *Queue {
	return &Queue{
		Base: base, Log2Size: log2size, EntrySize: cmdEntrySize,
		dev: dev, prodOff: regCmdqProd, consOff: regCmdqCons, page1: false,
	}
}

// NewEventQueue builds the event-queue view over EVENTQ_BASE's memory,
// driven through EVENTQ_PROD/EVENTQ_CONS on page 1 (spec.md §4.4 step 1).
func NewEventQueue(dev Device, base uint64, log2size uint) *Queue {
	return &Queue{
		Base: base, Log2Size: log2size, EntrySize: evtEntrySize,
		dev: dev, prodOff: regEventqProd, consOff: regEventqCons, page1: true,
	}
}

func (q *Queue) n() uint32 {
	return uint32(1) << q.Log2Size
}

func (q *Queue) readProd() uint32 {
	if q.page1 {
		return q.dev.Read32P1(q.prodOff)
	}

	return q.dev.Read32(q.prodOff)
}

func (q *Queue) readCons() uint32 {
	if q.page1 {
		return q.dev.Read32P1(q.consOff)
	}

	return q.dev.Read32(q.consOff)
}

func (q *Queue) writeProd(v uint32) {
	if q.page1 {
		q.dev.Write32P1(q.prodOff, v)
	} else {
		q.dev.Write32(q.prodOff, v)
	}
}

func (q *Queue) writeCons(v uint32) {
	if q.page1 {
		q.dev.Write32P1(q.consOff, v)
	} else {
		q.dev.Write32(q.consOff, v)
	}
}

// slot and wrap split a software-visible index (spec.md §3, §4.4, §9).
func slot(idx, n uint32) uint32 { return idx & (n - 1) }
func wrap(idx, n uint32) uint32 { return idx & n }

func isEmpty(prod, cons, n uint32) bool {
	return slot(prod, n) == slot(cons, n) && wrap(prod, n) == wrap(cons, n)
}

func isFull(prod, cons, n uint32) bool {
	return slot(prod, n) == slot(cons, n) && wrap(prod, n) != wrap(cons, n)
}

// advance moves idx to the next slot, flipping the wrap bit when the
// slot counter rolls over to 0 (spec.md §4.4).
func advance(idx, n uint32) uint32 {
	s := slot(idx, n) + 1
	w := wrap(idx, n)

	if s == n {
		s = 0
		w ^= n
	}

	return w | s
}

// poll retries cond up to pollAttempts times, pollInterval apart,
// returning true as soon as cond reports success (spec.md §4.1, §4.4,
// §4.5: the single, canonical bounded wait this driver uses throughout).
func poll(cond func() bool) bool {
	for i := 0; i < pollAttempts; i++ {
		if cond() {
			return true
		}

		if i < pollAttempts-1 {
			time.Sleep(pollInterval)
		}
	}

	return cond()
}

// SendCommand submits a 16-byte command, waiting for the queue to drain
// the slot it just produced before returning (spec.md §4.4, §5: command
// submission is serialised).
func (q *Queue) SendCommand(cmd [2]uint64) error {
	n := q.n()

	prod := q.readProd()
	cons := q.readCons()

	if isFull(prod, cons, n) {
		drained := poll(func() bool {
			cons = q.readCons()
			return !isFull(prod, cons, n)
		})

		if !drained {
			return newError(Timeout, "SendCommand", nil)
		}
	}

	entryAddr := q.Base + uint64(slot(prod, n))*q.EntrySize
	reg.Write64(entryAddr, cmd[0])
	reg.Write64(entryAddr+8, cmd[1])

	q.dev.DSB()

	newProd := advance(prod, n)
	q.writeProd(newProd)

	synced := poll(func() bool {
		return q.readCons() >= newProd
	})

	if !synced {
		return newError(Timeout, "SendCommand", nil)
	}

	return nil
}

// EventRecord is the raw 32-byte event queue entry; Type reports the
// fault kind encoded in its first byte (spec.md §4.4, §7).
type EventRecord struct {
	raw [evtEntrySize]byte
}

// Type returns the fault-kind byte of the record.
func (e *EventRecord) Type() byte {
	return e.raw[0]
}

// Bytes returns the raw 32-byte record.
func (e *EventRecord) Bytes() [evtEntrySize]byte {
	return e.raw
}

// ConsumeEventQueueForErrors dequeues one fault record, or reports an
// empty queue (spec.md §4.4).
func (q *Queue) ConsumeEventQueueForErrors() (rec EventRecord, empty bool) {
	n := q.n()

	prod := q.readProd()
	cons := q.readCons()

	if isEmpty(prod, cons, n) {
		return EventRecord{}, true
	}

	entryAddr := q.Base + uint64(slot(cons, n))*q.EntrySize

	for i := 0; i < evtEntrySize/8; i++ {
		w := reg.Read64(entryAddr + uint64(i*8))
		binary.LittleEndian.PutUint64(rec.raw[i*8:], w)
	}

	newCons := advance(cons, n)
	q.dev.DSB()
	q.writeCons(newCons)

	return rec, false
}

func cfgiAllCommand() [2]uint64     { return [2]uint64{uint64(opCfgiAll), 0} }
func tlbiEl2AllCommand() [2]uint64  { return [2]uint64{uint64(opTlbiEl2All), 0} }
func tlbiNsNhAllCommand() [2]uint64 { return [2]uint64{uint64(opTlbiNsNhAll), 0} }
func cmdSyncCommand() [2]uint64     { return [2]uint64{uint64(opCmdSync), 0} }
