// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package batch coalesces streamed deltas into render-rate updates.
//
// Deltas can arrive far faster than a display can usefully redraw. The
// Batcher accumulates them and delivers at most one update per tick interval:
// the first delta after a flush schedules the next one, later deltas ride
// along, and the scheduled flush drains everything in a single callback.
//
// Two delivery modes share the same primitive. In Delta mode each callback
// carries only the newly arrived increment and the consumer appends; in
// Snapshot mode each callback carries the entire text produced so far and the
// consumer overwrites. Snapshot is a trivial replace reducer over the same
// scheduling, so the coalescing behavior is identical in both modes.
package batch

import (
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the default rendering tick: ~30 updates per second.
const DefaultInterval = 33 * time.Millisecond

// =============================================================================
// MODE
// =============================================================================

// Mode selects the callback contract.
type Mode int

const (
	// Delta delivers only the newly arrived increment; the consumer appends.
	Delta Mode = iota
	// Snapshot delivers the entire text produced so far; the consumer
	// overwrites.
	Snapshot
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Snapshot {
		return "snapshot"
	}
	return "delta"
}

// =============================================================================
// BATCHER
// =============================================================================

// Batcher delivers coalesced updates to a single consumer callback.
//
// Invariants it maintains:
//   - Delta mode: the concatenation of every value ever passed to the
//     callback equals the concatenation of all deltas fed in, in order,
//     regardless of arrival timing. Adjacent deltas may merge, never reorder.
//   - After FlushNow the buffer is empty and no flush remains scheduled.
//   - After Stop the callback is never invoked again: a pending scheduled
//     flush must not fire against a torn-down consumer.
type Batcher struct {
	mu sync.Mutex

	mode     Mode
	interval time.Duration
	emit     func(string)

	full      strings.Builder // entire text so far (snapshot payloads, Total)
	pending   strings.Builder // not yet delivered (delta payloads)
	dirty     bool            // anything accumulated since the last emit
	scheduled bool
	timer     *time.Timer
	stopped   bool
}

// New creates a batcher delivering to emit at the default tick interval.
func New(mode Mode, emit func(string)) *Batcher {
	return NewWithInterval(mode, DefaultInterval, emit)
}

// NewWithInterval creates a batcher with a custom tick interval.
func NewWithInterval(mode Mode, interval time.Duration, emit func(string)) *Batcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Batcher{
		mode:     mode,
		interval: interval,
		emit:     emit,
	}
}

// Add accepts one delta. If no flush is scheduled yet, one is scheduled for
// the next tick; otherwise the delta joins the pending batch.
func (b *Batcher) Add(delta string) {
	if delta == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	b.full.WriteString(delta)
	b.pending.WriteString(delta)
	b.dirty = true

	if !b.scheduled {
		b.scheduled = true
		b.timer = time.AfterFunc(b.interval, b.tick)
	}
}

// tick is the scheduled flush.
func (b *Batcher) tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scheduled = false
	b.flushLocked()
}

// FlushNow synchronously drains any pending buffer and cancels the scheduled
// flush. Required at stream completion, on error, and at teardown so no
// trailing text is lost.
func (b *Batcher) FlushNow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
	b.flushLocked()
}

// Stop cancels any pending flush without delivering it and prevents all
// future deliveries. Use when the consumer is being destroyed; use FlushNow
// first if the buffered text still matters.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimerLocked()
	b.stopped = true
	b.pending.Reset()
	b.dirty = false
}

// Total returns the full text accumulated so far.
func (b *Batcher) Total() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.full.String()
}

// Pending returns the number of bytes waiting to be delivered.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len()
}

// Scheduled reports whether a flush is currently queued.
func (b *Batcher) Scheduled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scheduled
}

// flushLocked delivers the accumulated batch. Caller must hold the lock. The
// callback runs under the lock, which keeps updates strictly ordered; the
// consumer must not call back into the batcher from it.
func (b *Batcher) flushLocked() {
	if b.stopped || !b.dirty {
		return
	}

	var payload string
	switch b.mode {
	case Snapshot:
		payload = b.full.String()
	default:
		payload = b.pending.String()
	}

	b.pending.Reset()
	b.dirty = false
	b.emit(payload)
}

// cancelTimerLocked stops a queued timer. Caller must hold the lock.
func (b *Batcher) cancelTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.scheduled = false
}
