// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package batch

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// collector records every callback payload under a lock, since scheduled
// flushes arrive from the timer goroutine.
type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) emit(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, s)
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func (c *collector) joined() string {
	return strings.Join(c.all(), "")
}

// =============================================================================
// DELTA MODE TESTS
// =============================================================================

// Conservation: for any arrival timing, the concatenation of delivered
// payloads equals the concatenation of the deltas fed in, in order.
func TestDeltaConservation(t *testing.T) {
	deltas := []string{"Hel", "lo, ", "wor", "ld", "!", " More", " text."}

	tests := []struct {
		name  string
		pause time.Duration
	}{
		{"burst", 0},
		{"spread", 3 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c collector
			b := NewWithInterval(Delta, 5*time.Millisecond, c.emit)

			for _, d := range deltas {
				b.Add(d)
				if tt.pause > 0 {
					time.Sleep(tt.pause)
				}
			}
			b.FlushNow()

			want := strings.Join(deltas, "")
			if got := c.joined(); got != want {
				t.Errorf("Delivered %q, want %q", got, want)
			}
		})
	}
}

func TestDeltaCoalescesBurst(t *testing.T) {
	var c collector
	// Long interval: everything lands in one scheduled batch.
	b := NewWithInterval(Delta, time.Hour, c.emit)

	b.Add("a")
	b.Add("b")
	b.Add("c")

	if got := c.all(); len(got) != 0 {
		t.Errorf("Nothing should be delivered before the tick, got %v", got)
	}
	if !b.Scheduled() {
		t.Error("A flush should be scheduled")
	}

	b.FlushNow()

	got := c.all()
	if len(got) != 1 || got[0] != "abc" {
		t.Errorf("Delivered %v, want one batch \"abc\"", got)
	}
}

func TestScheduledFlushFires(t *testing.T) {
	var c collector
	b := NewWithInterval(Delta, 5*time.Millisecond, c.emit)

	b.Add("tick")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.joined() == "tick" {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Scheduled flush never fired, delivered %q", c.joined())
}

func TestFlushNowEmptiesBufferAndSchedule(t *testing.T) {
	var c collector
	b := NewWithInterval(Delta, time.Hour, c.emit)

	b.Add("x")
	b.FlushNow()

	if b.Pending() != 0 {
		t.Errorf("Pending = %d, want 0 after FlushNow", b.Pending())
	}
	if b.Scheduled() {
		t.Error("No flush may remain scheduled after FlushNow")
	}

	// FlushNow on an empty buffer delivers nothing.
	b.FlushNow()
	if got := c.all(); len(got) != 1 {
		t.Errorf("Delivered %v, want exactly one payload", got)
	}
}

// =============================================================================
// SNAPSHOT MODE TESTS
// =============================================================================

func TestSnapshotDeliversFullText(t *testing.T) {
	var c collector
	b := NewWithInterval(Snapshot, time.Hour, c.emit)

	b.Add("Hel")
	b.FlushNow()
	b.Add("lo")
	b.FlushNow()

	got := c.all()
	if len(got) != 2 {
		t.Fatalf("Delivered %v, want 2 snapshots", got)
	}
	if got[0] != "Hel" || got[1] != "Hello" {
		t.Errorf("Snapshots = %v, want [Hel Hello]", got)
	}

	// Final payload equals the full concatenation of all deltas.
	if got[len(got)-1] != b.Total() {
		t.Errorf("Final snapshot %q != total %q", got[len(got)-1], b.Total())
	}
}

func TestSnapshotCoalesces(t *testing.T) {
	var c collector
	b := NewWithInterval(Snapshot, time.Hour, c.emit)

	b.Add("a")
	b.Add("b")
	b.Add("c")
	b.FlushNow()

	got := c.all()
	if len(got) != 1 || got[0] != "abc" {
		t.Errorf("Delivered %v, want one snapshot \"abc\"", got)
	}
}

// =============================================================================
// STOP TESTS
// =============================================================================

func TestStopCancelsPendingFlush(t *testing.T) {
	var c collector
	b := NewWithInterval(Delta, 5*time.Millisecond, c.emit)

	b.Add("doomed")
	b.Stop()

	time.Sleep(20 * time.Millisecond)

	if got := c.all(); len(got) != 0 {
		t.Errorf("Callback fired after Stop: %v", got)
	}
	if b.Scheduled() {
		t.Error("No flush may remain scheduled after Stop")
	}

	// Adds after Stop are ignored.
	b.Add("late")
	b.FlushNow()
	if got := c.all(); len(got) != 0 {
		t.Errorf("Delivered %v after Stop, want nothing", got)
	}
}

func TestTotalTracksAllDeltas(t *testing.T) {
	b := NewWithInterval(Delta, time.Hour, func(string) {})
	b.Add("one ")
	b.Add("two")
	if b.Total() != "one two" {
		t.Errorf("Total = %q, want %q", b.Total(), "one two")
	}
}
