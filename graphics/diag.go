// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/diag.go
// Summary: Bounded diagnostics ring plus the optional event recorder hook.
//          Malformed sequences stay invisible on screen, so this is where a
//          host goes to find out what happened.

package graphics

import (
	"fmt"
	"sync"
	"time"
)

const defaultDiagCapacity = 128

// Diagnostics keeps the most recent engine messages in a fixed-size ring.
// It has its own lock so a host UI can read it while the engine runs.
type Diagnostics struct {
	mu      sync.Mutex
	limit   int
	entries []string
}

func NewDiagnostics(limit int) *Diagnostics {
	if limit <= 0 {
		limit = defaultDiagCapacity
	}
	return &Diagnostics{limit: limit}
}

// Record appends a formatted message, dropping the oldest once full.
func (d *Diagnostics) Record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, fmt.Sprintf(format, args...))
	if len(d.entries) > d.limit {
		d.entries = d.entries[len(d.entries)-d.limit:]
	}
}

// Recent returns a copy of the buffered messages, oldest first.
func (d *Diagnostics) Recent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len reports how many messages are buffered.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Event is one applied or failed command, handed to an optional recorder.
type Event struct {
	Time     time.Time
	Protocol string
	Action   string
	ImageID  uint32
	Code     string // response code, empty on success
	Detail   string
	Bytes    int // payload bytes carried by the command
}

// EventRecorder receives engine events. Implementations must not block;
// the engine calls them while holding its lock.
type EventRecorder interface {
	Record(Event)
}
