// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

import (
	"github.com/intuitivelabs/timeout/clock"
)

// The active queue is a flat slice of pointers into the registry, kept
// sorted ascending by (finTime, index) (spec.md §4.2, I2). It is scanned
// and shifted linearly rather than kept as a heap: at the scale this
// package targets (MaxTimeouts is a few dozen at most, spec.md §9
// "Linear queue vs heap"), the constant factor and cache locality of a
// packed array win, and — just as importantly — it keeps the
// fire-goroutine-visible structure trivially inspectable, the same
// property the teacher's own wheel lists were designed around.

// queueLess reports whether a's (finTime, index) key sorts strictly
// before b's, implementing spec.md I2's lexicographic ordering.
func queueLess(a, b *timeoutEntry) bool {
	if !a.finTime.Before(b.finTime) && !b.finTime.Before(a.finTime) {
		return a.index < b.index
	}
	return a.finTime.Before(b.finTime)
}

// find returns the active-queue position of id, or -1 if it is not
// present (spec.md §4.2 find).
func (m *Manager) find(id TimeoutId) int {
	for i, e := range m.active {
		if e.index == id {
			return i
		}
	}
	return -1
}

// insert shifts active[pos:] right by one slot and writes e at pos.
// Precondition: 0 <= pos <= len(active); violation is fatal, matching
// spec.md §4.2's "violation is fatal".
func (m *Manager) insert(e *timeoutEntry, pos int) {
	if pos < 0 || pos > len(m.active) {
		PANIC("timeout queue index %d out of range 0..%d", pos, len(m.active))
	}
	m.active = append(m.active, nil)
	copy(m.active[pos+1:], m.active[pos:])
	m.active[pos] = e
}

// remove deletes the entry at pos, shifting active[pos+1:] left by one.
// Precondition: 0 <= pos < len(active); violation is fatal.
func (m *Manager) remove(pos int) {
	if pos < 0 || pos >= len(m.active) {
		PANIC("timeout queue index %d out of range 0..%d", pos, len(m.active)-1)
	}
	copy(m.active[pos:], m.active[pos+1:])
	m.active = m.active[:len(m.active)-1]
}

// enable arms id to fire at finTime, removing any existing active entry
// for id first (a reschedule), then inserting at the position that keeps
// the queue sorted (spec.md §4.2 enable, §8 "Reschedule = disable +
// enable").
func (m *Manager) enable(id TimeoutId, now, finTime clock.Timestamp) {
	e := &m.entries[id]

	if i := m.find(id); i >= 0 {
		m.remove(i)
	}

	e.finTime = finTime
	pos := len(m.active)
	for i, cur := range m.active {
		if queueLess(e, cur) {
			pos = i
			break
		}
	}

	e.indicator.Store(false)
	e.startTime = now
	m.insert(e, pos)
}
