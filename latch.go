// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

// Latch is a process-wide wakeup signal, optionally wired into a
// Manager so that anything blocked waiting on it re-checks its own
// condition every time the timer driver fires — even on a tick where no
// logical timeout reason happened to be due.
//
// This mirrors the original implementation's unconditional
// SetLatch(&MyProc->procLatch) call at the very top of its SIGALRM
// handler (spec.md §4.3 step 2): Set must be safe to call from the fire
// goroutine and must never block.
type Latch interface {
	Set()
}

// ChannelLatch is a Latch backed by a buffered channel with a
// non-blocking Set, the idiomatic Go analogue of an async-signal-safe
// latch: a blocked receiver on C wakes up, and a Set with no receiver
// ready leaves a single pending wakeup rather than blocking or panicking.
type ChannelLatch struct {
	C chan struct{}
}

// NewChannelLatch returns a ChannelLatch with a single-slot buffer.
func NewChannelLatch() *ChannelLatch {
	return &ChannelLatch{C: make(chan struct{}, 1)}
}

// Set wakes one blocked waiter, or leaves a pending wakeup if none is
// currently waiting. It never blocks.
func (l *ChannelLatch) Set() {
	select {
	case l.C <- struct{}{}:
	default:
	}
}
