// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

import (
	"fmt"
	"time"

	"github.com/intuitivelabs/timeout/clock"
)

// alarmDriver is a thin wrapper over the single process-wide countdown
// timer (spec.md §4.3 "OS Timer Driver"). Go's *time.Timer already *is*
// "a thin abstraction over a single countdown timer that raises an
// asynchronous interrupt" (spec.md §6), so it is used directly rather
// than reimplemented; this wrapper only adds the drain-before-reset
// bookkeeping time.Timer itself requires.
type alarmDriver struct {
	timer *time.Timer
}

// newAlarmDriver sets up the underlying *time.Timer. time.NewTimer itself
// never fails, but the setup is wrapped in a recover anyway so that an
// unexpected panic surfaces as ErrTimerDriver (spec.md §7.3 "OS/driver
// errors"), the one realistic shape that category of error can still take
// in this Go realization, rather than as an unrelated crash deep in a
// caller's stack.
func newAlarmDriver() (d *alarmDriver, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTimerDriver, r)
		}
	}()
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &alarmDriver{timer: t}, nil
}

// arm programs the driver to fire after d, which must be > 0.
func (d *alarmDriver) arm(dur time.Duration) {
	d.stop()
	d.timer.Reset(dur)
}

// stop disarms the driver, draining a pending fire if one raced us, so a
// later arm() always starts from a clean channel.
func (d *alarmDriver) stop() {
	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
}

// scheduleAlarmLocked arms the driver for the nearest pending deadline,
// or leaves it disarmed if the queue is empty (spec.md §4.3
// schedule_alarm). Must be called with armLock held.
func (m *Manager) scheduleAlarmLocked(now clock.Timestamp) {
	if len(m.active) == 0 {
		return
	}
	delta := m.active[0].finTime.Sub(now)
	// Open Question (spec.md §9): round a zero-or-negative delta up to
	// 1us rather than passing it through, so the driver is asked to
	// "fire very soon" and never misread as "disarm". This rule is part
	// of the contract and must not be dropped, per spec.md.
	if delta <= 0 {
		delta = time.Microsecond
	}
	m.driver.arm(delta)
}

// disableAlarmLocked disarms the driver. multiInsert must be true if the
// caller is about to enable more than one new timeout before the next
// schedule; otherwise it should be false.
//
// If the active queue is already empty and multiInsert is false, the
// stop() call is skipped as a pure optimization (spec.md §4.3
// disable_alarm, §9 Open Question): the worst case is a stray fire whose
// very first check, an empty active queue, makes it a no-op. That
// invariant is what the fire loop below checks first, preserving the
// optimization's correctness exactly.
func (m *Manager) disableAlarmLocked(multiInsert bool) {
	if multiInsert || len(m.active) > 0 {
		m.driver.stop()
	}
}

// startFireLoopLocked starts the single background goroutine that plays
// the role of the asynchronous interrupt handler (spec.md §4.3). It is
// started at most once per Manager: the OS only ever redelivers the
// interrupt after the previous invocation returns, and one goroutine
// that is never run concurrently with itself is the direct structural
// analogue of that guarantee. Must be called with armLock held.
func (m *Manager) startFireLoopLocked() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.runFireLoop()
	})
}

// runFireLoop is the fire goroutine: the Go-native realization of
// spec.md §4.3's handle_sig_alarm. There is no errno to save/restore
// (Go has no C-style errno), so that step is dropped; every other step
// is kept, including re-reading "now" after each handler invocation,
// since a handler (e.g. a deadlock check) may not be cheap.
func (m *Manager) runFireLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.driver.timer.C:
		}

		// Step 2 (recovered feature, spec.md §4.3/SPEC_FULL.md §4.3):
		// wake the latch unconditionally, even if no logical timeout
		// turns out to be due, exactly where the original places its
		// SetLatch call.
		if m.latch != nil {
			m.latch.Set()
		}

		m.armLock.Lock()
		if len(m.active) == 0 {
			// Correctness for the disable_alarm(false) optimization
			// above: a stray fire with an empty queue does nothing.
			m.armLock.Unlock()
			continue
		}

		now := m.processExpiredLocked(m.clock.Now())
		m.scheduleAlarmLocked(now)
		m.armLock.Unlock()
	}
}

// processExpiredLocked fires every active entry due at or before now, in
// (finTime, index) order, and returns an updated "now" read after the
// last handler ran (spec.md §4.3 steps 4a-4e). It is split out of
// runFireLoop so tests can drive it directly with a fake clock's notion
// of "now", the same way the teacher's own ticker()/advanceTimeTo split
// lets tests advance time deterministically instead of sleeping
// (wtimer_ticker.go). Must be called with armLock held.
//
// The lock is held for the entire loop, including each handler
// invocation. spec.md §5 models a single-threaded process where the
// mutator simply cannot run while the (conceptual) signal handler is
// active; holding the lock here is the Go-native way to preserve that
// same guarantee ("a mutator call that begins after an interrupt fires
// sees the post-handler state") now that mutator and fire path are two
// real goroutines instead of one thread plus a signal.
func (m *Manager) processExpiredLocked(now clock.Timestamp) clock.Timestamp {
	for len(m.active) > 0 && !m.active[0].finTime.After(now) {
		e := m.active[0]
		m.remove(0)
		e.indicator.Store(true)
		m.runHandler(e, e.handler)
		now = m.clock.Now()
	}
	return now
}

// runHandler invokes a single fired handler and records its runtime when
// metrics are enabled.
func (m *Manager) runHandler(e *timeoutEntry, h HandlerFunc) {
	if m.metrics != nil {
		m.metrics.incFired()
		start := time.Now()
		defer func() { m.metrics.observeFireDuration(time.Since(start)) }()
	}
	h()
}
