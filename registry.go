// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

import (
	"sync/atomic"

	"github.com/intuitivelabs/timeout/clock"
)

// TimeoutId identifies a logical timeout reason. A contiguous low range
// is reserved for well-known reasons configured by the embedding
// program; UserTimeout and above is available for dynamic allocation via
// RegisterTimeout.
type TimeoutId int

// HandlerFunc is the callback invoked when a timeout reason fires. It
// runs on the package's single fire goroutine (see driver.go) and must
// not block indefinitely, nor call back into the Manager for the same
// reason it is currently executing for (spec.md §5 "Re-entrancy").
type HandlerFunc func()

// timeoutEntry holds the per-reason metadata described in spec.md §3.
// The indicator is an atomic.Bool because it is read and written by both
// the mutator API and the asynchronous fire goroutine (spec.md I6, "No
// false clear").
type timeoutEntry struct {
	index     TimeoutId
	indicator atomic.Bool
	handler   HandlerFunc
	startTime clock.Timestamp
	finTime   clock.Timestamp
}

// InitializeTimeouts (re-)initializes the manager: every registry slot is
// cleared, the active queue is emptied, and the timer driver is
// (re)installed. It must be called before any other Manager operation,
// and again after any fork-like operation in the embedding program
// (spec.md §5 "Fork") — this module has no analogue of a real fork, but
// the contract is kept identical so that code porting from a process
// that does fork doesn't need to special-case this package.
func (m *Manager) InitializeTimeouts() error {
	m.armLock.Lock()
	defer m.armLock.Unlock()

	for i := range m.entries {
		m.entries[i] = timeoutEntry{index: TimeoutId(i)}
	}
	m.active = m.active[:0]
	m.initialized = true

	m.driver.stop()
	m.startFireLoopLocked()
	return nil
}

// RegisterTimeout records handler as the callback for id. If id is
// UserTimeout, the first unregistered slot in [UserTimeout, MaxTimeouts)
// is allocated and its id returned. Registration never arms the reason;
// it stays idle until one of the Enable* methods is called.
//
// It is a programming error to register an already-registered reason
// (spec.md §4.1); that case returns ErrAlreadyRegistered rather than
// panicking, since — unlike the capacity-exhaustion case — a caller can
// reasonably recover from a duplicate registration attempt (e.g. retry
// with a different reason).
func (m *Manager) RegisterTimeout(id TimeoutId, handler HandlerFunc) (TimeoutId, error) {
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	if handler == nil {
		return 0, ErrUnregisteredTimeout
	}

	m.armLock.Lock()
	defer m.armLock.Unlock()

	if id == m.userTimeout {
		found := false
		for i := int(m.userTimeout); i < len(m.entries); i++ {
			if m.entries[i].handler == nil {
				id = TimeoutId(i)
				found = true
				break
			}
		}
		if !found {
			FATAL("cannot add more timeout reasons: table of %d full", len(m.entries))
			return 0, ErrNoFreeTimeoutSlot
		}
	}

	if int(id) < 0 || int(id) >= len(m.entries) {
		PANIC("RegisterTimeout called with out of range id %d", id)
	}
	if m.entries[id].handler != nil {
		BUG("RegisterTimeout called twice for id %d", id)
		return 0, ErrAlreadyRegistered
	}

	m.entries[id].handler = handler
	if m.metrics != nil {
		m.metrics.incRegistered()
	}
	return id, nil
}
