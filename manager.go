// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

import (
	"sync"
	"time"

	"github.com/intuitivelabs/timeout/clock"
)

// metricsSink is the seam between the core multiplexer and an optional
// metrics exporter. The default build has no implementation wired in
// (m.metrics stays nil and every call site below checks for that); the
// "prometheus" build tag (metrics.go) provides one backed by
// github.com/prometheus/client_golang, matching arzzra-soft_phone's own
// build-tag-gated metrics file.
type metricsSink interface {
	incRegistered()
	incArmed()
	incFired()
	incDisabled(n int)
	setActive(n int)
	observeFireDuration(d time.Duration)
}

// DefaultMaxTimeouts is the default table size, large enough for a
// handful of well-known reasons plus a generous pool of dynamically
// allocated ones. It is the compile-time-ish upper bound spec.md §3
// calls MAX_TIMEOUTS, made configurable via WithMaxTimeouts since a Go
// library has no preprocessor to fix it at build time.
const DefaultMaxTimeouts = 64

// DefaultUserTimeout is the default first id available for dynamic
// allocation via RegisterTimeout(UserTimeout, ...), analogous to
// spec.md §3's USER_TIMEOUT. Reasons below it are reserved for
// well-known, statically-assigned ids chosen by the embedding program.
const DefaultUserTimeout TimeoutId = 16

// Manager is the single, process-wide owner of the registry, the active
// queue, and the timer driver (spec.md §9: "there must remain exactly
// one instance per process, because there is only one underlying
// timer"). Unlike the original C module, this package does not force a
// single global instance — embedding programs that are certain they only
// ever need one timer driver should construct exactly one Manager at
// startup and share it, the same discipline the C original enforces
// structurally.
type Manager struct {
	armLock sync.Mutex // guards everything below; stands in for
	// "disable the interrupt source across mutations" (spec.md §4.3/§9)

	entries     []timeoutEntry
	active      []*timeoutEntry
	initialized bool
	userTimeout TimeoutId

	clock   clock.Clock
	driver  *alarmDriver
	latch   Latch
	metrics metricsSink

	startOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMaxTimeouts sets the registry size (spec.md MAX_TIMEOUTS).
func WithMaxTimeouts(n int) Option {
	return func(m *Manager) { m.entries = make([]timeoutEntry, n) }
}

// WithUserTimeout sets the first id available for dynamic allocation
// (spec.md USER_TIMEOUT).
func WithUserTimeout(id TimeoutId) Option {
	return func(m *Manager) { m.userTimeout = id }
}

// WithClock overrides the Clock used for GetCurrentTimestamp()-style
// reads (spec.md §6). Tests should use clock.NewFake.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLatch wires a Latch that is woken on every timer-driver fire, even
// when no logical timeout reason is actually due (spec.md §4.3 step 2,
// SPEC_FULL.md recovered feature).
func WithLatch(l Latch) Option {
	return func(m *Manager) { m.latch = l }
}

// NewManager constructs a Manager and calls InitializeTimeouts on it.
// Defaults: DefaultMaxTimeouts slots, DefaultUserTimeout, a real
// wall-clock, no latch.
func NewManager(opts ...Option) *Manager {
	driver, err := newAlarmDriver()
	if err != nil {
		FATAL("failed to initialize timer driver: %s", err)
	}
	m := &Manager{
		userTimeout: DefaultUserTimeout,
		clock:       clock.System{},
		driver:      driver,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.entries == nil {
		m.entries = make([]timeoutEntry, DefaultMaxTimeouts)
	}
	m.active = make([]*timeoutEntry, 0, len(m.entries))

	if err := m.InitializeTimeouts(); err != nil {
		// InitializeTimeouts as written today never actually fails;
		// kept as an error return for parity with the rest of the
		// mutator API and in case a future driver needs one.
		PANIC("InitializeTimeouts failed: %s", err)
	}
	return m
}

// Close stops the fire goroutine and disarms the timer driver. A closed
// Manager must not be used again.
func (m *Manager) Close() {
	close(m.done)
	m.armLock.Lock()
	m.driver.stop()
	m.armLock.Unlock()
	m.wg.Wait()
}

// checkRegistered asserts that id names a registered reason, matching
// spec.md §4.4's "It is a programming error ... to enable or disable a
// timeout whose handler is unset."
func (m *Manager) checkRegistered(id TimeoutId) {
	if !m.initialized {
		PANIC("timeout manager used before InitializeTimeouts")
	}
	if int(id) < 0 || int(id) >= len(m.entries) || m.entries[id].handler == nil {
		PANIC("timeout id %d has no registered handler", id)
	}
}

// EnableTimeoutAfter arms id to fire after delay has elapsed
// (spec.md §4.4 enable_timeout_after).
func (m *Manager) EnableTimeoutAfter(id TimeoutId, delay time.Duration) error {
	m.checkRegistered(id)

	m.armLock.Lock()
	defer m.armLock.Unlock()

	m.disableAlarmLocked(false)
	now := m.clock.Now()
	m.enable(id, now, now.Add(delay))
	m.scheduleAlarmLocked(now)
	m.observeEnable()
	return nil
}

// EnableTimeoutAt arms id to fire at the given absolute instant
// (spec.md §4.4 enable_timeout_at). Use this instead of
// EnableTimeoutAfter when the caller already has a target Timestamp, to
// avoid reading the clock twice.
func (m *Manager) EnableTimeoutAt(id TimeoutId, at clock.Timestamp) error {
	m.checkRegistered(id)

	m.armLock.Lock()
	defer m.armLock.Unlock()

	m.disableAlarmLocked(false)
	now := m.clock.Now()
	m.enable(id, now, at)
	m.scheduleAlarmLocked(now)
	m.observeEnable()
	return nil
}

// TimeoutParamType selects between a relative-delay and an
// absolute-instant entry in a batched EnableTimeouts call.
type TimeoutParamType int

const (
	// TimeoutAfter means DelayMs is relative to the single clock read
	// taken at the start of the batch.
	TimeoutAfter TimeoutParamType = iota
	// TimeoutAt means FinTime is an absolute instant.
	TimeoutAt
)

// EnableTimeoutParams is one entry of a batched EnableTimeouts call
// (spec.md §6).
type EnableTimeoutParams struct {
	Id      TimeoutId
	Type    TimeoutParamType
	Delay   time.Duration  // meaningful only for TimeoutAfter
	FinTime clock.Timestamp // meaningful only for TimeoutAt
}

// EnableTimeouts arms every entry in params, reading the clock once and
// reprogramming the driver once, instead of len(params) times
// (spec.md §4.4 enable_timeouts, §8 scenario 3).
//
// An unknown Type is a recoverable, non-fatal error (spec.md §7): the
// entries processed before the bad one remain armed, matching the
// original's non-transactional elog(ERROR) mid-loop (SPEC_FULL.md §4.4
// recovered feature).
func (m *Manager) EnableTimeouts(params []EnableTimeoutParams) error {
	for _, p := range params {
		m.checkRegistered(p.Id)
	}

	m.armLock.Lock()
	defer m.armLock.Unlock()

	m.disableAlarmLocked(len(params) > 1)
	now := m.clock.Now()

	for i, p := range params {
		switch p.Type {
		case TimeoutAfter:
			m.enable(p.Id, now, now.Add(p.Delay))
		case TimeoutAt:
			m.enable(p.Id, now, p.FinTime)
		default:
			ERR("unrecognized timeout param type %d at index %d", p.Type, i)
			m.scheduleAlarmLocked(now)
			return &BatchError{Index: i, Applied: i, Err: ErrUnknownTimeoutParamType}
		}
		m.observeEnable()
	}
	m.scheduleAlarmLocked(now)
	return nil
}

// DisableTimeoutParams is one entry of a batched DisableTimeouts call
// (spec.md §6).
type DisableTimeoutParams struct {
	Id            TimeoutId
	KeepIndicator bool
}

// DisableTimeout cancels id. It is not an error to disable a reason that
// is not currently armed. Unless keepIndicator is true, the indicator is
// cleared (spec.md §4.4 disable_timeout).
func (m *Manager) DisableTimeout(id TimeoutId, keepIndicator bool) error {
	m.checkRegistered(id)

	m.armLock.Lock()
	defer m.armLock.Unlock()

	m.disableAlarmLocked(false)
	if i := m.find(id); i >= 0 {
		m.remove(i)
	}
	if !keepIndicator {
		m.entries[id].indicator.Store(false)
	}
	if len(m.active) > 0 {
		m.scheduleAlarmLocked(m.clock.Now())
	}
	if m.metrics != nil {
		m.metrics.incDisabled(1)
		m.metrics.setActive(len(m.active))
	}
	return nil
}

// DisableTimeouts cancels every entry in params with a single clock read
// at the reschedule step, the batched analogue of DisableTimeout
// (spec.md §4.4 disable_timeouts).
func (m *Manager) DisableTimeouts(params []DisableTimeoutParams) error {
	for _, p := range params {
		m.checkRegistered(p.Id)
	}

	m.armLock.Lock()
	defer m.armLock.Unlock()

	m.disableAlarmLocked(false)
	for _, p := range params {
		if i := m.find(p.Id); i >= 0 {
			m.remove(i)
		}
		if !p.KeepIndicator {
			m.entries[p.Id].indicator.Store(false)
		}
	}
	if len(m.active) > 0 {
		m.scheduleAlarmLocked(m.clock.Now())
	}
	if m.metrics != nil {
		m.metrics.incDisabled(len(params))
		m.metrics.setActive(len(m.active))
	}
	return nil
}

// DisableAllTimeouts unconditionally disarms the driver and empties the
// active queue, optionally clearing every indicator. Registered handlers
// are left in place and can be re-armed without re-registering
// (spec.md §4.4 disable_all_timeouts, §8 scenario 6).
func (m *Manager) DisableAllTimeouts(keepIndicators bool) {
	m.armLock.Lock()
	defer m.armLock.Unlock()

	m.driver.stop()
	m.active = m.active[:0]

	if !keepIndicators {
		for i := range m.entries {
			m.entries[i].indicator.Store(false)
		}
	}
	if m.metrics != nil {
		m.metrics.setActive(0)
	}
}

// GetTimeoutIndicator returns whether id has fired since it was last
// armed or explicitly reset. If the indicator is true and reset is true,
// it is cleared before returning.
//
// The indicator is never cleared when this returns false: doing so would
// race with a concurrent firing on the fire goroutine and could silently
// lose a timeout (spec.md §4.4 get_timeout_indicator, §8 "No false
// clear").
func (m *Manager) GetTimeoutIndicator(id TimeoutId, reset bool) bool {
	m.checkRegistered(id)
	e := &m.entries[id]
	if e.indicator.Load() {
		if reset {
			e.indicator.Store(false)
		}
		return true
	}
	return false
}

// GetTimeoutStartTime returns the instant id was most recently armed, or
// the zero Timestamp if it has never been armed. start_time is
// deliberately never cleared when a timeout fires, so a caller racing
// the fire goroutine can't observe a spurious zero (spec.md §4.4
// get_timeout_start_time).
func (m *Manager) GetTimeoutStartTime(id TimeoutId) clock.Timestamp {
	m.checkRegistered(id)
	return m.entries[id].startTime
}

// observeEnable updates metrics after a single enable; must be called
// with armLock held.
func (m *Manager) observeEnable() {
	if m.metrics != nil {
		m.metrics.incArmed()
		m.metrics.setActive(len(m.active))
	}
}
