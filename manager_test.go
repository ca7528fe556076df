// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

import (
	"testing"
	"time"

	"github.com/intuitivelabs/timeout/clock"
)

// testManager builds a Manager on a fake clock. Every enable in these
// tests uses a delay of at least an hour so the real background timer
// driver (which is still armed for real wall-clock durations even
// though the clock used for comparisons is fake) has no realistic
// chance of firing before the test asserts on state and calls Close.
// Scenarios that need a fire to actually happen drive it directly via
// processExpiredLocked, the same way the teacher's tests call ticker()/
// advanceTimeTo directly instead of waiting on a real ticker.
func testManager(t *testing.T) (*Manager, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake()
	m := NewManager(WithClock(fake), WithMaxTimeouts(32), WithUserTimeout(16))
	t.Cleanup(m.Close)
	return m, fake
}

func register(t *testing.T, m *Manager, id TimeoutId, fired *[]TimeoutId) {
	t.Helper()
	if _, err := m.RegisterTimeout(id, func() {
		*fired = append(*fired, id)
	}); err != nil {
		t.Fatalf("RegisterTimeout(%d): %s", id, err)
	}
}

// checkQueueInvariants asserts spec.md §8's quantified invariants.
func checkQueueInvariants(t *testing.T, m *Manager) {
	t.Helper()
	m.armLock.Lock()
	defer m.armLock.Unlock()

	seen := map[TimeoutId]bool{}
	for i, e := range m.active {
		if seen[e.index] {
			t.Errorf("id %d appears more than once in the active queue", e.index)
		}
		seen[e.index] = true
		if e.handler == nil {
			t.Errorf("armed entry %d has a nil handler", e.index)
		}
		if i > 0 && !queueLess(m.active[i-1], e) {
			t.Errorf("queue not strictly ordered at position %d: %v then %v",
				i, m.active[i-1].index, e.index)
		}
	}
	if len(m.active) < 0 || len(m.active) > len(m.entries) {
		t.Errorf("numActive %d out of range [0,%d]", len(m.active), len(m.entries))
	}
}

// Scenario 1 (spec.md §8): ordering under equal deadline, tie-break by
// ascending id.
func TestOrderingUnderEqualDeadline(t *testing.T) {
	m, fake := testManager(t)
	var fired []TimeoutId
	register(t, m, 2, &fired)
	register(t, m, 5, &fired)

	now := fake.Now()
	finTime := now.Add(100 * time.Hour)

	if err := m.EnableTimeoutAt(5, finTime); err != nil {
		t.Fatalf("EnableTimeoutAt(5): %s", err)
	}
	if err := m.EnableTimeoutAt(2, finTime); err != nil {
		t.Fatalf("EnableTimeoutAt(2): %s", err)
	}

	m.armLock.Lock()
	if len(m.active) != 2 || m.active[0].index != 2 || m.active[1].index != 5 {
		t.Fatalf("queue order = %v, want [2 5]", queueIDs(m.active))
	}
	m.armLock.Unlock()
	checkQueueInvariants(t, m)

	// processExpiredLocked re-reads the clock after each handler, so the
	// fake clock has to sit at the deadline for the second entry to be due.
	fake.Set(finTime)
	m.armLock.Lock()
	m.processExpiredLocked(finTime)
	numActive := len(m.active)
	m.armLock.Unlock()

	if numActive != 0 {
		t.Fatalf("numActive after firing = %d, want 0", numActive)
	}
	if len(fired) != 2 || fired[0] != 2 || fired[1] != 5 {
		t.Fatalf("fire order = %v, want [2 5]", fired)
	}
}

func queueIDs(active []*timeoutEntry) []TimeoutId {
	ids := make([]TimeoutId, len(active))
	for i, e := range active {
		ids[i] = e.index
	}
	return ids
}

// Scenario 2 (spec.md §8): rescheduling reduces the delay and leaves
// exactly one queue entry.
func TestRescheduleReducesDelay(t *testing.T) {
	m, fake := testManager(t)
	var fired []TimeoutId
	register(t, m, 7, &fired)

	if err := m.EnableTimeoutAfter(7, 500*time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := m.EnableTimeoutAfter(7, 100*time.Hour); err != nil {
		t.Fatal(err)
	}

	m.armLock.Lock()
	defer func() { m.armLock.Unlock() }()
	if len(m.active) != 1 {
		t.Fatalf("numActive = %d, want 1", len(m.active))
	}
	want := fake.Now().Add(100 * time.Hour)
	if m.active[0].finTime != want {
		t.Fatalf("finTime = %v, want %v", m.active[0].finTime, want)
	}
	if m.active[0].indicator.Load() {
		t.Fatalf("indicator should be false after a fresh enable")
	}
}

// Scenario 3 (spec.md §8): batched enable does a single clock read and
// sorts by the effective fin_time.
func TestBatchedEnableSingleClockRead(t *testing.T) {
	m, fake := testManager(t)
	var fired []TimeoutId
	register(t, m, 3, &fired)
	register(t, m, 4, &fired)

	now := fake.Now()
	err := m.EnableTimeouts([]EnableTimeoutParams{
		{Id: 3, Type: TimeoutAfter, Delay: 50 * time.Hour},
		{Id: 4, Type: TimeoutAt, FinTime: now.Add(10 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("EnableTimeouts: %s", err)
	}

	m.armLock.Lock()
	defer m.armLock.Unlock()
	if len(m.active) != 2 || m.active[0].index != 4 || m.active[1].index != 3 {
		t.Fatalf("queue order = %v, want [4 3]", queueIDs(m.active))
	}
}

func TestEnableTimeoutsUnknownTypeIsNonFatal(t *testing.T) {
	m, _ := testManager(t)
	var fired []TimeoutId
	register(t, m, 1, &fired)
	register(t, m, 2, &fired)

	err := m.EnableTimeouts([]EnableTimeoutParams{
		{Id: 1, Type: TimeoutAfter, Delay: time.Hour},
		{Id: 2, Type: TimeoutParamType(99)},
	})
	var batchErr *BatchError
	if err == nil {
		t.Fatalf("expected an error for an unknown param type")
	}
	if !asBatchError(err, &batchErr) {
		t.Fatalf("error %v is not a *BatchError", err)
	}
	if batchErr.Index != 1 || batchErr.Applied != 1 {
		t.Fatalf("BatchError = %+v, want Index=1 Applied=1", batchErr)
	}

	m.armLock.Lock()
	defer m.armLock.Unlock()
	if len(m.active) != 1 || m.active[0].index != 1 {
		t.Fatalf("entry 1 should remain armed after the batch error, queue=%v",
			queueIDs(m.active))
	}
}

func asBatchError(err error, target **BatchError) bool {
	if be, ok := err.(*BatchError); ok {
		*target = be
		return true
	}
	return false
}

// Scenario 4 (spec.md §8): disabling with keepIndicator preserves a
// fired indicator.
func TestDisablePreservesIndicator(t *testing.T) {
	m, fake := testManager(t)
	var fired []TimeoutId
	register(t, m, 9, &fired)

	now := fake.Now()
	finTime := now.Add(time.Hour)
	if err := m.EnableTimeoutAt(9, finTime); err != nil {
		t.Fatal(err)
	}

	m.armLock.Lock()
	m.processExpiredLocked(finTime)
	m.armLock.Unlock()

	if !m.GetTimeoutIndicator(9, false) {
		t.Fatalf("indicator should be true after firing")
	}

	if err := m.DisableTimeout(9, true); err != nil {
		t.Fatal(err)
	}
	if !m.GetTimeoutIndicator(9, false) {
		t.Fatalf("indicator should still be true: keepIndicator=true")
	}
}

// Scenario 5 (spec.md §8): a false read never clears anything, and a
// subsequent firing still sets the indicator.
func TestNoClearOnFalseRead(t *testing.T) {
	m, fake := testManager(t)
	var fired []TimeoutId
	register(t, m, 11, &fired)

	if m.GetTimeoutIndicator(11, true) {
		t.Fatalf("indicator should start false")
	}

	now := fake.Now()
	finTime := now.Add(time.Hour)
	if err := m.EnableTimeoutAt(11, finTime); err != nil {
		t.Fatal(err)
	}
	m.armLock.Lock()
	m.processExpiredLocked(finTime)
	m.armLock.Unlock()

	if !m.GetTimeoutIndicator(11, false) {
		t.Fatalf("indicator should be true after firing, even though an earlier read returned false")
	}
}

// Scenario 6 (spec.md §8): disable_all resets the queue but not the
// handler table.
func TestDisableAllResetsQueueNotHandlers(t *testing.T) {
	m, fake := testManager(t)
	var fired []TimeoutId
	for id := TimeoutId(1); id <= 10; id++ {
		register(t, m, id, &fired)
	}

	now := fake.Now()
	for _, id := range []TimeoutId{2, 4, 6} {
		if err := m.EnableTimeoutAt(id, now.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	m.DisableAllTimeouts(false)

	m.armLock.Lock()
	numActive := len(m.active)
	m.armLock.Unlock()
	if numActive != 0 {
		t.Fatalf("numActive after DisableAllTimeouts = %d, want 0", numActive)
	}
	for id := TimeoutId(1); id <= 10; id++ {
		if m.GetTimeoutIndicator(id, false) {
			t.Fatalf("indicator %d should be false after disable-all", id)
		}
		m.armLock.Lock()
		handler := m.entries[id].handler
		m.armLock.Unlock()
		if handler == nil {
			t.Fatalf("handler %d should remain registered after disable-all", id)
		}
	}

	// re-arm without re-registering
	if err := m.EnableTimeoutAt(2, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("re-arming after disable-all should work without re-registering: %s", err)
	}
}

// Idempotent disable law (spec.md §8).
func TestIdempotentDisable(t *testing.T) {
	m, _ := testManager(t)
	var fired []TimeoutId
	register(t, m, 1, &fired)

	if err := m.DisableTimeout(1, false); err != nil {
		t.Fatalf("disabling an inactive timeout should not error: %s", err)
	}
	if err := m.DisableTimeout(1, false); err != nil {
		t.Fatalf("disabling twice should not error: %s", err)
	}
}

func TestRegisterTimeoutDynamicAllocation(t *testing.T) {
	m, _ := testManager(t)
	var fired []TimeoutId

	first, err := m.RegisterTimeout(m.userTimeout, func() { fired = append(fired, 0) })
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.RegisterTimeout(m.userTimeout, func() { fired = append(fired, 0) })
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("two dynamic registrations got the same id %d", first)
	}
	if first < m.userTimeout || second < m.userTimeout {
		t.Fatalf("dynamic ids must be >= UserTimeout (%d): got %d, %d",
			m.userTimeout, first, second)
	}
}

// Capacity exhaustion (spec.md §7.2) terminates the process via FATAL, so
// it cannot be exercised from within a test binary; TestRegisterTimeout-
// DynamicAllocation above covers the allocation path up to that boundary.
