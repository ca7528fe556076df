// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package clock provides the absolute-instant abstraction used by the
// timeout package: a real wall-clock implementation for production use
// and a fake, settable implementation for deterministic tests.
package clock

import (
	"sync"
	"time"

	"github.com/intuitivelabs/timestamp"
)

// Timestamp is an absolute instant with at least microsecond resolution,
// backed by the same clock dependency the teacher uses for its own tick
// bookkeeping (timestamp.Now/.Sub/.Before/.Add in wtimer.go, wtimer_run.go,
// wtimer_ticker.go), rather than stdlib time.Time directly.
type Timestamp struct {
	ts timestamp.TS
}

// FromTS wraps a timestamp.TS as a Timestamp.
func FromTS(ts timestamp.TS) Timestamp {
	return Timestamp{ts: ts}
}

// IsZero reports whether the timestamp has never been set.
func (ts Timestamp) IsZero() bool {
	return ts.ts == (timestamp.TS{})
}

// Before reports whether ts is strictly before u.
func (ts Timestamp) Before(u Timestamp) bool {
	return ts.ts.Before(u.ts)
}

// After reports whether ts is strictly after u.
func (ts Timestamp) After(u Timestamp) bool {
	return u.ts.Before(ts.ts)
}

// Add returns ts+d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{ts: ts.ts.Add(d)}
}

// Sub returns the signed difference ts-u, matching the host collaborator's
// TimestampDifference semantics from spec.md §6 (expressed here as a
// single signed Duration, since timestamp.TS.Sub already returns one).
func (ts Timestamp) Sub(u Timestamp) time.Duration {
	return ts.ts.Sub(u.ts)
}

// TS returns the underlying timestamp.TS.
func (ts Timestamp) TS() timestamp.TS {
	return ts.ts
}

// Clock provides the current time. It exists so tests can supply a fake,
// deterministic clock instead of real wall-clock time.
type Clock interface {
	Now() Timestamp
}

// System is the real, wall-clock-backed Clock.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() Timestamp {
	return Timestamp{ts: timestamp.Now()}
}

// Fake is a settable Clock for deterministic tests. timestamp.TS has no
// exported constructor from an arbitrary calendar date (the teacher never
// builds one except via timestamp.Now(), always moving forward from there
// with Add/Sub — see wtimer_ticker.go's ticker()), so a Fake is seeded
// from one real timestamp.Now() read at construction and moved forward
// deterministically from that base with Set/Advance.
type Fake struct {
	mu  sync.Mutex
	now Timestamp
}

// NewFake returns a Fake clock seeded at the current real instant.
func NewFake() *Fake {
	return &Fake{now: Timestamp{ts: timestamp.Now()}}
}

// Now returns the current fake time.
func (f *Fake) Now() Timestamp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the fake clock to t, normally a Timestamp derived from this
// same Fake via Add or Advance.
func (f *Fake) Set(t Timestamp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves the fake clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) Timestamp {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}
