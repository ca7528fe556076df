// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package timeout multiplexes a single process-level countdown timer
// across multiple independent logical timeout reasons.
//
// Independent subsystems each register their own reason (a small
// TimeoutId) with its own handler. At most one of the process's
// countdown timers is ever armed; it is always programmed for whichever
// registered, enabled reason is nearest in the future. When it fires,
// every due handler runs in order of (fire time, reason id), and the
// timer is rearmed for the next pending deadline, if any.
//
// The package does not provide sub-microsecond accuracy, does not
// measure wall-clock drift itself, does not fan handlers out across
// goroutines, and is not a general event loop. It does not persist
// state across process restarts, and it has no opinion on what any
// particular timeout reason means — it only schedules callbacks.
package timeout
