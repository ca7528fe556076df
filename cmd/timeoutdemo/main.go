// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Command timeoutdemo registers a couple of well-known timeout reasons
// and a dynamically-allocated one, arms them, and prints each as it
// fires, to demonstrate the timeout package end to end.
package main

import (
	"fmt"
	"time"

	"github.com/intuitivelabs/timeout"
)

const (
	deadlockCheck timeout.TimeoutId = iota
	statementTimeout
	lockWaitTimeout
)

func main() {
	latch := timeout.NewChannelLatch()
	mgr := timeout.NewManager(timeout.WithLatch(latch))
	defer mgr.Close()

	done := make(chan struct{})
	register := func(id timeout.TimeoutId, name string) {
		if _, err := mgr.RegisterTimeout(id, func() {
			fmt.Printf("%s fired at %s\n", name, time.Now().Format(time.RFC3339Nano))
		}); err != nil {
			fmt.Printf("register %s: %s\n", name, err)
		}
	}

	register(deadlockCheck, "deadlock-check")
	register(statementTimeout, "statement-timeout")
	register(lockWaitTimeout, "lock-wait")

	userID, err := mgr.RegisterTimeout(timeout.DefaultUserTimeout, func() {
		fmt.Println("user timeout fired")
		close(done)
	})
	if err != nil {
		fmt.Println("register user timeout:", err)
		return
	}

	if err := mgr.EnableTimeoutAfter(deadlockCheck, 50*time.Millisecond); err != nil {
		fmt.Println("enable deadlock-check:", err)
	}
	if err := mgr.EnableTimeoutAfter(statementTimeout, 150*time.Millisecond); err != nil {
		fmt.Println("enable statement-timeout:", err)
	}
	if err := mgr.EnableTimeoutAfter(userID, 250*time.Millisecond); err != nil {
		fmt.Println("enable user timeout:", err)
	}

	// The lock-wait reason is armed and then cancelled before it fires,
	// to demonstrate DisableTimeout.
	if err := mgr.EnableTimeoutAfter(lockWaitTimeout, 100*time.Millisecond); err != nil {
		fmt.Println("enable lock-wait:", err)
	}
	time.AfterFunc(10*time.Millisecond, func() {
		mgr.DisableTimeout(lockWaitTimeout, false)
	})

	go func() {
		for range latch.C {
			// A real caller blocked in a wait loop would re-check its
			// own condition here; this demo just shows the wakeups.
		}
	}()

	<-done
}
