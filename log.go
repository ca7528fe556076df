// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package timeout

import (
	"fmt"
	"os"

	"github.com/intuitivelabs/slog"
)

// log is the package-level structured logger, configurable via
// SetLogLevel. Defaults to warnings and above, matching a library that
// should stay quiet unless something is actually wrong.
var log = slog.Log{
	L:      slog.LWARN,
	Prefix: "timeout: ",
}

// SetLogLevel changes the package's logging verbosity.
func SetLogLevel(l slog.Level) {
	log.L = l
}

func DBGon() bool  { return log.L >= slog.LDBG }
func WARNon() bool { return log.L >= slog.LWARN }
func ERRon() bool  { return log.L >= slog.LERR }

func DBG(f string, a ...interface{})  { log.DBG(f, a...) }
func WARN(f string, a ...interface{}) { log.WARN(f, a...) }
func ERR(f string, a ...interface{})  { log.ERR(f, a...) }
func BUG(f string, a ...interface{})  { log.BUG(f, a...) }

// PANIC logs a programming-error assertion failure and aborts the
// current goroutine, matching spec.md §7.1: "programming errors ...
// signalled as fatal assertions; they represent bugs in callers."
func PANIC(f string, a ...interface{}) {
	log.PANIC(f, a...)
	panic(fmt.Sprintf(f, a...))
}

// FATAL logs a capacity/OS-level failure and terminates the process,
// matching spec.md §7.2/§7.3: "no error is retried ... treated as
// fatal."
func FATAL(f string, a ...interface{}) {
	log.FATAL(f, a...)
	os.Exit(1)
}
