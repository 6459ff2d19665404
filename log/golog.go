// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"flag"
	"fmt"
	"io"
	golog "log"
	"sync/atomic"
)

var golevel atomic.Int32

var flagsAdded atomic.Bool

// AddFlags adds the -log level flag to the flag.CommandLine flag set.
// Calls after the first are ignored.
func AddFlags() {
	if !flagsAdded.CompareAndSwap(false, true) {
		return
	}
	flag.Var(new(logFlag), "log", "set log level (off, error, warning, info, debug)")
}

const (
	Ldate      = golog.Ldate
	Ltime      = golog.Ltime
	Lshortfile = golog.Lshortfile
	LstdFlags  = golog.LstdFlags
)

// SetFlags sets the output flags for the Go standard logger.
func SetFlags(flag int) {
	golog.SetFlags(flag)
}

// SetOutput sets the output destination for the Go standard logger.
func SetOutput(w io.Writer) {
	golog.SetOutput(w)
}

// SetLevel sets the log level for the Go standard logger.
func SetLevel(level Level) {
	golevel.Store(int32(level))
}

// ParseLevel parses the names produced by Level.String.
func ParseLevel(name string) (Level, error) {
	switch name {
	case "off":
		return Off, nil
	case "error":
		return Error, nil
	case "warning", "warn":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	}
	return Off, fmt.Errorf("invalid log level %q", name)
}

type logFlag string

func (f logFlag) String() string {
	return string(f)
}

func (f *logFlag) Set(name string) error {
	l, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*f = logFlag(name)
	SetLevel(l)
	return nil
}

// Get implements flag.Getter.
func (logFlag) Get() interface{} {
	return Level(golevel.Load())
}

type gologOutputter struct{}

func (gologOutputter) Level() Level { return Level(golevel.Load()) }

func (gologOutputter) Output(calldepth int, level Level, s string) error {
	if Level(golevel.Load()) < level {
		return nil
	}
	if level == Warning {
		s = "warning: " + s
	}
	return golog.Output(calldepth+1, s)
}
