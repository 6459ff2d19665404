// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import "sync/atomic"

// Once captures at most one error. Errors are safely set across
// multiple goroutines; composed operations that fan out over a
// listing use it to keep the first failure.
//
// A zero Once is ready to use.
type Once struct {
	// Ignored is a list of errors that will be dropped in Set.
	Ignored []error
	err     atomic.Pointer[error]
}

// Err returns the first non-nil error passed to Set.
func (e *Once) Err() error {
	p := e.err.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Set sets this instance's error to err. Only the first error
// is set; subsequent calls are ignored.
func (e *Once) Set(err error) {
	if err == nil {
		return
	}
	for _, ignored := range e.Ignored {
		if err == ignored {
			return
		}
	}
	e.err.CompareAndSwap(nil, &err)
}
