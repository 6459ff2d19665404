// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package loadingcache provides values that are computed on first use
// and then shared. lvfs uses it as the session arena: a session is
// expensive to construct (it may open an SSH tunnel or negotiate
// Kerberos), must be built at most once per profile, and must not be
// remembered when construction fails.
package loadingcache

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Value manages the loading and storing of a single value. Concurrency
// is well-supported:
//  1. Only one load is in progress at a time, even if concurrent callers
//     request the value.
//  2. Cancellation is respected for loading: the load function is invoked
//     with the caller's context.
//  3. Cancellation is respected for waiting: if a caller's context is
//     canceled while it waits on another caller's load, its GetOrLoad
//     returns immediately with the cancellation error.
//
// A successful load is kept until Reset. A failed load is never kept; the
// next caller loads again.
//
// Value{} is ready to use. Value must not be copied.
type Value[T any] struct {
	init sync.Once
	// c is both a semaphore (limit 1) and storage for cache state.
	c chan state[T]
}

type state[T any] struct {
	loaded bool
	value  T
}

func (v *Value[T]) lazyInit() {
	v.init.Do(func() {
		v.c = make(chan state[T], 1)
		v.c <- state[T]{}
	})
}

// GetOrLoad returns the stored value, or runs load and stores its result
// if it returns a nil error.
func (v *Value[T]) GetOrLoad(ctx context.Context, load func(context.Context) (T, error)) (T, error) {
	v.lazyInit()
	var st state[T]
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case st = <-v.c:
	}
	defer func() { v.c <- st }()
	if st.loaded {
		return st.value, nil
	}
	val, err := runNoPanic(ctx, load)
	if err != nil {
		var zero T
		return zero, err
	}
	st = state[T]{loaded: true, value: val}
	return val, nil
}

// Peek returns the stored value without loading. It waits for an
// in-progress load to finish.
func (v *Value[T]) Peek() (T, bool) {
	v.lazyInit()
	st := <-v.c
	v.c <- st
	return st.value, st.loaded
}

// Reset forgets the stored value and returns it, if there was one.
func (v *Value[T]) Reset() (T, bool) {
	v.lazyInit()
	st := <-v.c
	v.c <- state[T]{}
	return st.value, st.loaded
}

func runNoPanic[T any](ctx context.Context, load func(context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loadingcache: recovered panic: %v, stack:\n%v", r, string(debug.Stack()))
		}
	}()
	return load(ctx)
}
