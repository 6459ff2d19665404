// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package traverse provides bounded parallel traversal of slices. The
// lvfs command uses it to copy and remove the locations its globs
// expand to.
package traverse

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
)

// A T is a traverser. There will be no more than Limit concurrent
// invocations per traversal; a Limit of zero denotes no limit.
type T struct {
	Limit int
}

// Limit returns a traverser with limit n.
func Limit(n int) T {
	if n <= 0 {
		log.Fatalf("traverse.Limit: invalid limit: %d", n)
	}
	return T{Limit: n}
}

// Each invokes fn(ctx, i) for 0 <= i < n. It returns when all
// invocations have completed, or after the first invocation fails, in
// which case no new invocations are started and the first error is
// returned. The context passed to fn is canceled once any invocation
// fails. Each propagates panics from fn to the caller.
func (t T) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	limit := t.Limit
	if limit == 0 || limit > n {
		limit = n
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		once errors.Once
		wg   sync.WaitGroup
		work = make(chan int)
	)
	wg.Add(limit)
	for w := 0; w < limit; w++ {
		go func() {
			defer wg.Done()
			for i := range work {
				if once.Err() != nil {
					continue
				}
				if err := apply(ctx, fn, i); err != nil {
					once.Set(err)
					cancel()
				}
			}
		}()
	}
	for i := 0; i < n && once.Err() == nil; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
	err := once.Err()
	if p, ok := err.(panicErr); ok {
		panic(fmt.Sprintf("traverse child: %v\n%s", p.v, string(p.stack)))
	}
	return err
}

// Each performs unbounded concurrent traversal over n elements. It is
// a shorthand for (T{}).Each.
func Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	return T{}.Each(ctx, n, fn)
}

func apply(ctx context.Context, fn func(context.Context, int) error, i int) (err error) {
	defer func() {
		if perr := recover(); perr != nil {
			err = panicErr{perr, debug.Stack()}
		}
	}()
	return fn(ctx, i)
}

type panicErr struct {
	v     interface{}
	stack []byte
}

func (p panicErr) Error() string { return fmt.Sprint(p.v) }
