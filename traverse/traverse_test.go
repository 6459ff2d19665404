// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package traverse_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lowes/lvfs/traverse"
)

func recovered(f func()) (v interface{}) {
	defer func() { v = recover() }()
	f()
	return v
}

func TestTraverse(t *testing.T) {
	ctx := context.Background()
	list := make([]int, 5)
	err := traverse.Each(ctx, 5, func(_ context.Context, i int) error {
		list[i] += i
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := list, []int{0, 1, 2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	expectedErr := errors.New("test error")
	err = traverse.Each(ctx, 5, func(_ context.Context, i int) error {
		if i == 3 {
			return expectedErr
		}
		return nil
	})
	if got, want := err, expectedErr; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestTraverseLimit(t *testing.T) {
	for _, test := range []struct{ N, Limit int }{
		{1, 1}, {10, 2}, {1000, 5}, {3, 8},
	} {
		var (
			data    = make([]int32, test.N)
			running int32
			peak    int32
		)
		err := traverse.Limit(test.Limit).Each(context.Background(), test.N, func(_ context.Context, i int) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			atomic.AddInt32(&data[i], 1)
			atomic.AddInt32(&running, -1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		for i, d := range data {
			if d != 1 {
				t.Errorf("N=%d: element %d visited %d times", test.N, i, d)
				break
			}
		}
		if int(peak) > test.Limit {
			t.Errorf("N=%d: %d concurrent invocations, limit %d", test.N, peak, test.Limit)
		}
	}
}

func TestTraverseCancelsOnError(t *testing.T) {
	var (
		canceled int32
		started  = make(chan struct{})
	)
	err := traverse.Limit(2).Each(context.Background(), 2, func(ctx context.Context, i int) error {
		if i == 0 {
			// Fail only once the sibling is running.
			<-started
			return errors.New("first")
		}
		close(started)
		<-ctx.Done()
		atomic.AddInt32(&canceled, 1)
		return nil
	})
	if err == nil || err.Error() != "first" {
		t.Fatalf("got %v", err)
	}
	if atomic.LoadInt32(&canceled) != 1 {
		t.Error("sibling was not canceled")
	}
}

func TestTraverseStopsOnError(t *testing.T) {
	var calls int32
	err := traverse.Limit(1).Each(context.Background(), 5, func(ctx context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("stop")
	})
	if err == nil || err.Error() != "stop" {
		t.Fatalf("got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("%d invocations after the first failure, want 1", n)
	}
}

func TestPanic(t *testing.T) {
	v := recovered(func() {
		traverse.Each(context.Background(), 3, func(_ context.Context, i int) error {
			if i == 1 {
				panic("shard 1")
			}
			return nil
		})
	})
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "shard 1") {
		t.Errorf("got %v", v)
	}
}
