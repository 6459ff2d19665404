// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lowes/lvfs/errors"
)

func TestMaxTries(t *testing.T) {
	policy := MaxTries(nil, 3)
	for retries, want := range []bool{true, true, true, false} {
		keepgoing, dur := policy.Retry(retries)
		if keepgoing != want {
			t.Errorf("retry %d: got %v, want %v", retries, keepgoing, want)
		}
		if dur != 0 {
			t.Errorf("retry %d: got wait %v", retries, dur)
		}
	}
}

func TestWaitCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got, want := Wait(ctx, MaxTries(nil, 2), 0), context.Canceled; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWaitExhausted(t *testing.T) {
	err := Wait(context.Background(), MaxTries(nil, 1), 1)
	if !errors.Is(errors.TooManyTries, err) {
		t.Errorf("got %v, want TooManyTries", err)
	}
}

type slowPolicy struct{}

func (slowPolicy) Retry(int) (bool, time.Duration) { return true, time.Hour }

func TestWaitDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if got, want := Wait(ctx, slowPolicy{}, 0), errors.E(errors.Timeout); !errors.Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFailover(t *testing.T) {
	unreachable := func(err error) bool { return errors.Is(errors.Unreachable, err) }
	for _, c := range []struct {
		name   string
		fail   map[int]error
		n      int
		want   int
		nerrs  int
		ntried int
	}{
		{"first", nil, 3, 0, 0, 1},
		{"last", map[int]error{0: errors.E(errors.Unreachable), 1: errors.E(errors.Unreachable)}, 3, 2, 0, 3},
		{"all", map[int]error{0: errors.E(errors.Unreachable), 1: errors.E(errors.Unreachable), 2: errors.E(errors.Unreachable)}, 3, 2, 3, 3},
		{"fatal", map[int]error{0: errors.E(errors.Auth)}, 3, 0, 1, 1},
	} {
		t.Run(c.name, func(t *testing.T) {
			var tried []int
			got, errs := Failover(context.Background(), c.n, unreachable, func(i int) error {
				tried = append(tried, i)
				return c.fail[i]
			})
			if got != c.want {
				t.Errorf("got candidate %d, want %d", got, c.want)
			}
			if len(errs) != c.nerrs {
				t.Errorf("got %d errors, want %d: %v", len(errs), c.nerrs, errs)
			}
			if len(tried) != c.ntried {
				t.Errorf("tried %v, want %d candidates", tried, c.ntried)
			}
			for i, idx := range tried {
				if i != idx {
					t.Errorf("candidates tried out of order: %v", tried)
				}
			}
		})
	}
}

func ExampleFailover() {
	endpoints := []string{"nn1", "nn2", "nn3"}
	i, _ := Failover(context.Background(), len(endpoints),
		func(err error) bool { return errors.Is(errors.Unreachable, err) },
		func(i int) error {
			if endpoints[i] != "nn3" {
				return errors.E(errors.Unreachable, endpoints[i])
			}
			return nil
		})
	fmt.Println(endpoints[i])
	// Output: nn3
}
