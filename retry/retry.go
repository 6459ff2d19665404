// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package retry contains utilities for implementing retry logic.
// Within lvfs the only retry is endpoint failover: a WebHDFS profile
// may list several namenode candidates, and a request that cannot
// reach one moves on to the next, each exactly once.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/lowes/lvfs/errors"
)

// A Policy is an interface that abstracts retry policies. Typically
// users will not call methods directly on a Policy but rather use
// the package function retry.Wait.
type Policy interface {
	// Retry tells whether the a new retry should be attempted,
	// and after how long.
	Retry(retry int) (bool, time.Duration)
}

// Wait queries the provided policy at the provided retry number and
// sleeps until the next try should be attempted. Wait returns an
// error if the policy prohibits further tries or if the context was
// canceled, or if its deadline would run out while waiting for the
// next try.
func Wait(ctx context.Context, policy Policy, retry int) error {
	keepgoing, wait := policy.Retry(retry)
	if !keepgoing {
		return errors.E(errors.TooManyTries, fmt.Sprintf("gave up after %d tries", retry))
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		return errors.E(errors.Timeout, "ran out of time while waiting for retry")
	}
	if wait == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type maxtries struct {
	policy Policy
	max    int
}

// MaxTries returns a policy that enforces a maximum number of
// attempts. The provided policy is invoked when the current number
// of tries is within the permissible limit. If policy is nil, the
// returned policy will permit an immediate retry when the number of
// tries is within the allowable limits.
func MaxTries(policy Policy, n int) Policy {
	if n < 1 {
		panic("retry.MaxTries: n < 1")
	}
	return &maxtries{policy, n - 1}
}

func (m *maxtries) Retry(retries int) (bool, time.Duration) {
	if retries > m.max {
		return false, time.Duration(0)
	}
	if m.policy != nil {
		return m.policy.Retry(retries)
	}
	return true, time.Duration(0)
}

// Failover calls try with candidate indices 0, 1, ... n-1 in order,
// stopping at the first call that returns nil or an error for which
// next returns false. Each candidate is tried at most once. The
// returned index is the candidate that produced the final result.
// When every candidate fails with a retriable error, the errors are
// returned in candidate order so the caller can report all of them.
func Failover(ctx context.Context, n int, next func(error) bool, try func(i int) error) (int, []error) {
	if n < 1 {
		return -1, []error{errors.E(errors.Invalid, "retry.Failover: no candidates")}
	}
	policy := MaxTries(nil, n)
	var errs []error
	for i := 0; ; i++ {
		err := try(i)
		if err == nil {
			return i, nil
		}
		errs = append(errs, err)
		if !next(err) {
			return i, errs
		}
		if werr := Wait(ctx, policy, i+1); werr != nil {
			if errors.Is(errors.TooManyTries, werr) {
				return i, errs
			}
			return i, append(errs, werr)
		}
	}
}
