// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loadingcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lowes/lvfs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCachesSuccess(t *testing.T) {
	ctx := context.Background()
	var v Value[int]
	got, err := v.GetOrLoad(ctx, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	got, err = v.GetOrLoad(ctx, loadFail)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestValueDoesNotCacheError(t *testing.T) {
	ctx := context.Background()
	var v Value[string]
	_, err := v.GetOrLoad(ctx, func(context.Context) (string, error) {
		return "", errors.E(errors.Tunnel, "jump host refused")
	})
	assert.True(t, errors.Is(errors.Tunnel, err))
	_, ok := v.Peek()
	assert.False(t, ok)

	got, err := v.GetOrLoad(ctx, func(context.Context) (string, error) { return "session", nil })
	require.NoError(t, err)
	assert.Equal(t, "session", got)
}

func TestValuePanic(t *testing.T) {
	var v Value[int]
	_, err := v.GetOrLoad(context.Background(), func(context.Context) (int, error) { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	_, ok := v.Peek()
	assert.False(t, ok)
}

func TestValueReset(t *testing.T) {
	ctx := context.Background()
	var v Value[int]
	_, err := v.GetOrLoad(ctx, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	old, ok := v.Reset()
	assert.True(t, ok)
	assert.Equal(t, 7, old)
	got, err := v.GetOrLoad(ctx, func(context.Context) (int, error) { return 8, nil })
	require.NoError(t, err)
	assert.Equal(t, 8, got)
}

func TestValueCancellation(t *testing.T) {
	var v Value[int]

	release := make(chan struct{})
	started := make(chan struct{})
	result1 := make(chan error)
	go func() {
		_, err := v.GetOrLoad(context.Background(), func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		result1 <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	result2 := make(chan error)
	go func() {
		_, err := v.GetOrLoad(ctx, loadFail)
		result2 <- err
	}()
	cancel()
	err2 := <-result2
	assert.True(t, errors.Is(errors.Canceled, err2), "got: %v", err2)

	close(release)
	require.NoError(t, <-result1)
	got, ok := v.Peek()
	assert.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestMapSingleConstruction(t *testing.T) {
	var (
		m     Map[int, *int32]
		loads int32
		wg    sync.WaitGroup
	)
	const N = 64
	results := make([]*int32, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetOrLoad(context.Background(), 0, func(context.Context) (*int32, error) {
				n := atomic.AddInt32(&loads, 1)
				return &n, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 1, m.Len())
}

func TestMapDeleteAll(t *testing.T) {
	ctx := context.Background()
	var m Map[string, string]
	for _, k := range []string{"a", "b"} {
		k := k
		_, err := m.GetOrLoad(ctx, k, func(context.Context) (string, error) { return k + "!", nil })
		require.NoError(t, err)
	}
	_, err := m.GetOrLoad(ctx, "c", func(context.Context) (string, error) { return "", errors.New("no") })
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"a!", "b!"}, m.DeleteAll())
	assert.Equal(t, 0, m.Len())
}

func loadFail[T any](context.Context) (T, error) {
	panic("unexpected load")
}
