// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loadingcache

import (
	"context"
	"sync"
)

// Map is a keyed collection of Values. Map{} is ready to use.
// Maps are concurrency-safe. They must not be copied.
//
// Loads of distinct keys proceed in parallel; loads of the same key
// are serialized by that key's Value.
type Map[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*Value[V]
}

func (m *Map[K, V]) value(key K) *Value[V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.m == nil {
		m.m = make(map[K]*Value[V])
	}
	v, ok := m.m[key]
	if !ok {
		v = new(Value[V])
		m.m[key] = v
	}
	return v
}

// GetOrLoad returns the value stored for key, loading it with load if
// there is none.
func (m *Map[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	return m.value(key).GetOrLoad(ctx, load)
}

// DeleteAll empties the map and returns every value that had been
// loaded. Loads in progress finish before their values are collected.
func (m *Map[K, V]) DeleteAll() []V {
	m.mu.Lock()
	values := m.m
	m.m = nil
	m.mu.Unlock()
	var loaded []V
	for _, v := range values {
		if val, ok := v.Reset(); ok {
			loaded = append(loaded, val)
		}
	}
	return loaded
}

// Len returns the number of keys whose values are currently loaded.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	values := make([]*Value[V], 0, len(m.m))
	for _, v := range m.m {
		values = append(values, v)
	}
	m.mu.Unlock()
	n := 0
	for _, v := range values {
		if _, ok := v.Peek(); ok {
			n++
		}
	}
	return n
}
