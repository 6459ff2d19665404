// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"io"
	"sync"
	"time"
)

// Backend implements the primitive operations for one storage variant.
// Paths are the path component of a Location; a backend that needs the
// host (a bucket or an endpoint) reads it from the Location.
type Backend interface {
	// String returns a diagnostic name, such as "webhdfs(http://nn1:50070)".
	String() string

	// Stat returns metadata for the file or directory at loc. It returns an
	// error of kind errors.NotExist if there is nothing at loc.
	Stat(ctx context.Context, loc Location) (Info, error)

	// List returns the entries below loc, sorted by path. If recursive is
	// false, it returns the direct children of loc, files and directories
	// alike. If recursive is true, it returns every descendant file and no
	// directories. If loc is a file, List returns that file alone. It
	// returns an error of kind errors.NotExist if there is nothing at loc.
	List(ctx context.Context, loc Location, recursive bool) ([]Entry, error)

	// ReadAll returns the full content of the file at loc.
	ReadAll(ctx context.Context, loc Location) ([]byte, error)

	// WriteAll creates or replaces the file at loc. Backends with
	// directories create missing parents.
	WriteAll(ctx context.Context, loc Location, data []byte) error

	// Remove removes the file, or the empty directory, at loc.
	Remove(ctx context.Context, loc Location) error

	// Mkdir creates the directory at loc and its parents. It is a no-op
	// on backends without directories.
	Mkdir(ctx context.Context, loc Location) error

	// Capabilities declares what the backend can do.
	Capabilities() Capabilities
}

// Streamer is implemented by backends that can read a file without
// buffering all of it.
type Streamer interface {
	Open(ctx context.Context, loc Location) (io.ReadCloser, error)
}

// Capabilities is a backend's declared flag set.
type Capabilities struct {
	// Streaming is true if the backend implements Streamer.
	Streaming bool
	// Directories is true if directories exist independently of their
	// contents. On object stores a "directory" is only a key prefix.
	Directories bool
	// ConcurrentSafe is true if the backend's primitives may be called
	// from several goroutines at once. Sessions of backends that are not
	// concurrent-safe are wrapped with Serialize.
	ConcurrentSafe bool
}

// Info is file or directory metadata.
type Info struct {
	Exists  bool
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Entry is one result of a listing: an absolute path on the listed
// location's host, and its metadata.
type Entry struct {
	Path string
	Info
}

// Serialize returns a backend that forwards to b while holding a mutex,
// so that at most one primitive runs at a time.
func Serialize(b Backend) Backend {
	if _, ok := b.(*serialized); ok {
		return b
	}
	return &serialized{b: b}
}

type serialized struct {
	mu sync.Mutex
	b  Backend
}

func (s *serialized) String() string { return s.b.String() }

func (s *serialized) Stat(ctx context.Context, loc Location) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Stat(ctx, loc)
}

func (s *serialized) List(ctx context.Context, loc Location, recursive bool) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.List(ctx, loc, recursive)
}

func (s *serialized) ReadAll(ctx context.Context, loc Location) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.ReadAll(ctx, loc)
}

func (s *serialized) WriteAll(ctx context.Context, loc Location, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.WriteAll(ctx, loc, data)
}

func (s *serialized) Remove(ctx context.Context, loc Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Remove(ctx, loc)
}

func (s *serialized) Mkdir(ctx context.Context, loc Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Mkdir(ctx, loc)
}

func (s *serialized) Capabilities() Capabilities {
	c := s.b.Capabilities()
	c.ConcurrentSafe = true
	// A stream outlives the call that opened it, so it cannot be guarded.
	c.Streaming = false
	return c
}

// Close closes the wrapped backend if it is an io.Closer.
func (s *serialized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
