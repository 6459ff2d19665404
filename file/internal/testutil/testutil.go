// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package testutil is a conformance suite for file.Backend
// implementations. Each backend's tests run TestAll against a scratch
// directory on that backend.
package testutil

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/grailbio/testutil/assert"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
)

func doWrite(ctx context.Context, t *testing.T, loc file.Location, data string) {
	assert.NoError(t, loc.Backend().WriteAll(ctx, loc, []byte(data)), "write: %v", loc)
}

func doRead(ctx context.Context, t *testing.T, loc file.Location) string {
	data, err := loc.Backend().ReadAll(ctx, loc)
	assert.NoError(t, err, "read: %v", loc)
	return string(data)
}

func exists(ctx context.Context, loc file.Location) bool {
	_, err := loc.Backend().Stat(ctx, loc)
	if err != nil && !errors.Is(errors.NotExist, err) {
		panic(err)
	}
	return err == nil
}

// TestNotExist tests that the backend reports NotExist for a path that
// does not exist.
func TestNotExist(ctx context.Context, t *testing.T, loc file.Location) {
	b := loc.Backend()
	_, err := b.Stat(ctx, loc)
	assert.True(t, errors.Is(errors.NotExist, err), "stat: %v", err)
	_, err = b.ReadAll(ctx, loc)
	assert.True(t, errors.Is(errors.NotExist, err), "read: %v", err)
	_, err = b.List(ctx, loc, true)
	assert.True(t, errors.Is(errors.NotExist, err), "list: %v", err)
	if s, ok := b.(file.Streamer); ok && b.Capabilities().Streaming {
		_, err = s.Open(ctx, loc)
		assert.True(t, errors.Is(errors.NotExist, err), "open: %v", err)
	}
}

// TestEmpty writes and reads back an empty file.
func TestEmpty(ctx context.Context, t *testing.T, loc file.Location) {
	doWrite(ctx, t, loc, "")
	assert.EQ(t, "", doRead(ctx, t, loc))
	info, err := loc.Backend().Stat(ctx, loc)
	assert.NoError(t, err)
	assert.EQ(t, int64(0), info.Size)
	assert.False(t, info.IsDir)
}

// TestWrites tests that WriteAll creates and replaces files.
func TestWrites(ctx context.Context, t *testing.T, dir file.Location) {
	loc := dir.Join("tmp.txt")
	doWrite(ctx, t, loc, "writetest")
	assert.EQ(t, "writetest", doRead(ctx, t, loc))
	doWrite(ctx, t, loc, "anotherwrite")
	assert.EQ(t, "anotherwrite", doRead(ctx, t, loc))
}

// TestStream tests Streamer implementations.
func TestStream(ctx context.Context, t *testing.T, loc file.Location) {
	s, ok := loc.Backend().(file.Streamer)
	if !ok || !loc.Backend().Capabilities().Streaming {
		t.Skipf("%s does not stream", loc.Backend())
	}
	expected := "A purple fox jumped over a blue cat"
	doWrite(ctx, t, loc, expected)
	r, err := s.Open(ctx, loc)
	assert.NoError(t, err)
	data, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.NoError(t, r.Close())
	assert.EQ(t, expected, string(data))
}

// TestRemove tests the backend's Remove method.
func TestRemove(ctx context.Context, t *testing.T, loc file.Location) {
	doWrite(ctx, t, loc, "removetest")
	assert.True(t, exists(ctx, loc))
	assert.NoError(t, loc.Backend().Remove(ctx, loc))
	assert.False(t, exists(ctx, loc))
}

// TestStat tests Stat on files and directories.
func TestStat(ctx context.Context, t *testing.T, loc file.Location) {
	// Allow a minute of clock skew against the file server.
	minModTime := time.Now().Add(-60 * time.Second)
	doWrite(ctx, t, loc, "stattest0")
	dir := loc.Dir().Join(loc.Base() + "dir")
	doWrite(ctx, t, dir.Join("file"), "stattest1")
	maxModTime := time.Now().Add(60 * time.Second)

	info, err := loc.Backend().Stat(ctx, loc)
	assert.NoError(t, err)
	assert.True(t, info.Exists)
	assert.False(t, info.IsDir)
	assert.EQ(t, int64(9), info.Size)
	assert.True(t, info.ModTime.After(minModTime) && info.ModTime.Before(maxModTime),
		"Info: %+v, min %+v, max %+v", info.ModTime, minModTime, maxModTime)

	info, err = loc.Backend().Stat(ctx, dir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir)
}

type dirEntry struct {
	path string
	size int64
}

func doList(ctx context.Context, t *testing.T, loc file.Location, recursive bool) (ents []dirEntry) {
	entries, err := loc.Backend().List(ctx, loc, recursive)
	assert.NoError(t, err, "list %v", loc)
	for _, e := range entries {
		de := dirEntry{e.Path, 0}
		if !e.IsDir {
			de.size = e.Size
		}
		ents = append(ents, de)
	}
	return
}

func writeTree(ctx context.Context, t *testing.T, dir file.Location) {
	doWrite(ctx, t, dir.Join("f0.txt"), "f0")
	doWrite(ctx, t, dir.Join("g0.txt"), "g12")
	doWrite(ctx, t, dir.Join("d0.txt"), "d0e1")
	doWrite(ctx, t, dir.Join("d0/f2.txt"), "d0/f23")
	doWrite(ctx, t, dir.Join("d0/d1/f3.txt"), "d0/f345")
}

// TestList tests recursive listing. Entries come back sorted by full
// path, without directories.
func TestList(ctx context.Context, t *testing.T, dir file.Location) {
	writeTree(ctx, t, dir)
	p := dir.Path()

	assert.EQ(t, []dirEntry{
		{p + "/f0.txt", 2},
	}, doList(ctx, t, dir.Join("f0.txt"), true))

	assert.EQ(t, []dirEntry{
		{p + "/d0.txt", 4},
		{p + "/d0/d1/f3.txt", 7},
		{p + "/d0/f2.txt", 6},
		{p + "/f0.txt", 2},
		{p + "/g0.txt", 3},
	}, doList(ctx, t, dir, true))

	// Listing "d0" excludes its sibling d0.txt.
	assert.EQ(t, []dirEntry{
		{p + "/d0/d1/f3.txt", 7},
		{p + "/d0/f2.txt", 6},
	}, doList(ctx, t, dir.Join("d0"), true))
}

// TestListDir tests non-recursive listing.
func TestListDir(ctx context.Context, t *testing.T, dir file.Location) {
	writeTree(ctx, t, dir)
	p := dir.Path()

	assert.EQ(t, []dirEntry{
		{p + "/d0", 0},
		{p + "/d0.txt", 4},
		{p + "/f0.txt", 2},
		{p + "/g0.txt", 3},
	}, doList(ctx, t, dir, false))

	assert.EQ(t, []dirEntry{
		{p + "/d0/d1", 0},
		{p + "/d0/f2.txt", 6},
	}, doList(ctx, t, dir.Join("d0"), false))
}

// TestEmptyDir tests an existing directory with nothing in it: it lists
// empty, copies as a no-op, and RemoveAll removes it. Backends whose
// directories exist only through their contents skip it; their tests
// cover empty buckets and directory markers instead.
func TestEmptyDir(ctx context.Context, t *testing.T, dir file.Location) {
	if err := file.Mkdir(ctx, dir); err != nil || !exists(ctx, dir) {
		t.Skipf("%s keeps no empty directories", dir.Backend())
	}
	CheckEmptyDir(ctx, t, dir, dir.Dir().Join(dir.Base()+"copy"))
}

// CheckEmptyDir checks the empty directory dir. Copying it to dst must
// create nothing.
func CheckEmptyDir(ctx context.Context, t *testing.T, dir, dst file.Location) {
	info, err := dir.Backend().Stat(ctx, dir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir)
	for _, recursive := range []bool{true, false} {
		entries, err := dir.Backend().List(ctx, dir, recursive)
		assert.NoError(t, err, "list %v recursive=%v", dir, recursive)
		assert.EQ(t, 0, len(entries))
	}
	assert.NoError(t, file.Copy(ctx, dir, dst))
	assert.False(t, exists(ctx, dst))
	assert.NoError(t, file.RemoveAll(ctx, dir))
	if dir.Backend().Capabilities().Directories {
		assert.False(t, exists(ctx, dir))
	}
}

// TestAll runs all the tests in this package against scratch directory
// dir, which must exist (or, on object stores, may be an unused prefix).
func TestAll(ctx context.Context, t *testing.T, dir file.Location) {
	name := dir.Backend().String()

	t.Run(name+"_NotExist", func(t *testing.T) { TestNotExist(ctx, t, dir.Join("notexist.txt")) })
	t.Run(name+"_Empty", func(t *testing.T) { TestEmpty(ctx, t, dir.Join("empty.txt")) })
	t.Run(name+"_Writes", func(t *testing.T) { TestWrites(ctx, t, dir.Join("writes")) })
	t.Run(name+"_Stream", func(t *testing.T) { TestStream(ctx, t, dir.Join("stream.txt")) })
	t.Run(name+"_Remove", func(t *testing.T) { TestRemove(ctx, t, dir.Join("remove.txt")) })
	t.Run(name+"_Stat", func(t *testing.T) { TestStat(ctx, t, dir.Join("stat.txt")) })
	t.Run(name+"_List", func(t *testing.T) { TestList(ctx, t, dir.Join("match")) })
	t.Run(name+"_ListDir", func(t *testing.T) { TestListDir(ctx, t, dir.Join("dirmatch")) })
	t.Run(name+"_EmptyDir", func(t *testing.T) { TestEmptyDir(ctx, t, dir.Join("emptydir")) })
}
