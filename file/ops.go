// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
	"golang.org/x/sync/errgroup"
)

// removeParallelism bounds the number of concurrent removes issued by
// RemoveAll.
const removeParallelism = 16

func bound(loc Location) error {
	if loc.backend == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("%q is not bound to a backend", loc.String()))
	}
	return nil
}

// Stat returns metadata for loc. It returns an error of kind
// errors.NotExist if there is nothing at loc.
func Stat(ctx context.Context, loc Location) (Info, error) {
	if err := bound(loc); err != nil {
		return Info{}, err
	}
	return loc.backend.Stat(ctx, loc)
}

// Exists tells whether anything is at loc. Errors other than NotExist
// are returned.
func Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := Stat(ctx, loc)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(errors.NotExist, err):
		return false, nil
	default:
		return false, err
	}
}

// IsDir tells whether loc is a directory. A missing location is not a
// directory. On object stores, a prefix with objects below it counts as a
// directory.
func IsDir(ctx context.Context, loc Location) (bool, error) {
	info, err := Stat(ctx, loc)
	switch {
	case err == nil:
		return info.IsDir, nil
	case errors.Is(errors.NotExist, err):
		return false, nil
	default:
		return false, err
	}
}

// List returns the locations below loc in path order. See
// Backend.List for the meaning of recursive.
func List(ctx context.Context, loc Location, recursive bool) ([]Location, error) {
	entries, err := listEntries(ctx, loc, recursive)
	if err != nil {
		return nil, err
	}
	locs := make([]Location, len(entries))
	for i, e := range entries {
		locs[i] = loc.WithPath(e.Path)
	}
	return locs, nil
}

// ListRecursive returns every file below loc, flattened and sorted by
// full path.
func ListRecursive(ctx context.Context, loc Location) ([]Location, error) {
	return List(ctx, loc, true)
}

// ListEntries is List with each location's metadata. Entry paths are
// absolute paths on loc's host.
func ListEntries(ctx context.Context, loc Location, recursive bool) ([]Entry, error) {
	return listEntries(ctx, loc, recursive)
}

func listEntries(ctx context.Context, loc Location, recursive bool) ([]Entry, error) {
	if err := bound(loc); err != nil {
		return nil, err
	}
	entries, err := loc.backend.List(ctx, loc, recursive)
	if err != nil {
		return nil, err
	}
	if !sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path }) {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	}
	return entries, nil
}

// ReadAll returns the content of the file at loc.
func ReadAll(ctx context.Context, loc Location) ([]byte, error) {
	if err := bound(loc); err != nil {
		return nil, err
	}
	return loc.backend.ReadAll(ctx, loc)
}

// WriteAll creates or replaces the file at loc with data.
func WriteAll(ctx context.Context, loc Location, data []byte) error {
	if err := bound(loc); err != nil {
		return err
	}
	return loc.backend.WriteAll(ctx, loc, data)
}

// Remove removes the single file, or empty directory, at loc.
func Remove(ctx context.Context, loc Location) error {
	if err := bound(loc); err != nil {
		return err
	}
	return loc.backend.Remove(ctx, loc)
}

// Mkdir creates the directory loc and its parents.
func Mkdir(ctx context.Context, loc Location) error {
	if err := bound(loc); err != nil {
		return err
	}
	return loc.backend.Mkdir(ctx, loc)
}

// OpenStream opens loc for streaming reads. It returns an error of kind
// errors.NotSupported if loc's backend can only buffer whole files.
func OpenStream(ctx context.Context, loc Location) (io.ReadCloser, error) {
	if err := bound(loc); err != nil {
		return nil, err
	}
	s, ok := loc.backend.(Streamer)
	if !ok || !loc.backend.Capabilities().Streaming {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("open %s: %s cannot stream", loc, loc.backend))
	}
	return s.Open(ctx, loc)
}

// Copy copies src to dst. If src is a file, its content becomes dst. If
// src is a directory, every file below it is copied to the same relative
// path below dst, so copying /a/b to /d/e copies /a/b/x/y to /d/e/x/y.
// Copying an empty tree does nothing.
//
// Each file is read in full with ReadAll and written with WriteAll, one
// file at a time: memory use is bounded by the largest single file, and
// Copy is unsuitable for multi-gigabyte files.
func Copy(ctx context.Context, src, dst Location) error {
	info, err := Stat(ctx, src)
	if err != nil {
		return errors.E(fmt.Sprintf("copy %s -> %s", src, dst), err)
	}
	if !info.IsDir {
		return copyFile(ctx, src, dst)
	}
	files, err := ListRecursive(ctx, src)
	if err != nil {
		return errors.E(fmt.Sprintf("copy %s -> %s", src, dst), err)
	}
	for _, f := range files {
		rel, err := f.Rel(src)
		if err != nil {
			return err
		}
		if err := copyFile(ctx, f, dst.Join(rel)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(ctx context.Context, src, dst Location) error {
	data, err := ReadAll(ctx, src)
	if err != nil {
		return errors.E(fmt.Sprintf("copy %s -> %s", src, dst), err)
	}
	if err := WriteAll(ctx, dst, data); err != nil {
		return errors.E(fmt.Sprintf("copy %s -> %s", src, dst), err)
	}
	log.Debug.Printf("copied %s -> %s (%d bytes)", src, dst, len(data))
	return nil
}

// Move copies src to dst and then removes src. It is not atomic: a
// failure while removing leaves both copies in place.
func Move(ctx context.Context, src, dst Location) error {
	if src.Equal(dst) {
		return nil
	}
	if err := Copy(ctx, src, dst); err != nil {
		return err
	}
	return RemoveAll(ctx, src)
}

// RemoveAll removes loc and everything below it. Files are removed
// concurrently; on backends with directories, the emptied directories
// are then removed deepest first. Removing a missing location succeeds.
func RemoveAll(ctx context.Context, loc Location) error {
	info, err := Stat(ctx, loc)
	if errors.Is(errors.NotExist, err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir {
		return Remove(ctx, loc)
	}
	var files, dirs []Location
	err = Walk(ctx, loc, func(dir Location, _ []Location, fs []Location) error {
		dirs = append(dirs, dir)
		files = append(files, fs...)
		return nil
	})
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(removeParallelism)
	for _, f := range files {
		f := f
		g.Go(func() error {
			err := Remove(gctx, f)
			if errors.Is(errors.NotExist, err) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if !loc.backend.Capabilities().Directories {
		return nil
	}
	sort.Slice(dirs, func(i, j int) bool { return depth(dirs[i]) > depth(dirs[j]) })
	for _, d := range dirs {
		if err := Remove(ctx, d); err != nil && !errors.Is(errors.NotExist, err) {
			return err
		}
	}
	return nil
}

func depth(loc Location) int {
	return strings.Count(loc.Path(), "/")
}

// Walk visits the directory tree rooted at loc top-down. For each
// directory it calls fn with the directory, its subdirectories, and its
// files, each sorted by path. If fn returns an error the walk stops and
// returns it.
func Walk(ctx context.Context, loc Location, fn func(dir Location, dirs, files []Location) error) error {
	todo := []Location{loc}
	for len(todo) > 0 {
		dir := todo[0]
		todo = todo[1:]
		entries, err := listEntries(ctx, dir, false)
		if err != nil {
			return err
		}
		var dirs, files []Location
		for _, e := range entries {
			child := dir.WithPath(e.Path)
			if child.Equal(dir) {
				continue
			}
			if e.IsDir {
				dirs = append(dirs, child)
			} else {
				files = append(files, child)
			}
		}
		if err := fn(dir, dirs, files); err != nil {
			return err
		}
		todo = append(dirs, todo...)
	}
	return nil
}

// Du returns the total size in bytes of the file at loc, or of every file
// below it.
func Du(ctx context.Context, loc Location) (int64, error) {
	entries, err := listEntries(ctx, loc, true)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		n += e.Size
	}
	return n, nil
}

// MTimeRange returns the oldest and newest modification times of the
// files at or below loc. If recursive is false, only direct children are
// considered. It returns an error of kind errors.NotExist if there are no
// files to consider.
func MTimeRange(ctx context.Context, loc Location, recursive bool) (oldest, newest time.Time, err error) {
	entries, err := listEntries(ctx, loc, recursive)
	if err != nil {
		return oldest, newest, err
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if oldest.IsZero() || e.ModTime.Before(oldest) {
			oldest = e.ModTime
		}
		if newest.IsZero() || e.ModTime.After(newest) {
			newest = e.ModTime
		}
	}
	if oldest.IsZero() {
		return oldest, newest, errors.E(errors.NotExist, fmt.Sprintf("mtime %s: no files", loc))
	}
	return oldest, newest, nil
}

// ForceLocal returns a local copy of the file at loc, for libraries that
// only accept filenames. A local loc is returned unchanged. Otherwise the
// file is copied into a new temporary file whose name keeps loc's
// extension; the caller is responsible for removing it.
func ForceLocal(ctx context.Context, loc Location) (Location, error) {
	if loc.IsLocal() {
		return loc, nil
	}
	data, err := ReadAll(ctx, loc)
	if err != nil {
		return Location{}, err
	}
	f, err := os.CreateTemp("", "lvfs-*"+path.Ext(loc.Path()))
	if err != nil {
		return Location{}, errors.E(fmt.Sprintf("force local %s", loc), err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return Location{}, errors.E(fmt.Sprintf("force local %s", loc), err)
	}
	local := Location{path: name, backend: NewLocal()}
	if err := WriteAll(ctx, local, data); err != nil {
		return Location{}, err
	}
	return local, nil
}
