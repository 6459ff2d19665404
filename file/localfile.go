// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
)

// localImpl is the backend for the local filesystem. It is safe for
// concurrent use and streams reads.
type localImpl struct{}

// NewLocal returns the local filesystem backend.
func NewLocal() Backend { return localImpl{} }

func (localImpl) String() string { return "local" }

func (localImpl) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Directories: true, ConcurrentSafe: true}
}

func osPath(loc Location) string {
	return filepath.FromSlash(loc.Path())
}

func annotate(op string, loc Location, err error) error {
	return errors.E(fmt.Sprintf("%s %s", op, loc), err)
}

// Stat implements Backend.
func (localImpl) Stat(_ context.Context, loc Location) (Info, error) {
	info, err := os.Stat(osPath(loc))
	if err != nil {
		return Info{}, annotate("stat", loc, err)
	}
	return localInfo(info), nil
}

func localInfo(info os.FileInfo) Info {
	i := Info{Exists: true, ModTime: info.ModTime(), IsDir: info.IsDir()}
	if !info.IsDir() {
		i.Size = info.Size()
	}
	return i
}

// List implements Backend.
func (localImpl) List(_ context.Context, loc Location, recursive bool) ([]Entry, error) {
	root := osPath(loc)
	info, err := os.Stat(root)
	if err != nil {
		return nil, annotate("list", loc, err)
	}
	if !info.IsDir() {
		return []Entry{{Path: loc.Path(), Info: localInfo(info)}}, nil
	}
	var (
		entries []Entry
		todo    = []string{root}
	)
	for len(todo) > 0 {
		dir := todo[0]
		todo = todo[1:]
		names, err := readDirNames(dir)
		if err != nil {
			return nil, annotate("list", loc, err)
		}
		for _, name := range names {
			p := filepath.Join(dir, name)
			info, err := os.Stat(p)
			if os.IsNotExist(err) {
				// Removed, or a dangling symlink.
				continue
			}
			if err != nil {
				return nil, annotate("list", loc, err)
			}
			if info.IsDir() && recursive {
				todo = append(todo, p)
				continue
			}
			entries = append(entries, Entry{Path: filepath.ToSlash(p), Info: localInfo(info)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// readDirNames reads the directory named by dirname and returns
// a sorted list of directory entries.
func readDirNames(dirname string) ([]string, error) {
	f, err := os.Open(dirname)
	if err != nil {
		return nil, err
	}
	names, err := f.Readdirnames(-1)
	if e := f.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ReadAll implements Backend.
func (localImpl) ReadAll(_ context.Context, loc Location) ([]byte, error) {
	data, err := os.ReadFile(osPath(loc))
	if err != nil {
		return nil, annotate("read", loc, err)
	}
	return data, nil
}

// Open implements Streamer.
func (localImpl) Open(_ context.Context, loc Location) (io.ReadCloser, error) {
	f, err := os.Open(osPath(loc))
	if err != nil {
		return nil, annotate("open", loc, err)
	}
	return f, nil
}

// WriteAll implements Backend. To make writes appear atomic, it writes a
// temporary file next to the destination and renames it into place.
func (localImpl) WriteAll(_ context.Context, loc Location, data []byte) (err error) {
	path := osPath(loc)
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		// The file does not exist yet, or is a dangling symlink.
		realPath = path
	}
	dir := filepath.Dir(realPath)
	if err = os.MkdirAll(dir, 0777); err != nil {
		return annotate("write", loc, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(realPath)+".tmp")
	if err != nil {
		return annotate("write", loc, err)
	}
	defer func() {
		if err != nil {
			if rerr := os.Remove(f.Name()); rerr != nil && !os.IsNotExist(rerr) {
				log.Printf("write %s: remove temporary %s: %v", loc, f.Name(), rerr)
			}
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close() // nolint: errcheck
		return annotate("write", loc, err)
	}
	if err = f.Sync(); err != nil {
		f.Close() // nolint: errcheck
		return annotate("write", loc, err)
	}
	if err = f.Close(); err != nil {
		return annotate("write", loc, err)
	}
	if err = os.Chmod(f.Name(), 0644); err != nil {
		return annotate("write", loc, err)
	}
	if err = os.Rename(f.Name(), realPath); err != nil {
		return annotate("write", loc, err)
	}
	return nil
}

// Remove implements Backend.
func (localImpl) Remove(_ context.Context, loc Location) error {
	if err := os.Remove(osPath(loc)); err != nil {
		return annotate("remove", loc, err)
	}
	return nil
}

// Mkdir implements Backend.
func (localImpl) Mkdir(_ context.Context, loc Location) error {
	if err := os.MkdirAll(osPath(loc), 0777); err != nil {
		return annotate("mkdir", loc, err)
	}
	return nil
}
