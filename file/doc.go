// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package file provides location handles that address files and
// directories on several storage backends through one interface.
//
// # Overview
//
// A Location is an immutable, absolute handle: a scheme, a host, a path
// that always begins with "/", and the Backend it is bound to. Locations
// are produced by a Factory, which parses the location string, asks its
// Resolver (normally a realm.Registry) which configured profile applies,
// and binds the handle to that profile's backend session. Local paths
// need no profile and bind to the local backend directly.
//
//	f := lvfs.New(cfg)               // or file.NewFactory(registry)
//	loc, err := f.Resolve(ctx, "hdfs://cluster/data/events")
//	data, err := file.ReadAll(ctx, loc.Join("part-00000.json"))
//
// # Backends
//
// Every backend implements the same small set of primitives: Stat, List,
// ReadAll, WriteAll, Remove and Mkdir. Backends declare their
// capabilities; a backend that can only buffer whole objects (GCS, for
// example) says so, and composed operations never assume streaming.
//
// # Composition
//
// Everything else (recursive copy, move, remove-all, disk usage, walking,
// structured reads of sharded and partitioned tables) is written once,
// here, in terms of those primitives. Copy buffers one file at a time, so
// its memory use is bounded by the largest single file; it is not
// suitable for multi-gigabyte objects.
//
// # Errors
//
// Backends translate their client libraries' errors into the kinds of
// package github.com/lowes/lvfs/errors. A missing path is always
// errors.NotExist, so callers can tell "absent" from other failures.
package file
