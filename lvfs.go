// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package lvfs joins the credential registry of package realm to the
// storage backends, and returns factories that resolve location strings
// on any of them:
//
//	factory, err := lvfs.Open()
//	if err != nil { ... }
//	defer factory.Close()
//	loc, err := factory.Resolve(ctx, "hdfs://cluster/warehouse/scores")
//	table, err := file.ReadStructured(ctx, loc, "parquet", file.ReadOpts{})
package lvfs

import (
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/file/gcsfile"
	"github.com/lowes/lvfs/file/miniofile"
	"github.com/lowes/lvfs/file/s3file"
	"github.com/lowes/lvfs/file/webhdfs"
	"github.com/lowes/lvfs/realm"
)

// Register sets the constructor of every backend variant on r.
func Register(r *realm.Registry) {
	r.Register(realm.WebHDFS, webhdfs.FromProfile)
	r.Register(realm.GCS, gcsfile.FromProfile)
	r.Register(realm.S3, s3file.FromProfile)
	r.Register(realm.Minio, miniofile.FromProfile)
}

// NewRegistry returns a registry over config with every backend
// registered.
func NewRegistry(config *realm.Config) *realm.Registry {
	r := realm.NewRegistry(config)
	Register(r)
	return r
}

// NewFactory returns a factory that resolves locations with the profiles
// of config. Closing the factory closes every session it opened.
func NewFactory(config *realm.Config) *file.Factory {
	return file.NewFactory(NewRegistry(config))
}

// Open loads the credential configuration (see realm.Load for the search
// path) and returns a factory over it.
func Open(paths ...string) (*file.Factory, error) {
	config, err := realm.Load(paths...)
	if err != nil {
		return nil, err
	}
	return NewFactory(config), nil
}
