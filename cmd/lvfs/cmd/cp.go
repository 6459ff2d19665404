// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/traverse"
)

func Cp(ctx context.Context, env *Env, args []string) error {
	var (
		flags         flag.FlagSet
		verboseFlag   = flags.Bool("v", false, "Enable verbose logging")
		recursiveFlag = flags.Bool("R", false, "Recursive copy")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()
	nArg := len(args)
	if nArg < 2 {
		return errors.E(errors.Invalid, "usage: cp src... dst")
	}
	dstArg := args[nArg-1]
	if _, hasGlob := parseGlob(dstArg); hasGlob {
		return errors.E(errors.Invalid, fmt.Sprintf("cp: destination %s cannot be a glob", dstArg))
	}
	dst, err := env.Factory.Resolve(ctx, dstArg)
	if err != nil {
		return err
	}
	srcs, err := expandGlobs(ctx, env, args[:nArg-1])
	if err != nil {
		return err
	}

	// Copy a regular file, or a directory tree with -R.
	copyFile := func(ctx context.Context, src, dst file.Location) error {
		info, err := file.Stat(ctx, src)
		if err != nil {
			return errors.E("cp", src.String(), err)
		}
		if info.IsDir && !*recursiveFlag {
			return errors.E(errors.Invalid, fmt.Sprintf("cp: %s is a directory (not copied without -R)", src))
		}
		if *verboseFlag {
			fmt.Fprintf(env.Stderr, "%s -> %s\n", src, dst) // nolint: errcheck
		}
		return file.Copy(ctx, src, dst)
	}
	copyFileInDir := func(ctx context.Context, src file.Location) error {
		return copyFile(ctx, src, dst.Join(src.Base()))
	}

	if len(srcs) == 1 {
		if strings.HasSuffix(dstArg, "/") {
			return copyFileInDir(ctx, srcs[0])
		}
		isDir, err := file.IsDir(ctx, dst)
		if err != nil {
			return err
		}
		if isDir {
			return copyFileInDir(ctx, srcs[0])
		}
		return copyFile(ctx, srcs[0], dst)
	}
	return traverse.Limit(parallelism).Each(ctx, len(srcs), func(ctx context.Context, i int) error {
		return copyFileInDir(ctx, srcs[i])
	})
}
