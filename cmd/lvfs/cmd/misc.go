// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
)

func Mv(ctx context.Context, env *Env, args []string) error {
	if len(args) != 2 {
		return errors.E(errors.Invalid, "usage: mv src dst")
	}
	src, err := env.Factory.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	dst, err := env.Factory.Resolve(ctx, args[1])
	if err != nil {
		return err
	}
	isDir, err := file.IsDir(ctx, dst)
	if err != nil {
		return err
	}
	if isDir || strings.HasSuffix(args[1], "/") {
		dst = dst.Join(src.Base())
	}
	return file.Move(ctx, src, dst)
}

func Mkdir(ctx context.Context, env *Env, args []string) error {
	for _, arg := range args {
		loc, err := env.Factory.Resolve(ctx, arg)
		if err != nil {
			return err
		}
		if err := file.Mkdir(ctx, loc); err != nil {
			return err
		}
	}
	return nil
}

func Stat(ctx context.Context, env *Env, args []string) error {
	locs, err := expandGlobs(ctx, env, args)
	if err != nil {
		return err
	}
	for _, loc := range locs {
		info, err := file.Stat(ctx, loc)
		if err != nil {
			return err
		}
		kind := "file"
		if info.IsDir {
			kind = "dir"
		}
		fmt.Fprintf(env.Stdout, "%s\t%d\t%s\t%s\n", loc, info.Size, info.ModTime.Format("2006-01-02T15:04:05-0700"), kind) // nolint: errcheck
	}
	return nil
}

func Du(ctx context.Context, env *Env, args []string) error {
	locs, err := expandGlobs(ctx, env, args)
	if err != nil {
		return err
	}
	for _, loc := range locs {
		n, err := file.Du(ctx, loc)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "%d\t%s\n", n, loc) // nolint: errcheck
	}
	return nil
}

// Realms prints the loaded profiles in the order locations are matched
// against them. Secrets are masked.
func Realms(ctx context.Context, env *Env, args []string) error {
	config := env.Registry.Config()
	if config.Path != "" {
		fmt.Fprintf(env.Stdout, "# %s\n", config.Path) // nolint: errcheck
	}
	for _, p := range env.Registry.Profiles() {
		fmt.Fprintln(env.Stdout, p.String()) // nolint: errcheck
	}
	return nil
}
