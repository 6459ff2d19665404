// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/traverse"
)

func Rm(ctx context.Context, env *Env, args []string) error {
	var (
		flags         flag.FlagSet
		verboseFlag   = flags.Bool("v", false, "Enable verbose logging")
		recursiveFlag = flags.Bool("R", false, "Recursive remove")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	locs, err := expandGlobs(ctx, env, flags.Args())
	if err != nil {
		return err
	}
	return traverse.Each(ctx, len(locs), func(ctx context.Context, i int) error {
		loc := locs[i]
		if *verboseFlag {
			fmt.Fprintf(env.Stderr, "%s\n", loc) // nolint: errcheck
		}
		if *recursiveFlag {
			return file.RemoveAll(ctx, loc)
		}
		return file.Remove(ctx, loc)
	})
}
