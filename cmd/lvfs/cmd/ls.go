// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/lowes/lvfs/file"
)

func Ls(ctx context.Context, env *Env, args []string) error {
	var (
		flags          flag.FlagSet
		longOutputFlag = flags.Bool("l", false, "Print file size and last modification time")
		recursiveFlag  = flags.Bool("R", false, "Descend into directories recursively")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	type result struct {
		err   error
		lines chan string // stream of entries found for an arg, closed when done
	}
	longOutput := func(loc file.Location, info file.Info) string {
		const iso8601 = "2006-01-02T15:04:05-0700"
		return fmt.Sprintf("%s\t%d\t%s", loc, info.Size, info.ModTime.Format(iso8601))
	}
	locs, err := expandGlobs(ctx, env, flags.Args())
	if err != nil {
		return err
	}
	results := make([]result, len(locs))
	for i := range locs {
		results[i].lines = make(chan string, 10000)
		go func(loc file.Location, r *result) {
			defer close(r.lines)
			info, err := file.Stat(ctx, loc)
			if err != nil {
				r.err = err
				return
			}
			if !info.IsDir {
				if *longOutputFlag {
					r.lines <- longOutput(loc, info)
				} else {
					r.lines <- loc.String()
				}
				return
			}
			entries, err := file.ListEntries(ctx, loc, *recursiveFlag)
			if err != nil {
				r.err = err
				return
			}
			for _, e := range entries {
				child := loc.WithPath(e.Path)
				switch {
				case e.IsDir:
					r.lines <- child.String() + "/"
				case *longOutputFlag:
					r.lines <- longOutput(child, e.Info)
				default:
					r.lines <- child.String()
				}
			}
		}(locs[i], &results[i])
	}
	// Print the results in order.
	for i := range results {
		for line := range results[i].lines {
			_, _ = fmt.Fprintln(env.Stdout, line)
		}
		if err2 := results[i].err; err2 != nil && err == nil {
			err = err2
		}
	}
	return err
}
