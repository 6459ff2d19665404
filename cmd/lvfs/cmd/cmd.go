// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package cmd implements the subcommands of the lvfs tool.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"github.com/gobwas/glob/syntax"
	"github.com/gobwas/glob/syntax/ast"
	"github.com/lowes/lvfs"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/realm"
)

// Env is what the subcommands run against: the registry and factory
// built from one credential configuration, and the standard streams.
type Env struct {
	Registry *realm.Registry
	Factory  *file.Factory

	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

// NewEnv returns an environment over config, attached to the process's
// standard streams.
func NewEnv(config *realm.Config) *Env {
	r := lvfs.NewRegistry(config)
	return &Env{
		Registry: r,
		Factory:  file.NewFactory(r),
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

// Close tears down every session the environment opened.
func (e *Env) Close() error { return e.Factory.Close() }

var commands = []struct {
	name     string
	callback func(ctx context.Context, env *Env, args []string) error
	help     string
}{
	{"cat", Cat, `Cat prints contents of the files to the stdout. It supports globs defined in https://github.com/gobwas/glob.`},
	{"put", Put, `Put stores stdin to the provided location.`},
	{"ls", Ls, `List files. With -l, print size and modification time; with -R, descend into directories.`},
	{"rm", Rm, `Rm removes files; with -R it removes whole trees. It supports globs defined in https://github.com/gobwas/glob.`},
	{"cp", Cp, `Cp copies files. It can be invoked in three forms:

1. cp src dst
2. cp src dst/
3. cp src.... dstdir

The first form copies src to dst, unless dst is an existing directory,
in which case it copies src to dst/<base>, where <base> is the basename
of the source.

The second form copies src to dst/<base>.

The third form copies each of "src" to destdir/<base>.

Directories are copied only with -R. Locations may live on different
backends. This command supports globs defined in https://github.com/gobwas/glob.`},
	{"mv", Mv, `Mv moves src to dst by copying and then removing src.`},
	{"mkdir", Mkdir, `Mkdir creates directories, with their parents.`},
	{"stat", Stat, `Stat prints the size, modification time and type of each location.`},
	{"du", Du, `Du prints the total size in bytes of the files at or below each location.`},
	{"realms", Realms, `Realms prints the credential profiles in match order, without secrets.`},
}

// PrintHelp writes the subcommand summary to w.
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "Subcommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "%s: %s\n", c.name, c.help)
	}
}

// Run runs the subcommand named by args[0].
func Run(ctx context.Context, env *Env, args []string) error {
	if len(args) == 0 {
		PrintHelp(env.Stderr)
		return errors.E(errors.Invalid, "no subcommand given")
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.callback(ctx, env, args[1:])
		}
	}
	PrintHelp(env.Stderr)
	return errors.E(errors.Invalid, "unknown command", args[0])
}

const parallelism = 128

// parseGlob parses a string that potentially contains glob metacharacters, and
// returns (nonglobprefix, hasglob). If the string does not contain any glob
// metacharacter, this function returns (str, false). Else, it returns the
// prefix of path elements up to the element containing a glob character.
//
// For example, parseGlob("foo/bar/baz*/*.txt") returns ("foo/bar/", true).
func parseGlob(str string) (string, bool) {
	node, err := syntax.Parse(str)
	if err != nil {
		return str, false
	}
	if node.Kind != ast.KindPattern || len(node.Children) == 0 {
		return str, false
	}
	if node.Children[0].Kind != ast.KindText {
		return "", true
	}
	if len(node.Children) == 1 {
		return str, false
	}
	nonGlobPrefix := node.Children[0].Value.(ast.Text).Text
	if i := strings.LastIndexByte(nonGlobPrefix, '/'); i >= 0 {
		nonGlobPrefix = nonGlobPrefix[:i+1]
	} else {
		nonGlobPrefix = ""
	}
	return nonGlobPrefix, true
}

// expandGlob expands the given glob string into locations. If the string
// does not contain a glob metacharacter, or nothing matches, it resolves
// str itself.
func expandGlob(ctx context.Context, env *Env, str string) ([]file.Location, error) {
	literal := func() ([]file.Location, error) {
		loc, err := env.Factory.Resolve(ctx, str)
		if err != nil {
			return nil, err
		}
		return []file.Location{loc}, nil
	}
	nonGlobPrefix, hasGlob := parseGlob(str)
	if !hasGlob {
		return literal()
	}
	prefix := nonGlobPrefix
	if prefix == "" {
		prefix = "."
	}
	dir, err := env.Factory.Resolve(ctx, prefix)
	if err != nil {
		return nil, err
	}
	globSuffix := strings.TrimSuffix(str[len(nonGlobPrefix):], "/")
	// Local prefixes are made absolute by Resolve, so the pattern is
	// rebuilt on the resolved prefix.
	base := strings.TrimSuffix(dir.String(), "/") + "/"
	m, err := glob.Compile(base + globSuffix)
	if err != nil {
		return literal()
	}
	recursive := len(strings.Split(globSuffix, "/")) > 1 || strings.Contains(globSuffix, "**")
	locs, err := file.List(ctx, dir, recursive)
	if err != nil {
		return literal()
	}
	var matches []file.Location
	for _, loc := range locs {
		if m.Match(loc.String()) {
			matches = append(matches, loc)
		}
	}
	if len(matches) == 0 {
		return literal()
	}
	return matches, nil
}

// expandGlobs calls expandGlob on each string and unions the results.
func expandGlobs(ctx context.Context, env *Env, patterns []string) ([]file.Location, error) {
	var matches []file.Location
	for _, pattern := range patterns {
		locs, err := expandGlob(ctx, env, pattern)
		if err != nil {
			return nil, err
		}
		matches = append(matches, locs...)
	}
	return matches, nil
}
