// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command lvfs copies, lists and inspects files on any location the lvfs
// credential configuration can resolve:
//
//	lvfs [-config path] [-log level] <subcommand> args...
//
// Run lvfs without arguments for the list of subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lowes/lvfs/cmd/lvfs/cmd"
	"github.com/lowes/lvfs/log"
	"github.com/lowes/lvfs/realm"
)

func main() {
	configFlag := flag.String("config", "", "credential file; by default $"+realm.EnvConfig+" or the standard search path")
	log.AddFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <subcommand> args...\n", os.Args[0])
		flag.PrintDefaults()
		cmd.PrintHelp(os.Stderr)
	}
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	var paths []string
	if *configFlag != "" {
		paths = []string{*configFlag}
	}
	config, err := realm.Load(paths...)
	if err != nil {
		log.Fatal(err)
	}
	env := cmd.NewEnv(config)
	err = cmd.Run(context.Background(), env, flag.Args())
	if cerr := env.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatal(err)
	}
}
