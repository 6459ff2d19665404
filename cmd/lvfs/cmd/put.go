// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"io"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
)

func Put(ctx context.Context, env *Env, args []string) error {
	if len(args) != 1 {
		return errors.E(errors.Invalid, "put requires a single location")
	}
	loc, err := env.Factory.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := io.ReadAll(env.Stdin)
	if err != nil {
		return errors.E("put", args[0], err)
	}
	if err := file.WriteAll(ctx, loc, data); err != nil {
		return errors.E("put", args[0], err)
	}
	return nil
}
