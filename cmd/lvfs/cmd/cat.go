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

func Cat(ctx context.Context, env *Env, args []string) error {
	locs, err := expandGlobs(ctx, env, args)
	if err != nil {
		return err
	}
	for _, loc := range locs {
		if err := cat(ctx, env.Stdout, loc); err != nil {
			return errors.E("cat", loc.String(), err)
		}
	}
	return nil
}

// cat streams loc to out when its backend can stream, and reads it
// whole otherwise.
func cat(ctx context.Context, out io.Writer, loc file.Location) (err error) {
	r, err := file.OpenStream(ctx, loc)
	if errors.Is(errors.NotSupported, err) {
		data, err := file.ReadAll(ctx, loc)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	if err != nil {
		return err
	}
	defer errors.CleanUp(r.Close, &err)
	_, err = io.Copy(out, r)
	return err
}
