// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"fmt"
	"io"

	"github.com/lowes/lvfs/errors"
)

// Resolver selects the backend session for a non-local location. It
// returns the backend and the name of the profile that matched. The
// credential registry in package realm is the standard Resolver.
type Resolver interface {
	Resolve(ctx context.Context, scheme, host, path string) (Backend, string, error)
}

// Factory turns location strings into bound Locations. A Factory is safe
// for concurrent use.
type Factory struct {
	resolver Resolver
	local    Backend
}

// NewFactory returns a factory that resolves local paths to the local
// backend and everything else through r. If r is nil, only local paths
// can be resolved.
func NewFactory(r Resolver) *Factory {
	return &Factory{resolver: r, local: NewLocal()}
}

// Resolve parses raw, a bare filesystem path or a
// scheme://host[:port]/path URL, and returns a Location bound to the
// backend that serves it. Resolving a remote location may construct a
// backend session (and open an SSH tunnel) the first time its profile is
// used.
//
// Resolve returns errors of kind Invalid for malformed input,
// UnsupportedScheme for a scheme no backend serves, Unresolved when no
// profile matches, and any connection error raised while constructing
// the session.
func (f *Factory) Resolve(ctx context.Context, raw string) (Location, error) {
	scheme, host, path, err := ParseLocation(raw)
	if err != nil {
		return Location{}, err
	}
	if scheme == "" {
		return Location{path: path, backend: f.local}, nil
	}
	if f.resolver == nil {
		return Location{}, errors.E(errors.UnsupportedScheme, fmt.Sprintf("resolve %s: no backend for scheme %q", raw, scheme))
	}
	backend, profile, err := f.resolver.Resolve(ctx, scheme, host, path)
	if err != nil {
		return Location{}, errors.E(fmt.Sprintf("resolve %s", raw), err)
	}
	return Location{scheme: scheme, host: host, path: path, backend: backend, profile: profile}, nil
}

// MustResolve is Resolve for fixed, known-good locations. It panics on
// error.
func (f *Factory) MustResolve(ctx context.Context, raw string) Location {
	loc, err := f.Resolve(ctx, raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// Local returns a Location for the local path p.
func (f *Factory) Local(p string) (Location, error) {
	path, err := localPath(p)
	if err != nil {
		return Location{}, err
	}
	return Location{path: path, backend: f.local}, nil
}

// Close closes the resolver if it is an io.Closer, tearing down every
// session it constructed.
func (f *Factory) Close() error {
	if c, ok := f.resolver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
