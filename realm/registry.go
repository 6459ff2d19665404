// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package realm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/log"
	"github.com/lowes/lvfs/sshtunnel"
	"github.com/lowes/lvfs/sync/loadingcache"
)

// Constructor builds the backend for a validated profile. Tunnel is the
// profile's open SSH tunnel, or nil if the profile has no jump host.
type Constructor func(ctx context.Context, p *Profile, tunnel Tunnel) (file.Backend, error)

// Registry resolves locations to profiles and owns the backend session
// of each profile. It is safe for concurrent use: concurrent requests for
// one profile construct exactly one session.
type Registry struct {
	config *Config

	// OpenTunnel opens the SSH tunnel of profiles with a jump host.
	// It defaults to sshtunnel.Open.
	OpenTunnel func(ctx context.Context, config sshtunnel.Config) (Tunnel, error)

	mu     sync.Mutex
	ctors  map[Variant]Constructor
	closed bool

	sessions loadingcache.Map[int, *Session]
}

// NewRegistry returns a registry over the profiles of config, with no
// constructors registered.
func NewRegistry(config *Config) *Registry {
	if config == nil {
		config = &Config{}
	}
	return &Registry{
		config:     config,
		OpenTunnel: openTunnel,
		ctors:      make(map[Variant]Constructor),
	}
}

func openTunnel(ctx context.Context, config sshtunnel.Config) (Tunnel, error) {
	t, err := sshtunnel.Open(ctx, config)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Register sets the constructor for a variant, replacing any previous
// one.
func (r *Registry) Register(v Variant, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[v] = ctor
}

// Config returns the registry's configuration.
func (r *Registry) Config() *Config { return r.config }

// Profiles returns the configured profiles in order.
func (r *Registry) Profiles() []*Profile { return r.config.Profiles }

// Match returns the first profile, in configuration order, whose realm
// accepts the location. A later profile never wins over an earlier one,
// however specific it is. Match returns an error of kind
// errors.UnsupportedScheme if no variant serves the scheme, and of kind
// errors.Unresolved if no profile matches.
func (r *Registry) Match(scheme, host, path string) (*Profile, error) {
	variants := Schemes(scheme)
	if len(variants) == 0 {
		return nil, errors.E(errors.UnsupportedScheme, fmt.Sprintf("no backend for scheme %q", scheme))
	}
	bucket, rest := "", path
	switch scheme {
	case "s3", "minio":
		var key string
		bucket, key = file.SplitBucket(path)
		rest = "/" + key
	case "gs":
		bucket = host
	}
	for _, p := range r.config.Profiles {
		if !hasVariant(variants, p.Variant) {
			continue
		}
		if p.Realm.Host != "" && !strings.EqualFold(p.Realm.Host, host) {
			continue
		}
		if p.Realm.Bucket != "" && !strings.EqualFold(p.Realm.Bucket, bucket) {
			continue
		}
		if p.Realm.Path != "" && !strings.HasPrefix(rest, "/"+strings.TrimPrefix(p.Realm.Path, "/")) {
			continue
		}
		return p, nil
	}
	return nil, errors.E(errors.Unresolved, fmt.Sprintf("no credential profile matches %s://%s%s (want %s)", scheme, host, path, variantList(variants)))
}

func hasVariant(vs []Variant, v Variant) bool {
	for _, w := range vs {
		if w == v {
			return true
		}
	}
	return false
}

func variantList(vs []Variant) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.String()
	}
	return strings.Join(names, " or ")
}

// SessionFor returns the session of profile p, constructing it if needed.
// Construction opens the profile's SSH tunnel first, if it has a jump
// host, and closes it again if the backend cannot be built. Failed
// constructions are not cached: the next call tries again.
func (r *Registry) SessionFor(ctx context.Context, p *Profile) (*Session, error) {
	if p == nil || p.Index < 0 || p.Index >= len(r.config.Profiles) || r.config.Profiles[p.Index] != p {
		return nil, errors.E(errors.Invalid, "profile does not belong to this registry")
	}
	if r.isClosed() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: registry is closed", p.Name()))
	}
	s, err := r.sessions.GetOrLoad(ctx, p.Index, func(ctx context.Context) (*Session, error) {
		return r.construct(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if r.isClosed() {
		// Lost a race with Close.
		s.Close() // nolint: errcheck
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: registry is closed", p.Name()))
	}
	return s, nil
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) construct(ctx context.Context, p *Profile) (*Session, error) {
	r.mu.Lock()
	ctor := r.ctors[p.Variant]
	r.mu.Unlock()
	if ctor == nil {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("%s: no backend registered for %s", p.Name(), p.Variant))
	}
	s := &Session{Profile: p}
	s.state.Store(int32(Constructing))
	if p.SSHJumpHost != "" {
		targets, err := p.TunnelTargets()
		if err != nil {
			return nil, err
		}
		s.tunnel, err = r.OpenTunnel(ctx, sshtunnel.Config{
			JumpHost: p.SSHJumpHost,
			User:     p.SSHUsername,
			Targets:  targets,
		})
		if err != nil {
			return nil, errors.E(fmt.Sprintf("%s: open tunnel", p.Name()), err)
		}
	}
	b, err := ctor(ctx, p, s.tunnel)
	if err != nil {
		if s.tunnel != nil {
			if cerr := s.tunnel.Close(); cerr != nil {
				log.Error.Printf("%s: close tunnel: %v", p.Name(), cerr)
			}
		}
		return nil, errors.E(p.Name(), err)
	}
	if !b.Capabilities().ConcurrentSafe {
		b = file.Serialize(b)
	}
	s.Backend = b
	s.state.Store(int32(Ready))
	log.Printf("%s: session ready: %s", p.Name(), b)
	return s, nil
}

// Resolve implements file.Resolver: it matches the location and returns
// the matched profile's session backend.
func (r *Registry) Resolve(ctx context.Context, scheme, host, path string) (file.Backend, string, error) {
	p, err := r.Match(scheme, host, path)
	if err != nil {
		return nil, "", err
	}
	s, err := r.SessionFor(ctx, p)
	if err != nil {
		return nil, "", err
	}
	return s.Backend, p.Name(), nil
}

// Close closes every constructed session and their tunnels. The registry
// cannot be used afterwards. Close returns the first error encountered.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	var once errors.Once
	for _, s := range r.sessions.DeleteAll() {
		once.Set(s.Close())
	}
	return once.Err()
}
