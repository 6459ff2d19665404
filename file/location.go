// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/lowes/lvfs/errors"
)

const urlSeparator = '/'

// Location is an absolute handle to a file or directory on some backend.
// Locations are values: every method that changes a component returns a
// new Location bound to the same backend session.
type Location struct {
	scheme  string
	host    string
	path    string
	backend Backend
	profile string
}

// NewLocation returns a location bound to b. It is meant for backends and
// tests; applications obtain locations from a Factory.
func NewLocation(scheme, host, p string, b Backend) Location {
	return Location{scheme: scheme, host: host, path: cleanPath(p), backend: b}
}

// Scheme returns the location's scheme, or "" for a local path.
func (l Location) Scheme() string { return l.scheme }

// Host returns the host component (an endpoint, a bucket, or a cluster
// name, depending on the scheme). It is empty for local paths.
func (l Location) Host() string { return l.host }

// Path returns the absolute, cleaned path component. It always begins
// with "/".
func (l Location) Path() string { return l.path }

// Backend returns the backend the location is bound to.
func (l Location) Backend() Backend { return l.backend }

// Profile names the credential profile that resolved this location; it
// is empty for local paths.
func (l Location) Profile() string { return l.profile }

// IsLocal tells whether the location is on the local filesystem.
func (l Location) IsLocal() bool { return l.scheme == "" }

// IsZero tells whether l is the zero Location.
func (l Location) IsZero() bool { return l.backend == nil && l.path == "" }

// String renders the location as scheme://host/path, or as a bare path
// for local locations.
func (l Location) String() string {
	if l.scheme == "" {
		return l.path
	}
	return l.scheme + "://" + l.host + l.path
}

// Join returns a new location with segment appended to the path. The
// segment is a plain string; it may contain separators, and the result is
// cleaned, so Join(a).Join(b) addresses the same path as Join(a + "/" + b).
// The result is always absolute: ".." segments never climb above "/".
// The joined location stays bound to the same backend session.
func (l Location) Join(segment string) Location {
	return l.WithPath(l.path + "/" + segment)
}

// WithPath returns a location on the same scheme, host and backend with
// the path replaced by p, made absolute and cleaned.
func (l Location) WithPath(p string) Location {
	l.path = cleanPath(p)
	return l
}

// Base returns the last element of the path, or "/" for the root.
func (l Location) Base() string {
	return path.Base(l.path)
}

// Dir returns the parent location. The parent of the root is the root.
func (l Location) Dir() Location {
	return l.WithPath(path.Dir(l.path))
}

// Parent is Dir.
func (l Location) Parent() Location { return l.Dir() }

// Rel returns the path of l relative to base, which must be l itself or
// one of its ancestors.
func (l Location) Rel(base Location) (string, error) {
	if base.scheme != l.scheme || base.host != l.host {
		return "", errors.E(errors.Invalid, fmt.Sprintf("%v is not below %v", l, base))
	}
	if l.path == base.path {
		return "", nil
	}
	prefix := base.path
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(l.path, prefix) {
		return "", errors.E(errors.Invalid, fmt.Sprintf("%v is not below %v", l, base))
	}
	return l.path[len(prefix):], nil
}

// Equal tells whether l and m address the same path on the same host.
func (l Location) Equal(m Location) bool {
	return l.scheme == m.scheme && l.host == m.host && l.path == m.path
}

// Less orders locations by their rendered string.
func (l Location) Less(m Location) bool {
	return l.String() < m.String()
}

// SplitBucket splits an object-store path "/bucket/key/..." into its
// bucket and key. The key has no leading slash and is empty for the
// bucket itself.
func SplitBucket(p string) (bucket, key string) {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, urlSeparator); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// getURLScheme computes the length of "foo" in "foo://bar/baz". It
// returns (0, nil) if the path is for a local file system.
func getURLScheme(raw string) (int, error) {
	// Scheme is always encoded in ASCII, per RFC3986.
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch == ':' {
			if i == 0 {
				return 0, nil
			}
			if len(raw) <= i+2 || raw[i+1] != '/' || raw[i+2] != '/' {
				return -1, errors.E(errors.Invalid, fmt.Sprintf("parse %s: a URL must start with 'scheme://'", raw))
			}
			return i, nil
		}
		if !((ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || ch == '.' || ch == '+' || ch == '-') {
			break
		}
	}
	return 0, nil
}

// ParseLocation splits a location string into its scheme, host and
// absolute path without binding it to a backend. Local paths (no scheme,
// or the "file" scheme) are made absolute against the working directory
// and returned with an empty scheme.
func ParseLocation(raw string) (scheme, host, p string, err error) {
	if raw == "" {
		return "", "", "", errors.E(errors.Invalid, "empty location")
	}
	n, err := getURLScheme(raw)
	if err != nil {
		return "", "", "", err
	}
	if n == 0 {
		p, err = localPath(raw)
		return "", "", p, err
	}
	scheme = strings.ToLower(raw[:n])
	rest := raw[n+3:]
	if i := strings.IndexByte(rest, urlSeparator); i >= 0 {
		host, p = rest[:i], rest[i:]
	} else {
		host, p = rest, "/"
	}
	if scheme == "file" {
		if host != "" && host != "localhost" {
			return "", "", "", errors.E(errors.Invalid, fmt.Sprintf("parse %s: file URLs cannot name a remote host", raw))
		}
		p, err = localPath(p)
		return "", "", p, err
	}
	return scheme, host, cleanPath(p), nil
}

func localPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.E(errors.Invalid, fmt.Sprintf("parse %s", p), err)
	}
	return filepath.ToSlash(abs), nil
}
