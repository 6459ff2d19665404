// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gcsfile implements file.Backend for Google Cloud Storage, with
// the JSON API client of google.golang.org/api/storage/v1. Locations are
// gs://bucket/object. Directories are key prefixes: they exist while
// objects exist below them, and Mkdir does nothing.
//
// Reads are buffered whole; the backend does not stream.
package gcsfile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/log"
	"github.com/lowes/lvfs/realm"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

type backend struct {
	svc     *storage.Service
	project string
}

// New returns a backend using a storage service built with opts.
func New(ctx context.Context, project string, opts ...option.ClientOption) (file.Backend, error) {
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.E(errors.Auth, "gcs: create storage client", err)
	}
	return &backend{svc: svc, project: project}, nil
}

// FromProfile is a realm.Constructor for GCS profiles. It authenticates
// with application default credentials, unless the profile names an
// endpoint, which is taken to be an unauthenticated emulator.
func FromProfile(ctx context.Context, p *realm.Profile, _ realm.Tunnel) (file.Backend, error) {
	if p.Endpoint != "" {
		return New(ctx, p.Project,
			option.WithEndpoint(strings.TrimRight(p.Endpoint, "/")+"/storage/v1/"),
			option.WithoutAuthentication())
	}
	client, err := google.DefaultClient(ctx, storage.DevstorageReadWriteScope)
	if err != nil {
		return nil, errors.E(errors.Auth, fmt.Sprintf("%s: no application default credentials; run gcloud auth application-default login", p.Name()), err)
	}
	return New(ctx, p.Project, option.WithHTTPClient(client))
}

func (b *backend) String() string {
	if b.project != "" {
		return "gcs(" + b.project + ")"
	}
	return "gcs"
}

func (*backend) Capabilities() file.Capabilities {
	return file.Capabilities{ConcurrentSafe: true}
}

func objectName(loc file.Location) string {
	return strings.TrimPrefix(loc.Path(), "/")
}

// translate maps Google API errors to error kinds.
func translate(ctx context.Context, err error, op string, loc file.Location) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("gcs %s %s", op, loc)
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		if ctx.Err() != nil {
			return errors.E(msg, ctx.Err())
		}
		return errors.E(errors.Unreachable, msg, err)
	}
	var kind errors.Kind
	switch gerr.Code {
	case http.StatusNotFound:
		kind = errors.NotExist
	case http.StatusUnauthorized:
		kind = errors.Auth
	case http.StatusForbidden:
		kind = errors.NotAllowed
	case http.StatusConflict, http.StatusPreconditionFailed:
		kind = errors.Exists
	case http.StatusBadRequest:
		kind = errors.Invalid
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		kind = errors.Unreachable
	}
	return errors.E(kind, msg, err)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func objectInfo(o *storage.Object) file.Info {
	return file.Info{Exists: true, Size: int64(o.Size), ModTime: parseTime(o.Updated)}
}

// Stat implements file.Backend. A name that is not an object but prefixes
// one is a directory.
func (b *backend) Stat(ctx context.Context, loc file.Location) (file.Info, error) {
	name := objectName(loc)
	if name != "" {
		o, err := b.svc.Objects.Get(loc.Host(), name).Context(ctx).Do()
		if err == nil {
			return objectInfo(o), nil
		}
		if err = translate(ctx, err, "stat", loc); !errors.Is(errors.NotExist, err) {
			return file.Info{}, err
		}
	}
	objs, err := b.svc.Objects.List(loc.Host()).Prefix(dirPrefix(name)).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return file.Info{}, translate(ctx, err, "stat", loc)
	}
	if len(objs.Items) == 0 && len(objs.Prefixes) == 0 {
		return file.Info{}, errors.E(errors.NotExist, fmt.Sprintf("gcs stat %s", loc))
	}
	return file.Info{Exists: true, IsDir: true}, nil
}

func dirPrefix(name string) string {
	if name == "" || strings.HasSuffix(name, "/") {
		return name
	}
	return name + "/"
}

// List implements file.Backend.
func (b *backend) List(ctx context.Context, loc file.Location, recursive bool) ([]file.Entry, error) {
	name := objectName(loc)
	if name != "" {
		o, err := b.svc.Objects.Get(loc.Host(), name).Context(ctx).Do()
		if err == nil {
			return []file.Entry{{Path: loc.Path(), Info: objectInfo(o)}}, nil
		}
		if err = translate(ctx, err, "list", loc); !errors.Is(errors.NotExist, err) {
			return nil, err
		}
	}
	prefix := dirPrefix(name)
	call := b.svc.Objects.List(loc.Host()).Prefix(prefix)
	if !recursive {
		call = call.Delimiter("/")
	}
	var entries []file.Entry
	err := call.Pages(ctx, func(objs *storage.Objects) error {
		for _, o := range objs.Items {
			if strings.HasSuffix(o.Name, "/") {
				// A directory placeholder.
				continue
			}
			entries = append(entries, file.Entry{Path: "/" + o.Name, Info: objectInfo(o)})
		}
		for _, p := range objs.Prefixes {
			entries = append(entries, file.Entry{
				Path: "/" + strings.TrimSuffix(p, "/"),
				Info: file.Info{Exists: true, IsDir: true},
			})
		}
		return nil
	})
	if err != nil {
		return nil, translate(ctx, err, "list", loc)
	}
	if len(entries) == 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("gcs list %s", loc))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ReadAll implements file.Backend.
func (b *backend) ReadAll(ctx context.Context, loc file.Location) (data []byte, err error) {
	resp, err := b.svc.Objects.Get(loc.Host(), objectName(loc)).Context(ctx).Download()
	if err != nil {
		return nil, translate(ctx, err, "read", loc)
	}
	defer errors.CleanUp(resp.Body.Close, &err)
	if data, err = io.ReadAll(resp.Body); err != nil {
		return nil, errors.E(errors.Net, fmt.Sprintf("gcs read %s", loc), err)
	}
	return data, nil
}

// WriteAll implements file.Backend.
func (b *backend) WriteAll(ctx context.Context, loc file.Location, data []byte) error {
	_, err := b.svc.Objects.Insert(loc.Host(), &storage.Object{Name: objectName(loc)}).
		Media(bytes.NewReader(data), googleapi.ContentType("application/octet-stream")).
		Context(ctx).Do()
	if err != nil {
		return translate(ctx, err, "write", loc)
	}
	log.Debug.Printf("gcs: wrote %d bytes to %s", len(data), loc)
	return nil
}

// Remove implements file.Backend.
func (b *backend) Remove(ctx context.Context, loc file.Location) error {
	err := b.svc.Objects.Delete(loc.Host(), objectName(loc)).Context(ctx).Do()
	return translate(ctx, err, "remove", loc)
}

// Mkdir implements file.Backend. It does nothing: prefixes need no
// creation.
func (*backend) Mkdir(context.Context, file.Location) error { return nil }
