// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gcsfile_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/file/gcsfile"
	filetestutil "github.com/lowes/lvfs/file/internal/testutil"
	"github.com/lowes/lvfs/realm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

type object struct {
	data    []byte
	updated time.Time
}

// fakeGCS serves the subset of the storage JSON API the backend uses.
type fakeGCS struct {
	mu      sync.Mutex
	buckets map[string]map[string]object
}

func newFakeGCS(buckets ...string) *httptest.Server {
	f := &fakeGCS{buckets: make(map[string]map[string]object)}
	for _, b := range buckets {
		f.buckets[b] = make(map[string]object)
	}
	return httptest.NewServer(f)
}

func apiError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := strings.TrimPrefix(r.URL.Path, "/download")
	upload := strings.HasPrefix(p, "/upload")
	p = strings.TrimPrefix(p, "/upload")
	if !strings.HasPrefix(p, "/storage/v1/b/") {
		apiError(w, http.StatusNotFound, "bad path "+r.URL.Path)
		return
	}
	p = strings.TrimPrefix(p, "/storage/v1/b/")
	i := strings.Index(p, "/o")
	if i < 0 {
		apiError(w, http.StatusNotFound, "bad path "+r.URL.Path)
		return
	}
	bucket, rest := p[:i], p[i+2:]
	objects, ok := f.buckets[bucket]
	if !ok {
		apiError(w, http.StatusNotFound, "no such bucket")
		return
	}
	switch {
	case upload && r.Method == http.MethodPost:
		f.insert(w, r, bucket, objects)
	case rest == "" && r.Method == http.MethodGet:
		f.list(w, r, objects)
	case strings.HasPrefix(rest, "/"):
		name := rest[1:]
		o, ok := objects[name]
		if !ok {
			apiError(w, http.StatusNotFound, "No such object: "+bucket+"/"+name)
			return
		}
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("alt") == "media" {
				_, _ = w.Write(o.data)
				return
			}
			writeJSON(w, metadata(bucket, name, o))
		case http.MethodDelete:
			delete(objects, name)
			w.WriteHeader(http.StatusNoContent)
		default:
			apiError(w, http.StatusMethodNotAllowed, r.Method)
		}
	default:
		apiError(w, http.StatusBadRequest, "unsupported request")
	}
}

func metadata(bucket, name string, o object) *storage.Object {
	return &storage.Object{
		Bucket:  bucket,
		Name:    name,
		Size:    uint64(len(o.data)),
		Updated: o.updated.Format(time.RFC3339Nano),
	}
}

func (f *fakeGCS) list(w http.ResponseWriter, r *http.Request, objects map[string]object) {
	q := r.URL.Query()
	prefix, delim := q.Get("prefix"), q.Get("delimiter")
	max := len(objects) + 1
	if m := q.Get("maxResults"); m != "" {
		max, _ = strconv.Atoi(m)
	}
	var names []string
	for name := range objects {
		names = append(names, name)
	}
	sort.Strings(names)
	result := &storage.Objects{Kind: "storage#objects"}
	prefixes := make(map[string]bool)
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || len(result.Items)+len(result.Prefixes) >= max {
			continue
		}
		rest := name[len(prefix):]
		if i := strings.Index(rest, delim); delim != "" && i >= 0 {
			if p := prefix + rest[:i+1]; !prefixes[p] {
				prefixes[p] = true
				result.Prefixes = append(result.Prefixes, p)
			}
			continue
		}
		result.Items = append(result.Items, metadata("", name, objects[name]))
	}
	writeJSON(w, result)
}

func (f *fakeGCS) insert(w http.ResponseWriter, r *http.Request, bucket string, objects map[string]object) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	var meta storage.Object
	if err := json.NewDecoder(part).Decode(&meta); err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		meta.Name = name
	}
	part, err = mr.NextPart()
	if err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	o := object{data: data, updated: time.Now()}
	objects[meta.Name] = o
	writeJSON(w, metadata(bucket, meta.Name, o))
}

func newBackend(t *testing.T, srv *httptest.Server) file.Backend {
	b, err := gcsfile.New(context.Background(), "test",
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return b
}

func TestAll(t *testing.T) {
	srv := newFakeGCS("bucket")
	defer srv.Close()
	b := newBackend(t, srv)
	assert.False(t, b.Capabilities().Streaming)
	assert.False(t, b.Capabilities().Directories)
	filetestutil.TestAll(context.Background(), t, file.NewLocation("gs", "bucket", "/tmp/lvfs", b))
}

func TestErrors(t *testing.T) {
	srv := newFakeGCS("bucket")
	defer srv.Close()
	b := newBackend(t, srv)
	ctx := context.Background()

	err := b.WriteAll(ctx, file.NewLocation("gs", "nobucket", "/x", b), []byte("x"))
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
	err = b.Remove(ctx, file.NewLocation("gs", "bucket", "/x", b))
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
	assert.Contains(t, err.Error(), "gs://bucket/x")
	assert.NoError(t, b.Mkdir(ctx, file.NewLocation("gs", "bucket", "/dir", b)))
	_, err = b.Stat(ctx, file.NewLocation("gs", "bucket", "/dir", b))
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
}

func TestStructured(t *testing.T) {
	srv := newFakeGCS("models")
	defer srv.Close()
	b := newBackend(t, srv)
	ctx := context.Background()
	dir := file.NewLocation("gs", "models", "/prod/scores", b)
	require.NoError(t, file.WriteAll(ctx, dir.Join("part-0.json"), []byte(`{"id":1}`)))
	require.NoError(t, file.WriteAll(ctx, dir.Join("part-1.json"), []byte(`{"id":2}`)))
	require.NoError(t, file.WriteAll(ctx, dir.Join("_SUCCESS"), nil))
	require.NoError(t, file.WriteAll(ctx, dir.Join("day=1/part-0.json"), []byte(`{"id":3}`)))

	table, err := file.ReadStructured(ctx, dir, "json", file.ReadOpts{})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
	require.Len(t, table.Partitions, 1)
	assert.Equal(t, map[string]string{"day": "1"}, table.Partitions[0].Keys)

	n, err := file.Du(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, int64(24), n)
}

func TestFromProfile(t *testing.T) {
	srv := newFakeGCS("models")
	defer srv.Close()
	config, err := realm.Parse([]byte(`
credentials:
  - realm: {classname: GCS, bucket: models}
    project: analytics
    endpoint: ` + srv.URL + `
`))
	require.NoError(t, err)
	ctx := context.Background()
	b, err := gcsfile.FromProfile(ctx, config.Profiles[0], nil)
	require.NoError(t, err)
	assert.Equal(t, "gcs(analytics)", b.String())
	loc := file.NewLocation("gs", "models", "/m.bin", b)
	require.NoError(t, b.WriteAll(ctx, loc, []byte{0, 1, 2}))
	data, err := b.ReadAll(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)
}
