// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package s3file_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/testutil/assert"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	filetestutil "github.com/lowes/lvfs/file/internal/testutil"
	"github.com/lowes/lvfs/file/s3file"
	"github.com/lowes/lvfs/realm"
	"github.com/stretchr/testify/require"
)

type object struct {
	data    []byte
	modTime time.Time
}

// fakeClient is an in-memory S3 with the calls the backend makes. Err,
// if set, is consulted before every call.
type fakeClient struct {
	s3iface.S3API

	mu      sync.Mutex
	buckets map[string]map[string]object
	// pageSize bounds the records of one ListObjectsV2 page.
	pageSize int
	calls    map[string]int

	Err func(api string) error
}

func newFakeClient(buckets ...string) *fakeClient {
	c := &fakeClient{
		buckets:  make(map[string]map[string]object),
		pageSize: 1000,
		calls:    make(map[string]int),
	}
	for _, b := range buckets {
		c.buckets[b] = make(map[string]object)
	}
	return c
}

func (c *fakeClient) start(api string, bucket *string) (map[string]object, error) {
	c.calls[api]++
	if c.Err != nil {
		if err := c.Err(api); err != nil {
			return nil, err
		}
	}
	objects, ok := c.buckets[aws.StringValue(bucket)]
	if !ok {
		return nil, awserr.NewRequestFailure(
			awserr.New(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist", nil),
			http.StatusNotFound, "req")
	}
	return objects, nil
}

func noSuchKey(api string) error {
	if api == "HeadObject" {
		return awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req")
	}
	return awserr.NewRequestFailure(
		awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil),
		http.StatusNotFound, "req")
}

func (c *fakeClient) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	objects, err := c.start("HeadObject", in.Bucket)
	if err != nil {
		return nil, err
	}
	o, ok := objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, noSuchKey("HeadObject")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		LastModified:  aws.Time(o.modTime),
		ETag:          aws.String(strconv.Quote("etag")),
	}, nil
}

func (c *fakeClient) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	objects, err := c.start("GetObject", in.Bucket)
	if err != nil {
		return nil, err
	}
	o, ok := objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, noSuchKey("GetObject")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.data)),
		ContentLength: aws.Int64(int64(len(o.data))),
	}, nil
}

func (c *fakeClient) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	objects, err := c.start("PutObject", in.Bucket)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	objects[aws.StringValue(in.Key)] = object{data: data, modTime: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeClient) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	objects, err := c.start("DeleteObject", in.Bucket)
	if err != nil {
		return nil, err
	}
	delete(objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) ListObjectsV2WithContext(_ aws.Context, in *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	objects, err := c.start("ListObjectsV2", in.Bucket)
	if err != nil {
		return nil, err
	}
	prefix, delim := aws.StringValue(in.Prefix), aws.StringValue(in.Delimiter)
	var keys []string
	for k := range objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	// Records are objects, or common prefixes marked by a nil object.
	type record struct {
		key string
		obj *object
	}
	var (
		records []record
		seen    = make(map[string]bool)
	)
	for _, k := range keys {
		if i := strings.Index(k[len(prefix):], delim); delim != "" && i >= 0 {
			p := k[:len(prefix)+i+1]
			if !seen[p] {
				seen[p] = true
				records = append(records, record{key: p})
			}
			continue
		}
		o := objects[k]
		records = append(records, record{key: k, obj: &o})
	}
	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	n := c.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < n {
		n = int(*in.MaxKeys)
	}
	end := start + n
	if end > len(records) {
		end = len(records)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(records))}
	if end < len(records) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, r := range records[start:end] {
		if r.obj == nil {
			out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(r.key)})
			continue
		}
		out.Contents = append(out.Contents, &s3.Object{
			Key:          aws.String(r.key),
			Size:         aws.Int64(int64(len(r.obj.data))),
			LastModified: aws.Time(r.obj.modTime),
		})
	}
	return out, nil
}

func TestAll(t *testing.T) {
	client := newFakeClient("bucket")
	b := s3file.New(client, "minio:9000")
	assert.EQ(t, "s3(minio:9000)", b.String())
	filetestutil.TestAll(context.Background(), t, file.NewLocation("s3", "minio:9000", "/bucket/tmp/lvfs", b))
}

func TestListPages(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("bucket")
	client.pageSize = 2
	b := s3file.New(client, "")
	dir := file.NewLocation("s3", "", "/bucket/a", b)
	for _, name := range []string{"10-y.yml", "05-x.yml", "z/ignored.txt", "z/more.txt", "w/1"} {
		require.NoError(t, b.WriteAll(ctx, dir.Join(name), []byte(name)))
	}
	entries, err := b.List(ctx, dir, true)
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.EQ(t, []string{
		"/bucket/a/05-x.yml", "/bucket/a/10-y.yml", "/bucket/a/w/1",
		"/bucket/a/z/ignored.txt", "/bucket/a/z/more.txt",
	}, paths)
	assert.EQ(t, 3, client.calls["ListObjectsV2"])

	entries, err = b.List(ctx, dir, false)
	require.NoError(t, err)
	assert.EQ(t, 4, len(entries))
	assert.True(t, entries[2].IsDir)
	assert.EQ(t, "/bucket/a/w", entries[2].Path)
}

func TestDirectoryMarker(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("bucket")
	client.buckets["bucket"]["dir/"] = object{modTime: time.Now()}
	client.buckets["bucket"]["dir/f"] = object{data: []byte("f"), modTime: time.Now()}
	b := s3file.New(client, "")

	info, err := b.Stat(ctx, file.NewLocation("s3", "", "/bucket/dir", b))
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	entries, err := b.List(ctx, file.NewLocation("s3", "", "/bucket/dir", b), true)
	require.NoError(t, err)
	assert.EQ(t, 1, len(entries))
	assert.EQ(t, "/bucket/dir/f", entries[0].Path)

	info, err = b.Stat(ctx, file.NewLocation("s3", "", "/bucket", b))
	require.NoError(t, err)
	assert.True(t, info.IsDir)
}

func TestEmptyDirectories(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("bucket", "empty")
	client.buckets["bucket"]["marker/"] = object{modTime: time.Now()}
	b := s3file.New(client, "")

	filetestutil.CheckEmptyDir(ctx, t,
		file.NewLocation("s3", "", "/empty", b),
		file.NewLocation("s3", "", "/bucket/emptycopy", b))
	filetestutil.CheckEmptyDir(ctx, t,
		file.NewLocation("s3", "", "/bucket/marker", b),
		file.NewLocation("s3", "", "/bucket/markercopy", b))

	_, err := b.List(ctx, file.NewLocation("s3", "", "/bucket/nomarker", b), true)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
	_, err = b.List(ctx, file.NewLocation("s3", "", "/missing", b), false)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("bucket")
	b := s3file.New(client, "")
	loc := file.NewLocation("s3", "minio:9000", "/bucket/key", b)

	_, err := b.Stat(ctx, file.NewLocation("s3", "minio:9000", "/", b))
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)

	_, err = b.ReadAll(ctx, file.NewLocation("s3", "minio:9000", "/nobucket/key", b))
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)

	err = b.Remove(ctx, loc)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
	assert.EQ(t, 0, client.calls["DeleteObject"])

	for _, c := range []struct {
		err  error
		kind errors.Kind
	}{
		{awserr.New("AccessDenied", "Access Denied", nil), errors.NotAllowed},
		{awserr.New("InvalidAccessKeyId", "The access key does not exist", nil), errors.Auth},
		{awserr.New("SignatureDoesNotMatch", "bad signature", nil), errors.Auth},
		{awserr.New("SlowDown", "slow down", nil), errors.Unreachable},
		{awserr.New("RequestError", "send request failed", errors.New("dial tcp 127.0.0.1:9000: connect: connection refused")), errors.Unreachable},
		{awserr.New(request.CanceledErrorCode, "request context canceled", context.Canceled), errors.Canceled},
		{awserr.New("InvalidBucketName", "bad bucket", nil), errors.Invalid},
	} {
		client.Err = func(string) error { return c.err }
		err := b.WriteAll(ctx, loc, []byte("x"))
		assert.True(t, errors.Is(c.kind, err), "%v: got %v", c.kind, err)
		assert.True(t, strings.Contains(err.Error(), "s3://minio:9000/bucket/key"), "%v", err)
	}
	client.Err = func(string) error {
		return awserr.New("RequestError", "send request failed", errors.New("dial tcp: connection refused"))
	}
	assert.True(t, errors.IsConnection(b.WriteAll(ctx, loc, nil)))
}

func TestFromProfile(t *testing.T) {
	config, err := realm.Parse([]byte(`
credentials:
  - realm: {classname: S3, host: "minio:9000", bucket: data}
    access_key: K
    secret_key: S
  - realm: {classname: S3}
    endpoint: https://storage.example.com
    access_key: K
    secret_key: S
    region: eu-west-1
  - realm: {classname: S3}
    access_key: K
    secret_key: S
`))
	require.NoError(t, err)
	ctx := context.Background()
	for i, want := range []string{"s3(minio:9000)", "s3(https://storage.example.com)", "s3(us-east-1)"} {
		b, err := s3file.FromProfile(ctx, config.Profiles[i], nil)
		require.NoError(t, err)
		assert.EQ(t, want, b.String())
		assert.True(t, b.Capabilities().Streaming)
	}
}
