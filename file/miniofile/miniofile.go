// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package miniofile implements file.Backend for MinIO and other
// S3-compatible stores with minio-go. Locations are
// minio://host:port/bucket/key (or s3://...). Directories are key
// prefixes, except at the root of the store, where they are buckets:
// listing "/" lists buckets, and Mkdir of a bucket creates it.
package miniofile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/log"
	"github.com/lowes/lvfs/realm"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	pathSeparator = "/"
	defaultRegion = "us-east-1"
)

// Options configures a client.
type Options struct {
	// Endpoint is host:port, or a URL whose scheme selects TLS.
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

type backend struct {
	client   *minio.Client
	endpoint string
	region   string
}

// New returns a backend for the store at opts.Endpoint. It does not
// contact the store.
func New(opts Options) (file.Backend, error) {
	endpoint, secure := opts.Endpoint, opts.Secure
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			return nil, errors.E(errors.InvalidConfig, fmt.Sprintf("minio: bad endpoint %q", opts.Endpoint), err)
		}
		endpoint, secure = u.Host, u.Scheme == "https"
	}
	if endpoint == "" {
		return nil, errors.E(errors.InvalidConfig, "minio: no endpoint")
	}
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, errors.E(errors.InvalidConfig, fmt.Sprintf("minio: client for %s", endpoint), err)
	}
	return &backend{client: client, endpoint: endpoint, region: region}, nil
}

// FromProfile is a realm.Constructor for Minio profiles. The store is the
// profile's endpoint, or else its realm host.
func FromProfile(ctx context.Context, p *realm.Profile, _ realm.Tunnel) (file.Backend, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = p.Realm.Host
	}
	if endpoint == "" {
		return nil, errors.E(errors.InvalidConfig, p.Name()+": minio needs an endpoint or a realm host")
	}
	b, err := New(Options{
		Endpoint:  endpoint,
		AccessKey: p.AccessKey,
		SecretKey: p.SecretKey,
		Secure:    p.Secure,
		Region:    p.Region,
	})
	if err != nil {
		return nil, errors.E(p.Name(), err)
	}
	log.Debug.Printf("miniofile: %s: client for %s", p.Name(), endpoint)
	return b, nil
}

func (b *backend) String() string { return "minio(" + b.endpoint + ")" }

func (*backend) Capabilities() file.Capabilities {
	return file.Capabilities{Streaming: true, ConcurrentSafe: true}
}

// translate maps minio-go errors to error kinds.
func translate(ctx context.Context, err error, op string, loc file.Location) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("minio %s %s", op, loc)
	resp := minio.ToErrorResponse(err)
	var kind errors.Kind
	switch resp.Code {
	case "":
		if ctx.Err() != nil {
			return errors.E(msg, ctx.Err())
		}
		kind = errors.Unreachable
	case "NoSuchKey", "NoSuchBucket", "NoSuchVersion", "NotFound":
		kind = errors.NotExist
	case "AccessDenied", "AllAccessDisabled":
		kind = errors.NotAllowed
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		kind = errors.Auth
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		kind = errors.Exists
	case "InvalidBucketName", "XMinioInvalidObjectName", "InvalidArgument", "KeyTooLongError":
		kind = errors.Invalid
	case "NotImplemented":
		kind = errors.NotSupported
	case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout", "XMinioServerNotInitialized":
		kind = errors.Unreachable
	default:
		if resp.StatusCode >= 500 {
			kind = errors.Unreachable
		}
	}
	return errors.E(kind, msg, err)
}

// bucketKey splits loc into a bucket and key.
func bucketKey(loc file.Location) (bucket, key string, err error) {
	bucket, key = file.SplitBucket(loc.Path())
	if bucket == "" {
		return "", "", errors.E(errors.Invalid, fmt.Sprintf("minio: %s names no bucket", loc))
	}
	return bucket, key, nil
}

func dirPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, pathSeparator) {
		return key
	}
	return key + pathSeparator
}

// Stat implements file.Backend.
func (b *backend) Stat(ctx context.Context, loc file.Location) (file.Info, error) {
	bucket, key := file.SplitBucket(loc.Path())
	if bucket == "" {
		return file.Info{Exists: true, IsDir: true}, nil
	}
	if key == "" {
		ok, err := b.client.BucketExists(ctx, bucket)
		if err != nil {
			return file.Info{}, translate(ctx, err, "stat", loc)
		}
		if !ok {
			return file.Info{}, errors.E(errors.NotExist, fmt.Sprintf("minio stat %s: no such bucket", loc))
		}
		return file.Info{Exists: true, IsDir: true}, nil
	}
	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil && !strings.HasSuffix(key, pathSeparator) {
		return file.Info{Exists: true, Size: info.Size, ModTime: info.LastModified}, nil
	}
	if err != nil {
		if err = translate(ctx, err, "stat", loc); !errors.Is(errors.NotExist, err) {
			return file.Info{}, err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: dirPrefix(key), MaxKeys: 1}) {
		if obj.Err != nil {
			return file.Info{}, translate(ctx, obj.Err, "stat", loc)
		}
		return file.Info{Exists: true, IsDir: true}, nil
	}
	return file.Info{}, errors.E(errors.NotExist, fmt.Sprintf("minio stat %s", loc))
}

// List implements file.Backend.
func (b *backend) List(ctx context.Context, loc file.Location, recursive bool) ([]file.Entry, error) {
	bucket, key := file.SplitBucket(loc.Path())
	if bucket == "" {
		return b.listBuckets(ctx, loc, recursive)
	}
	if key != "" && !strings.HasSuffix(key, pathSeparator) {
		info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return []file.Entry{{Path: loc.Path(), Info: file.Info{Exists: true, Size: info.Size, ModTime: info.LastModified}}}, nil
		}
		if err = translate(ctx, err, "list", loc); !errors.Is(errors.NotExist, err) {
			return nil, err
		}
	}
	var (
		prefix  = dirPrefix(key)
		root    = pathSeparator + bucket + pathSeparator
		entries []file.Entry
		marked  bool
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if obj.Err != nil {
			return nil, translate(ctx, obj.Err, "list", loc)
		}
		if strings.HasSuffix(obj.Key, pathSeparator) {
			// Common prefixes, and directory markers, which only count
			// as directories in a shallow listing.
			if recursive || obj.Key == prefix {
				marked = true
				continue
			}
			entries = append(entries, file.Entry{
				Path: root + strings.TrimSuffix(obj.Key, pathSeparator),
				Info: file.Info{Exists: true, IsDir: true},
			})
			continue
		}
		entries = append(entries, file.Entry{
			Path: root + obj.Key,
			Info: file.Info{Exists: true, Size: obj.Size, ModTime: obj.LastModified},
		})
	}
	if len(entries) == 0 && !marked {
		// An existing bucket with no objects is an empty directory.
		exists := false
		if key == "" {
			ok, err := b.client.BucketExists(ctx, bucket)
			if err != nil {
				return nil, translate(ctx, err, "list", loc)
			}
			exists = ok
		}
		if !exists {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("minio list %s", loc))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// listBuckets lists the store's buckets as directories. Recursive
// listings of the whole store are refused.
func (b *backend) listBuckets(ctx context.Context, loc file.Location, recursive bool) ([]file.Entry, error) {
	if recursive {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("minio list %s: recursive listing of all buckets", loc))
	}
	buckets, err := b.client.ListBuckets(ctx)
	if err != nil {
		return nil, translate(ctx, err, "list", loc)
	}
	entries := make([]file.Entry, len(buckets))
	for i, bucket := range buckets {
		entries[i] = file.Entry{
			Path: pathSeparator + bucket.Name,
			Info: file.Info{Exists: true, IsDir: true, ModTime: bucket.CreationDate},
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Open implements file.Streamer. It fetches the object's metadata before
// returning, so that a missing object is reported by Open.
func (b *backend) Open(ctx context.Context, loc file.Location) (io.ReadCloser, error) {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return nil, err
	}
	obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(ctx, err, "open", loc)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translate(ctx, err, "open", loc)
	}
	return obj, nil
}

// ReadAll implements file.Backend.
func (b *backend) ReadAll(ctx context.Context, loc file.Location) (data []byte, err error) {
	r, err := b.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer errors.CleanUp(r.Close, &err)
	if data, err = io.ReadAll(r); err != nil {
		return nil, translate(ctx, err, "read", loc)
	}
	return data, nil
}

// WriteAll implements file.Backend.
func (b *backend) WriteAll(ctx context.Context, loc file.Location, data []byte) error {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return translate(ctx, err, "write", loc)
	}
	log.Debug.Printf("miniofile: wrote %d bytes to %s", len(data), loc)
	return nil
}

// Remove implements file.Backend. The store deletes missing keys without
// complaint, so Remove checks that the object exists first.
func (b *backend) Remove(ctx context.Context, loc file.Location) error {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.E(errors.NotSupported, fmt.Sprintf("minio remove %s: buckets are not removed", loc))
	}
	if _, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return translate(ctx, err, "remove", loc)
	}
	if err := b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return translate(ctx, err, "remove", loc)
	}
	return nil
}

// Mkdir implements file.Backend. Below a bucket it does nothing; at a
// bucket it creates the bucket if it does not exist.
func (b *backend) Mkdir(ctx context.Context, loc file.Location) error {
	bucket, key, err := bucketKey(loc)
	if err != nil || key != "" {
		return err
	}
	ok, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return translate(ctx, err, "mkdir", loc)
	}
	if ok {
		return nil
	}
	if err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
		return translate(ctx, err, "mkdir", loc)
	}
	log.Printf("miniofile: created bucket %s on %s", bucket, b.endpoint)
	return nil
}
