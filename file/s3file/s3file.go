// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package s3file implements file.Backend for S3-compatible stores with
// aws-sdk-go. Locations are s3://endpoint/bucket/key: the host names the
// service and the first path segment the bucket. Directories are key
// prefixes.
package s3file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/log"
	"github.com/lowes/lvfs/realm"
)

// Path separator used by s3file.
const pathSeparator = "/"

// DefaultRegion is used by profiles that do not name a region.
const DefaultRegion = "us-east-1"

type backend struct {
	client   s3iface.S3API
	endpoint string
}

// New returns a backend that issues requests with client. The endpoint
// only names the backend in messages.
func New(client s3iface.S3API, endpoint string) file.Backend {
	return &backend{client: client, endpoint: endpoint}
}

// FromProfile is a realm.Constructor for S3 profiles. It signs requests
// with the profile's static keys. The service is the profile's endpoint,
// or its realm host, or AWS itself if neither is set; a named endpoint is
// addressed path-style, over TLS only if the profile is secure.
func FromProfile(ctx context.Context, p *realm.Profile, _ realm.Tunnel) (file.Backend, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = p.Realm.Host
	}
	region := p.Region
	if region == "" {
		region = DefaultRegion
	}
	config := &aws.Config{
		Credentials: credentials.NewStaticCredentials(p.AccessKey, p.SecretKey, ""),
		Region:      aws.String(region),
	}
	if endpoint != "" {
		config.Endpoint = aws.String(endpoint)
		config.S3ForcePathStyle = aws.Bool(true)
		config.DisableSSL = aws.Bool(!p.Secure && !strings.HasPrefix(endpoint, "https://"))
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, errors.E(errors.InvalidConfig, p.Name(), "create aws session", err)
	}
	name := endpoint
	if name == "" {
		name = region
	}
	log.Debug.Printf("s3file: %s: session for %s", p.Name(), name)
	return New(s3.New(sess), name), nil
}

func (b *backend) String() string {
	if b.endpoint != "" {
		return "s3(" + b.endpoint + ")"
	}
	return "s3"
}

func (*backend) Capabilities() file.Capabilities {
	return file.Capabilities{Streaming: true, ConcurrentSafe: true}
}

// bucketKey splits loc into an S3 bucket and key.
func bucketKey(loc file.Location) (bucket, key string, err error) {
	bucket, key = file.SplitBucket(loc.Path())
	if bucket == "" {
		return "", "", errors.E(errors.Invalid, fmt.Sprintf("s3file: %s names no bucket", loc))
	}
	return bucket, key, nil
}

// Open implements file.Streamer.
func (b *backend) Open(ctx context.Context, loc file.Location) (io.ReadCloser, error) {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return nil, err
	}
	var ids s3RequestIDs
	output, err := b.client.GetObjectWithContext(ctx,
		&s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		ids.captureOption())
	if err != nil {
		return nil, annotate(err, ids, "s3file.open", loc.String())
	}
	return output.Body, nil
}

// ReadAll implements file.Backend.
func (b *backend) ReadAll(ctx context.Context, loc file.Location) (data []byte, err error) {
	body, err := b.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer errors.CleanUp(body.Close, &err)
	if data, err = io.ReadAll(body); err != nil {
		return nil, errors.E(errors.Net, "s3file.read", loc.String(), err)
	}
	return data, nil
}

// WriteAll implements file.Backend.
func (b *backend) WriteAll(ctx context.Context, loc file.Location, data []byte) error {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return err
	}
	var ids s3RequestIDs
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}, ids.captureOption())
	if err != nil {
		return annotate(err, ids, "s3file.write", loc.String())
	}
	log.Debug.Printf("s3file: wrote %d bytes to %s", len(data), loc)
	return nil
}

// Remove implements file.Backend. S3 deletes missing keys without
// complaint, so Remove checks that the object exists first.
func (b *backend) Remove(ctx context.Context, loc file.Location) error {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return err
	}
	if _, err := b.head(ctx, bucket, key, loc); err != nil {
		return err
	}
	var ids s3RequestIDs
	_, err = b.client.DeleteObjectWithContext(ctx,
		&s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		ids.captureOption())
	if err != nil {
		return annotate(err, ids, "s3file.remove", loc.String())
	}
	return nil
}

// Mkdir implements file.Backend. It does nothing.
func (*backend) Mkdir(context.Context, file.Location) error { return nil }
