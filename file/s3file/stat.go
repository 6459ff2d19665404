// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package s3file

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
)

// Stat implements file.Backend. A key that is not an object but prefixes
// one is a directory, as is the bucket itself.
func (b *backend) Stat(ctx context.Context, loc file.Location) (file.Info, error) {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return file.Info{}, err
	}
	if key != "" {
		info, err := b.head(ctx, bucket, key, loc)
		if err == nil || !errors.Is(errors.NotExist, err) {
			return info, err
		}
	}
	var ids s3RequestIDs
	output, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(dirPrefix(key)),
		MaxKeys: aws.Int64(1),
	}, ids.captureOption())
	if err != nil {
		return file.Info{}, annotate(err, ids, "s3file.stat", loc.String())
	}
	if key != "" && len(output.Contents) == 0 && len(output.CommonPrefixes) == 0 {
		return file.Info{}, errors.E(errors.NotExist, "s3file.stat", loc.String())
	}
	return file.Info{Exists: true, IsDir: true}, nil
}

// head returns the metadata of object key.
func (b *backend) head(ctx context.Context, bucket, key string, loc file.Location) (file.Info, error) {
	var ids s3RequestIDs
	output, err := b.client.HeadObjectWithContext(ctx,
		&s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		ids.captureOption())
	if err != nil {
		return file.Info{}, annotate(err, ids, "s3file.stat", loc.String())
	}
	if output.ContentLength == nil || output.LastModified == nil {
		return file.Info{}, errors.E(errors.NotExist, "s3file.stat: incomplete metadata", loc.String(), "("+ids.String()+")")
	}
	if *output.ContentLength == 0 && strings.HasSuffix(key, pathSeparator) {
		// A directory marker.
		return file.Info{}, errors.E(errors.NotExist, "s3file.stat: directory marker at", loc.String())
	}
	return file.Info{Exists: true, Size: *output.ContentLength, ModTime: *output.LastModified}, nil
}

func dirPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, pathSeparator) {
		return key
	}
	return key + pathSeparator
}
