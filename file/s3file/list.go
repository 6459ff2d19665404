// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package s3file

import (
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/file"
	"github.com/lowes/lvfs/log"
)

// List implements file.Backend.
func (b *backend) List(ctx context.Context, loc file.Location, recursive bool) ([]file.Entry, error) {
	bucket, key, err := bucketKey(loc)
	if err != nil {
		return nil, err
	}
	if key != "" {
		info, err := b.head(ctx, bucket, key, loc)
		if err == nil {
			return []file.Entry{{Path: loc.Path(), Info: info}}, nil
		}
		if !errors.Is(errors.NotExist, err) {
			return nil, err
		}
	}
	var (
		prefix  = dirPrefix(key)
		root    = pathSeparator + bucket + pathSeparator
		entries []file.Entry
		token   *string
		// empty counts consecutive pages with no records. Many of them
		// make a listing appear to hang.
		empty int
		// marked is set if a directory marker lies under the prefix.
		marked bool
	)
	for {
		req := &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			ContinuationToken: token,
			Prefix:            aws.String(prefix),
		}
		if !recursive {
			req.Delimiter = aws.String(pathSeparator)
		}
		var ids s3RequestIDs
		res, err := b.client.ListObjectsV2WithContext(ctx, req, ids.captureOption())
		if err != nil {
			return nil, annotate(err, ids, "s3file.list", loc.String())
		}
		if len(res.Contents)+len(res.CommonPrefixes) > 0 {
			empty = 0
		} else if empty++; empty > 7 && empty&(empty-1) == 0 {
			log.Printf("s3file.list: warning: S3 returned empty response %d consecutive times", empty)
		}
		for _, obj := range res.Contents {
			k := aws.StringValue(obj.Key)
			if strings.HasSuffix(k, pathSeparator) {
				// A directory marker.
				marked = true
				continue
			}
			entries = append(entries, file.Entry{
				Path: root + k,
				Info: file.Info{
					Exists:  true,
					Size:    aws.Int64Value(obj.Size),
					ModTime: aws.TimeValue(obj.LastModified),
				},
			})
		}
		for _, cp := range res.CommonPrefixes {
			// Directories do not come back with a trailing separator.
			entries = append(entries, file.Entry{
				Path: root + strings.TrimSuffix(aws.StringValue(cp.Prefix), pathSeparator),
				Info: file.Info{Exists: true, IsDir: true},
			})
		}
		if !aws.BoolValue(res.IsTruncated) {
			break
		}
		token = res.NextContinuationToken
	}
	// An empty bucket, or a prefix holding only markers, is an empty
	// directory; the listing above already failed if the bucket is missing.
	if len(entries) == 0 && key != "" && !marked {
		return nil, errors.E(errors.NotExist, "s3file.list", loc.String())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
