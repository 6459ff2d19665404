// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package s3file

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	awsrequest "github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/lowes/lvfs/errors"
)

// annotate interprets err as an AWS request error and returns a version of
// it with a kind from the errors package. The optional args are passed to
// errors.E.
func annotate(err error, ids s3RequestIDs, args ...interface{}) error {
	e := func(kind errors.Kind) error {
		msgs := append([]interface{}{kind}, args...)
		if ids.amzRequestID != "" {
			msgs = append(msgs, "("+ids.String()+")")
		}
		return errors.E(append(msgs, err)...)
	}
	aerr, ok := getAWSError(err)
	if !ok {
		return e(errors.Other)
	}
	if aerr.Code() == awsrequest.CanceledErrorCode {
		return e(errors.Canceled)
	}
	if awsrequest.IsErrorThrottle(err) || awsrequest.IsErrorRetryable(err) || transient(aerr) {
		return e(errors.Unreachable)
	}
	switch aerr.Code() {
	// Code NotFound is not documented, but it's what HeadObject returns.
	case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey, "NoSuchVersion", "NotFound":
		return e(errors.NotExist)
	case "AccessDenied", "AllAccessDisabled", "AccountProblem":
		return e(errors.NotAllowed)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken",
		"TokenRefreshRequired", "NoCredentialProviders":
		return e(errors.Auth)
	case "InvalidRequest", "InvalidArgument", "InvalidBucketName", "EntityTooSmall",
		"EntityTooLarge", "KeyTooLong", "MethodNotAllowed":
		return e(errors.Invalid)
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou", "PreconditionFailed":
		return e(errors.Exists)
	case "NotImplemented":
		return e(errors.NotSupported)
	}
	return e(errors.Other)
}

// transient reports errors that the SDK's own retry policy does not call
// retryable but that mean the service could not be reached.
func transient(aerr awserr.Error) bool {
	switch aerr.Code() {
	case awsrequest.ErrCodeSerialization, awsrequest.ErrCodeRead, "RequestError",
		"SlowDown", "InternalError", "InternalServerError", "ServiceUnavailable",
		"XAmzContentSHA256Mismatch":
		return true
	}
	msg := aerr.Message()
	return strings.HasSuffix(strings.TrimSpace(msg), "no such host") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "Service Unavailable")
}

func getAWSError(err error) (awsError awserr.Error, found bool) {
	errors.Visit(err, func(err error) {
		if err == nil || awsError != nil {
			return
		}
		if e, ok := err.(awserr.Error); ok {
			found = true
			awsError = e
		}
	})
	return
}

type s3RequestIDs struct {
	amzRequestID string
	amzID2       string
}

func (ids s3RequestIDs) String() string {
	return fmt.Sprintf("x-amz-request-id: %s, x-amz-id-2: %s", ids.amzRequestID, ids.amzID2)
}

// withResponseHeader is awsrequest.WithGetResponseHeader, except that it
// does not crash when the request fails without an HTTP response.
func withResponseHeader(key string, val *string) awsrequest.Option {
	return func(r *awsrequest.Request) {
		r.Handlers.Complete.PushBack(func(req *awsrequest.Request) {
			*val = "(no HTTP response)"
			if req.HTTPResponse != nil && req.HTTPResponse.Header != nil {
				*val = req.HTTPResponse.Header.Get(key)
			}
		})
	}
}

func (ids *s3RequestIDs) captureOption() awsrequest.Option {
	h0 := withResponseHeader("x-amz-request-id", &ids.amzRequestID)
	h1 := withResponseHeader("x-amz-id-2", &ids.amzID2)
	return func(r *awsrequest.Request) {
		h0(r)
		h1(r)
	}
}
