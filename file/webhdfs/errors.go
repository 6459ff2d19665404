// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webhdfs

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lowes/lvfs/errors"
)

// remoteException is the error body of a failed WebHDFS call.
type remoteException struct {
	RemoteException struct {
		Exception     string `json:"exception"`
		JavaClassName string `json:"javaClassName"`
		Message       string `json:"message"`
	} `json:"RemoteException"`
}

// exceptionKinds maps Hadoop exception names to error kinds.
var exceptionKinds = map[string]errors.Kind{
	"FileNotFoundException":            errors.NotExist,
	"AccessControlException":           errors.NotAllowed,
	"SecurityException":                errors.Auth,
	"AuthenticationException":          errors.Auth,
	"FileAlreadyExistsException":       errors.Exists,
	"PathIsNotEmptyDirectoryException": errors.Invalid,
	"ParentNotDirectoryException":      errors.Invalid,
	"IllegalArgumentException":         errors.Invalid,
	"UnsupportedOperationException":    errors.NotSupported,
	"StandbyException":                 errors.Unreachable,
	"RetriableException":               errors.Unreachable,
	"SafeModeException":                errors.Unreachable,
}

// statusKinds maps HTTP statuses to error kinds, for replies without a
// known exception.
var statusKinds = map[int]errors.Kind{
	http.StatusBadRequest:         errors.Invalid,
	http.StatusUnauthorized:       errors.Auth,
	http.StatusForbidden:          errors.NotAllowed,
	http.StatusNotFound:           errors.NotExist,
	http.StatusConflict:           errors.Exists,
	http.StatusBadGateway:         errors.Unreachable,
	http.StatusServiceUnavailable: errors.Unreachable,
	http.StatusGatewayTimeout:     errors.Unreachable,
}

// checkResponse returns nil for successful and redirect statuses, and
// otherwise translates the reply into an error naming op and path.
func checkResponse(resp *http.Response, op, path string) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var (
		kind = errors.Other
		msg  = fmt.Sprintf("webhdfs %s %s: %s", op, path, resp.Status)
		re   remoteException
	)
	if err := json.Unmarshal(body, &re); err == nil && re.RemoteException.Exception != "" {
		kind = exceptionKinds[re.RemoteException.Exception]
		msg = fmt.Sprintf("%s: %s: %s", msg, re.RemoteException.Exception, re.RemoteException.Message)
	}
	if kind == errors.Other {
		kind = statusKinds[resp.StatusCode]
	}
	if resp.StatusCode == http.StatusUnauthorized {
		kind = errors.Auth
	}
	return errors.E(kind, msg)
}
