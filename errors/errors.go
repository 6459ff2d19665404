// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors implements the error type used throughout lvfs.
// Every error carries a Kind that callers can test with Is, so that
// "no credential matched this location" can be told apart from "the
// tunnel could not be opened" or "the object does not exist" without
// string matching. Errors chain: an error built from another keeps the
// cause, and the full chain is printed by Error.
//
// Backends translate the errors of their client libraries into these
// kinds before returning them; nothing outside a backend package should
// ever need to inspect an AWS, MinIO, Google API, or WebHDFS error.
package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/lowes/lvfs/log"
)

// Separator defines the separation string inserted between
// chained errors in error messages.
var Separator = ":\n\t"

// Kind defines the type of error. Kinds are semantically
// meaningful, and may be interpreted by the receiver of an error.
type Kind int

const (
	// Other indicates an unknown error.
	Other Kind = iota
	// Canceled indicates a context cancellation.
	Canceled
	// Timeout indicates an operation time out.
	Timeout
	// NotExist indicates a nonexistent path or object.
	NotExist
	// NotAllowed indicates a permission failure reported by a backend.
	NotAllowed
	// NotSupported indicates that a backend does not implement an
	// operation, or that a structured format is unknown.
	NotSupported
	// Exists indicates that a resource already exists.
	Exists
	// Invalid indicates that the caller supplied invalid parameters,
	// such as a malformed location string.
	Invalid
	// Net indicates a network error not otherwise classified.
	Net
	// TooManyTries indicates a retry budget was exhausted.
	TooManyTries
	// UnsupportedScheme indicates a location scheme with no registered
	// backend variant.
	UnsupportedScheme
	// Unresolved indicates that no configured profile matched a
	// location.
	Unresolved
	// InvalidConfig indicates a profile that violates the connection
	// legality rules, or a malformed credential file.
	InvalidConfig
	// Tunnel indicates that an SSH tunnel could not be established.
	Tunnel
	// Auth indicates an authentication failure: a rejected password, a
	// missing or expired Kerberos ticket, or unusable SSH keys.
	Auth
	// Unreachable indicates that no endpoint of a backend answered.
	Unreachable

	maxKind
)

var kinds = map[Kind]string{
	Other:             "unknown error",
	Canceled:          "operation was canceled",
	Timeout:           "operation timed out",
	NotExist:          "resource does not exist",
	NotAllowed:        "access denied",
	NotSupported:      "operation not supported",
	Exists:            "resource already exists",
	Invalid:           "invalid argument",
	Net:               "network error",
	TooManyTries:      "too many tries",
	UnsupportedScheme: "unsupported scheme",
	Unresolved:        "no matching credential",
	InvalidConfig:     "invalid configuration",
	Tunnel:            "tunnel failure",
	Auth:              "authentication failed",
	Unreachable:       "endpoint unreachable",
}

// String returns a human-readable explanation of the error kind k.
func (k Kind) String() string {
	return kinds[k]
}

// Error is the standard error type, carrying a kind (error code),
// message (error message), and potentially an underlying error.
// Errors should be constructed by errors.E, which interprets
// arguments according to a set of rules.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Message is an optional error message associated with this error.
	Message string
	// Err is the error that caused this error, if any.
	Err error
}

// E constructs a new error from the provided arguments. It is meant
// as a convenient way to construct, annotate, and wrap errors.
//
// Arguments are interpreted according to their types:
//
//   - Kind: sets the Error's kind
//   - string: sets the Error's message; multiple strings are
//     separated by a single space
//   - *Error: copies the error and sets the error's cause
//   - error: sets the Error's cause
//
// If an unrecognized argument type is encountered, an error with
// kind Invalid is returned.
//
// If a kind is not provided, but an underlying error is, E attempts to
// interpret the underlying error:
//
//   - os.IsNotExist(error) gives NotExist;
//   - os.IsPermission(error) gives NotAllowed;
//   - context.Canceled gives Canceled;
//   - an error with Timeout() == true gives Timeout.
//
// If the underlying error is another *Error, and a kind is not provided,
// the returned error inherits that error's kind.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	var msg strings.Builder
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case string:
			if msg.Len() > 0 {
				msg.WriteString(" ")
			}
			msg.WriteString(arg)
		case *Error:
			copy := *arg
			if len(args) == 1 {
				return &copy
			}
			e.Err = &copy
		case error:
			e.Err = arg
		case nil:
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Error.Printf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, arg)
			return &Error{
				Kind:    Invalid,
				Message: fmt.Sprintf("unknown type %T, value %v in error call", arg, arg),
			}
		}
	}
	e.Message = msg.String()
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind || e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
	default:
		if e.Kind != Other {
			break
		}
		switch {
		case os.IsNotExist(e.Err):
			e.Kind = NotExist
		case os.IsPermission(e.Err):
			e.Kind = NotAllowed
		case e.Err == context.Canceled:
			e.Kind = Canceled
		case e.Err == context.DeadlineExceeded:
			e.Kind = Timeout
		default:
			if err, ok := e.Err.(interface{ Timeout() bool }); ok && err.Timeout() {
				e.Kind = Timeout
			}
		}
	}
	return e
}

// Errorf is E(kind, fmt.Sprintf(format, args...)).
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Recover recovers any error into an *Error. If the passed-in Error is already
// an error, it is simply returned; otherwise it is wrapped in an error.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return E(err).(*Error)
}

// Error returns a human readable string describing this error.
// It uses the separator defined by errors.Separator.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b bytes.Buffer
	e.writeError(&b)
	return b.String()
}

func (e *Error) writeError(b *bytes.Buffer) {
	if e.Message != "" {
		pad(b, ": ")
		b.WriteString(e.Message)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err == nil {
		return
	}
	if err, ok := e.Err.(*Error); ok {
		pad(b, Separator)
		b.WriteString(err.Error())
	} else {
		pad(b, ": ")
		b.WriteString(e.Err.Error())
	}
}

// Unwrap returns the cause of e, so that the standard library's
// errors.Is and errors.As see through the chain.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout tells whether this error is a timeout error.
func (e *Error) Timeout() bool {
	return e.Kind == Timeout
}

// Is tells whether an error has a specified kind, except for the
// indeterminate kind Other. In the case an error has kind Other, the
// chain is traversed until a non-Other error is encountered.
func Is(kind Kind, err error) bool {
	if err == nil {
		return false
	}
	return is(kind, Recover(err))
}

func is(kind Kind, e *Error) bool {
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		if e2, ok := e.Err.(*Error); ok {
			return is(kind, e2)
		}
	}
	return false
}

// IsConnection tells whether err is one of the connection failures:
// Tunnel, Auth, or Unreachable.
func IsConnection(err error) bool {
	return Is(Tunnel, err) || Is(Auth, err) || Is(Unreachable, err)
}

// Match tells whether every nonempty field in err1
// matches the corresponding fields in err2. The comparison
// recurses on chained errors. Match is designed to aid in
// testing errors.
func Match(err1, err2 error) bool {
	var (
		e1 = Recover(err1)
		e2 = Recover(err2)
	)
	if e1.Kind != Other && e1.Kind != e2.Kind {
		return false
	}
	if e1.Message != "" && e1.Message != e2.Message {
		return false
	}
	if e1.Err != nil {
		if e2.Err == nil {
			return false
		}
		switch e1.Err.(type) {
		case *Error:
			return Match(e1.Err, e2.Err)
		default:
			return e1.Err.Error() == e2.Err.Error()
		}
	}
	return true
}

// Visit calls the given function for every error object in the chain, including
// itself.  Recursion stops after the function finds an error object of type
// other than *Error.
func Visit(err error, callback func(err error)) {
	callback(err)
	for {
		next, ok := err.(*Error)
		if !ok {
			break
		}
		err = next.Err
		callback(err)
	}
}

// New is synonymous with errors.New, and is provided here so that
// users need only import one errors package.
func New(msg string) error {
	return errors.New(msg)
}

// As is synonymous with the standard library's errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}
