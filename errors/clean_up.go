// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import "fmt"

// CleanUp is defer-able syntactic sugar that calls f and reports an error, if any,
// to *err. Pass the caller's named return error. Example usage:
//
//	func readShard(path string) (_ []byte, err error) {
//	  f, err := os.Open(path)
//	  if err != nil { ... }
//	  defer errors.CleanUp(f.Close, &err)
//	  ...
//	}
//
// If the caller returns with its own error, the clean-up error is appended
// to its message rather than chained as its cause.
func CleanUp(cleanUp func() error, dst *error) {
	err2 := cleanUp()
	if err2 == nil {
		return
	}
	if *dst == nil {
		*dst = err2
		return
	}
	*dst = E(*dst, fmt.Sprintf("second error in close: %v", err2))
}
