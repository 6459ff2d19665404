// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package tsv reads and writes delimited tables: tab-separated,
// comma-separated, and the \x01-separated "ascii" tables written by Hive.
// Rows are exchanged as maps from column name to string value, so that
// shards with the same header can be concatenated without a schema.
//
// Reader wraps encoding/csv with header handling; Writer appends a field
// at a time, in the manner of bufio.Writer.
package tsv
