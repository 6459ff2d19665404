// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/log"
)

// Row is one record of a table, keyed by column name.
type Row map[string]interface{}

// Partition is a subdirectory of a table directory. Partitions are
// listed, never read: a partition is assumed too large to combine with
// its siblings.
type Partition struct {
	Location Location
	// Keys holds the "k=v" pairs parsed from the directory name, such as
	// {"dt": "2020-01-01"} for ".../dt=2020-01-01".
	Keys map[string]string
}

// Table is the decoded content of a file or of a directory of shards.
type Table struct {
	// Format is the format the table was read in.
	Format string
	// Columns lists column names in first-seen order.
	Columns []string
	// Rows holds records: every row of a delimited or parquet table, and
	// every object of a JSON or YAML stream.
	Rows []Row
	// Documents holds every JSON or YAML value, objects included.
	Documents []interface{}
	// Text is the concatenated content of text shards.
	Text string
	// Shards lists the files that were decoded, in order.
	Shards []Location
	// Partitions lists the subdirectories of a non-recursive read.
	Partitions []Partition
}

// ReadOpts controls ReadStructured.
type ReadOpts struct {
	// Recursive reads every shard below the location, partitions
	// included, and adds the partition keys of each shard's directories
	// to its rows as columns.
	Recursive bool
	// Columns names the columns of headerless (ascii) tables.
	Columns []string
}

func (t *Table) addColumns(columns []string) {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		seen[c] = true
	}
	for _, c := range columns {
		if !seen[c] {
			seen[c] = true
			t.Columns = append(t.Columns, c)
		}
	}
}

func (t *Table) addRow(row Row) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t.addColumns(keys)
	t.Rows = append(t.Rows, row)
}

func (t *Table) addDocument(v interface{}) {
	t.Documents = append(t.Documents, v)
	if m, ok := v.(map[string]interface{}); ok {
		t.addRow(Row(m))
	}
}

// columns returns the table's columns, or the sorted union of its rows'
// keys if none were declared.
func (t *Table) columns() []string {
	if len(t.Columns) > 0 {
		return t.Columns
	}
	u := new(Table)
	for _, row := range t.Rows {
		u.addRow(row)
	}
	return u.Columns
}

// values returns the documents to encode: Documents if set, else Rows.
func (t *Table) values() []interface{} {
	if len(t.Documents) > 0 {
		return t.Documents
	}
	v := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		v[i] = map[string]interface{}(row)
	}
	return v
}

// ReadStructured decodes the file at loc in the given format. If loc is a
// directory, ReadStructured decodes and concatenates its shards: the files
// directly in it, in path order, skipping empty files and files whose
// names start with "_" or "." (such as _SUCCESS). Subdirectories are
// returned as Partitions and are not read, unless opts.Recursive is set.
// Files ending in ".gz" are decompressed first.
//
// ReadStructured returns an error of kind errors.NotSupported for an
// unknown format.
func ReadStructured(ctx context.Context, loc Location, format string, opts ReadOpts) (*Table, error) {
	codec, err := LookupFormat(format)
	if err != nil {
		return nil, err
	}
	info, err := Stat(ctx, loc)
	if err != nil {
		return nil, err
	}
	t := &Table{Format: strings.ToLower(format)}
	if !info.IsDir {
		return t, readShard(ctx, codec, loc, opts, nil, t)
	}
	entries, err := listEntries(ctx, loc, opts.Recursive)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		shard := loc.WithPath(e.Path)
		if e.IsDir {
			t.Partitions = append(t.Partitions, Partition{Location: shard, Keys: partitionKeys(shard.Base())})
			continue
		}
		if !isShard(shard, e.Info) {
			continue
		}
		var keys map[string]string
		if opts.Recursive {
			rel, err := shard.Dir().Rel(loc)
			if err != nil {
				return nil, err
			}
			keys = pathKeys(rel)
		}
		if err := readShard(ctx, codec, shard, opts, keys, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func isShard(loc Location, info Info) bool {
	base := loc.Base()
	if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
		return false
	}
	return info.Size > 0
}

func readShard(ctx context.Context, codec Codec, loc Location, opts ReadOpts, keys map[string]string, t *Table) error {
	data, err := ReadAll(ctx, loc)
	if err != nil {
		return err
	}
	if strings.HasSuffix(loc.Path(), ".gz") {
		if data, err = gunzip(data); err != nil {
			return errors.E(fmt.Sprintf("read %s", loc), err)
		}
	}
	n := len(t.Rows)
	if err := codec.Decode(data, opts, t); err != nil {
		return errors.E(fmt.Sprintf("read %s", loc), err)
	}
	if len(keys) > 0 {
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)
		t.addColumns(names)
		for _, row := range t.Rows[n:] {
			for k, v := range keys {
				if _, ok := row[k]; !ok {
					row[k] = v
				}
			}
		}
	}
	t.Shards = append(t.Shards, loc)
	log.Debug.Printf("read shard %s: %d bytes, %d rows", loc, len(data), len(t.Rows)-n)
	return nil
}

// partitionKeys parses a "k=v" directory name. Names of another shape
// have no keys.
func partitionKeys(name string) map[string]string {
	i := strings.IndexByte(name, '=')
	if i <= 0 {
		return nil
	}
	return map[string]string{name[:i]: name[i+1:]}
}

func pathKeys(rel string) map[string]string {
	keys := map[string]string{}
	for _, name := range strings.Split(rel, "/") {
		for k, v := range partitionKeys(name) {
			keys[k] = v
		}
	}
	return keys
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.E(errors.Invalid, "gunzip", err)
	}
	defer r.Close() // nolint: errcheck
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.E(errors.Invalid, "gunzip", err)
	}
	return out, nil
}

// WriteStructured encodes t in the given format and writes it to loc as a
// single file, compressed with gzip if loc ends in ".gz".
func WriteStructured(ctx context.Context, loc Location, format string, t *Table) error {
	codec, err := LookupFormat(format)
	if err != nil {
		return err
	}
	data, err := codec.Encode(t)
	if err != nil {
		return errors.E(fmt.Sprintf("write %s", loc), err)
	}
	if strings.HasSuffix(loc.Path(), ".gz") {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return errors.E(fmt.Sprintf("write %s", loc), err)
		}
		if err := w.Close(); err != nil {
			return errors.E(fmt.Sprintf("write %s", loc), err)
		}
		data = buf.Bytes()
	}
	return WriteAll(ctx, loc, data)
}
