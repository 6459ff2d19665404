// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tsv

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/lowes/lvfs/errors"
)

// Separators of the supported table flavors.
const (
	Tab   = '\t'
	Comma = ','
	ASCII = '\x01'
)

// Reader reads a delimited table. It wraps around the standard csv.Reader
// and returns each row as a map keyed by column name. Thread compatible.
type Reader struct {
	*csv.Reader

	// HasHeaderRow should be set to true to indicate that the input
	// contains a single header row that lists column names of the rows
	// that follow. It must be set before reading any data.
	HasHeaderRow bool

	// Columns names the columns. If HasHeaderRow is set, it is filled
	// from the header on the first read; otherwise columns the caller
	// does not name are called "_c0", "_c1", and so on.
	Columns []string

	nRow int // # of rows read so far, excluding the header.
}

// NewReader creates a new reader that reads fields separated by sep.
func NewReader(in io.Reader, sep rune) *Reader {
	r := &Reader{Reader: csv.NewReader(in)}
	r.Reader.Comma = sep
	r.Reader.FieldsPerRecord = -1
	if sep != Comma {
		// Hive and shell tools do not quote.
		r.Reader.LazyQuotes = true
	}
	return r
}

func (r *Reader) readHeader() error {
	header, err := r.Reader.Read()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return errors.E(errors.Invalid, "read header", err)
	}
	r.Columns = append([]string(nil), header...)
	return nil
}

func (r *Reader) column(i int) string {
	if i < len(r.Columns) {
		return r.Columns[i]
	}
	return fmt.Sprintf("_c%d", i)
}

// Read reads the next row. It returns io.EOF at the end of input.
func (r *Reader) Read() (map[string]string, error) {
	if r.nRow == 0 && r.HasHeaderRow && len(r.Columns) == 0 {
		if err := r.readHeader(); err != nil {
			return nil, err
		}
	}
	fields, err := r.Reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("read row %d", r.nRow+1), err)
	}
	if r.HasHeaderRow && len(fields) > len(r.Columns) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("row %d has %d fields, but the header names %d", r.nRow+1, len(fields), len(r.Columns)))
	}
	row := make(map[string]string, len(fields))
	for i, f := range fields {
		row[r.column(i)] = f
	}
	r.nRow++
	return row, nil
}

// ReadAll reads every remaining row.
func (r *Reader) ReadAll() ([]map[string]string, error) {
	var rows []map[string]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}
