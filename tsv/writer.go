// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tsv

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Writer provides an efficient and concise way to append a field at a time
// to a delimited table. However, note that it does NOT have a Write()
// method; the interface is deliberately restricted.
//
// Fields are written verbatim, except that comma-separated fields holding
// a separator, a quote, or a newline are quoted.
type Writer struct {
	w    *bufio.Writer
	sep  byte
	line []byte
}

// NewWriter creates a new writer that separates fields with sep.
func NewWriter(w io.Writer, sep byte) *Writer {
	return &Writer{
		w:    bufio.NewWriter(w),
		sep:  sep,
		line: make([]byte, 0, 256),
	}
}

// WriteString appends the given string and a separator to the current
// line.
func (w *Writer) WriteString(s string) {
	if w.sep == Comma && strings.ContainsAny(s, ",\"\r\n") {
		w.line = append(w.line, '"')
		w.line = append(w.line, strings.ReplaceAll(s, `"`, `""`)...)
		w.line = append(w.line, '"')
	} else {
		w.line = append(w.line, s...)
	}
	w.line = append(w.line, w.sep)
}

// WriteInt64 converts the given int64 to a string, and appends that and a
// separator to the current line.
func (w *Writer) WriteInt64(i int64) {
	w.line = strconv.AppendInt(w.line, i, 10)
	w.line = append(w.line, w.sep)
}

// WriteFloat64 converts the given float64 to a string with the given
// strconv.AppendFloat parameters, and appends that and a separator to the
// current line.
func (w *Writer) WriteFloat64(f float64, fmt byte, prec int) {
	w.line = strconv.AppendFloat(w.line, f, fmt, prec, 64)
	w.line = append(w.line, w.sep)
}

// EndLine finishes the current line. It must be nonempty.
func (w *Writer) EndLine() (err error) {
	w.line[len(w.line)-1] = '\n'
	_, err = w.w.Write(w.line)
	w.line = w.line[:0]
	return
}

// Flush flushes all finished lines.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// WriteRows writes rows under the given columns. If header is set, a
// header line naming the columns is written first. Cells missing from a
// row are written empty.
func WriteRows(out io.Writer, sep byte, header bool, columns []string, rows []map[string]string) error {
	w := NewWriter(out, sep)
	if header && len(columns) > 0 {
		for _, c := range columns {
			w.WriteString(c)
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if len(columns) == 0 {
			continue
		}
		for _, c := range columns {
			w.WriteString(row[c])
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
