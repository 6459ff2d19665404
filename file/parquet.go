// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lowes/lvfs/errors"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

const parquetParallelism = 4

// parquetCodec reads any flat parquet file into rows keyed by column
// name. It writes every column as an optional UTF-8 string, since rows
// carry no schema.
type parquetCodec struct{}

func (parquetCodec) Decode(data []byte, _ ReadOpts, t *Table) (err error) {
	pr, err := reader.NewParquetReader(newParquetBytes(data), nil, parquetParallelism)
	if err != nil {
		return errors.E(errors.Invalid, "open parquet", err)
	}
	defer pr.ReadStop()
	n := int(pr.GetNumRows())
	if n == 0 {
		return nil
	}
	names, err := parquetColumnNames(pr)
	if err != nil {
		return err
	}
	objs, err := pr.ReadByNumber(n)
	if err != nil {
		return errors.E(errors.Invalid, "read parquet", err)
	}
	// Rows come back as generated structs whose fields carry exported Go
	// names; JSON turns them into maps, which are rekeyed by the file's
	// column names.
	for _, obj := range objs {
		b, err := json.Marshal(obj)
		if err != nil {
			return errors.E(errors.Invalid, "read parquet", err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var fields map[string]interface{}
		if err := dec.Decode(&fields); err != nil {
			return errors.E(errors.Invalid, "read parquet", err)
		}
		row := make(Row, len(fields))
		for k, v := range fields {
			if name, ok := names[k]; ok {
				k = name
			}
			row[k] = v
		}
		t.addRow(row)
	}
	return nil
}

// parquetColumnNames maps the Go field name parquet-go generates for each
// top-level column to the column's name in the file. Columns whose names
// map to the same field cannot be read.
func parquetColumnNames(pr *reader.ParquetReader) (map[string]string, error) {
	var (
		elems = pr.SchemaHandler.SchemaElements
		infos = pr.SchemaHandler.Infos
		names = make(map[string]string)
	)
	for i := 1; i < len(elems); i = skipSchemaSubtree(elems, i) {
		if i >= len(infos) {
			break
		}
		in, ex := infos[i].InName, elems[i].GetName()
		if prev, ok := names[in]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("read parquet: columns %q and %q share the field name %s", prev, ex, in))
		}
		names[in] = ex
	}
	return names, nil
}

// skipSchemaSubtree returns the index of the element following the
// subtree rooted at elems[i] in a depth-first schema list.
func skipSchemaSubtree(elems []*parquet.SchemaElement, i int) int {
	n := elems[i].GetNumChildren()
	i++
	for ; n > 0 && i < len(elems); n-- {
		i = skipSchemaSubtree(elems, i)
	}
	return i
}

func (parquetCodec) Encode(t *Table) ([]byte, error) {
	columns := t.columns()
	if len(columns) == 0 {
		return nil, errors.E(errors.Invalid, "encode parquet: table has no columns")
	}
	var buf bytes.Buffer
	pfw := writerfile.NewWriterFile(&buf)
	pw, err := writer.NewJSONWriter(parquetSchema(columns), pfw, parquetParallelism)
	if err != nil {
		return nil, errors.E(errors.Invalid, "encode parquet", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range t.Rows {
		rec := make(map[string]interface{}, len(columns))
		for _, c := range columns {
			if v, ok := row[c]; ok && v != nil {
				rec[c] = fmt.Sprint(v)
			}
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, errors.E(errors.Invalid, "encode parquet", err)
		}
		if err := pw.Write(string(b)); err != nil {
			_ = pw.WriteStop()
			return nil, errors.E(errors.Invalid, "encode parquet", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, errors.E(errors.Invalid, "encode parquet", err)
	}
	if err := pfw.Close(); err != nil {
		return nil, errors.E(errors.Invalid, "encode parquet", err)
	}
	return buf.Bytes(), nil
}

func parquetSchema(columns []string) string {
	fields := make([]map[string]string, len(columns))
	for i, c := range columns {
		fields[i] = map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c),
		}
	}
	b, _ := json.Marshal(map[string]interface{}{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
	return string(b)
}

// parquetBytes is a read-only source.ParquetFile over an in-memory file.
// The reader opens one handle per column, each with its own offset.
type parquetBytes struct {
	data []byte
	*bytes.Reader
}

func newParquetBytes(data []byte) *parquetBytes {
	return &parquetBytes{data: data, Reader: bytes.NewReader(data)}
}

func (p *parquetBytes) Open(string) (source.ParquetFile, error) {
	return newParquetBytes(p.data), nil
}

func (p *parquetBytes) Create(string) (source.ParquetFile, error) {
	return nil, errors.E(errors.NotSupported, "parquet source is read-only")
}

func (p *parquetBytes) Write([]byte) (int, error) {
	return 0, errors.E(errors.NotSupported, "parquet source is read-only")
}

func (p *parquetBytes) Close() error { return nil }

var _ io.ReadSeeker = (*parquetBytes)(nil)
