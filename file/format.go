// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/lowes/lvfs/errors"
	"github.com/lowes/lvfs/tsv"
	"gopkg.in/yaml.v3"
)

// Codec decodes and encodes one structured format. Decode appends what it
// finds in data to t, so that a table read from several shards is the
// concatenation of its shards.
type Codec interface {
	Decode(data []byte, opts ReadOpts, t *Table) error
	Encode(t *Table) ([]byte, error)
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Codec{}
)

// RegisterFormat registers the codec for a format name. It panics if the
// name is already registered.
func RegisterFormat(name string, c Codec) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	if _, ok := formats[name]; ok {
		panic(fmt.Sprintf("format %q registered twice", name))
	}
	formats[name] = c
}

// LookupFormat returns the codec registered for name. It returns an error
// of kind errors.NotSupported for unknown formats.
func LookupFormat(name string) (Codec, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	c, ok := formats[strings.ToLower(name)]
	if !ok {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("format %q", name))
	}
	return c, nil
}

// Formats lists the registered format names.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterFormat("json", jsonCodec{})
	RegisterFormat("yaml", yamlCodec{})
	RegisterFormat("text", textCodec{})
	RegisterFormat("csv", delimitedCodec{sep: tsv.Comma, header: true})
	RegisterFormat("tsv", delimitedCodec{sep: tsv.Tab, header: true})
	RegisterFormat("ascii", delimitedCodec{sep: tsv.ASCII})
	RegisterFormat("parquet", parquetCodec{})
}

// jsonCodec reads a stream of JSON values, such as JSON lines. Objects
// are also appended to the table's rows.
type jsonCodec struct{}

func (jsonCodec) Decode(data []byte, _ ReadOpts, t *Table) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for {
		var v interface{}
		err := dec.Decode(&v)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.E(errors.Invalid, "decode json", err)
		}
		t.addDocument(v)
	}
}

func (jsonCodec) Encode(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, v := range t.values() {
		if err := enc.Encode(v); err != nil {
			return nil, errors.E(errors.Invalid, "encode json", err)
		}
	}
	return buf.Bytes(), nil
}

// yamlCodec reads a stream of YAML documents.
type yamlCodec struct{}

func (yamlCodec) Decode(data []byte, _ ReadOpts, t *Table) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var v interface{}
		err := dec.Decode(&v)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.E(errors.Invalid, "decode yaml", err)
		}
		t.addDocument(v)
	}
}

func (yamlCodec) Encode(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, v := range t.values() {
		if err := enc.Encode(v); err != nil {
			return nil, errors.E(errors.Invalid, "encode yaml", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, errors.E(errors.Invalid, "encode yaml", err)
	}
	return buf.Bytes(), nil
}

type textCodec struct{}

func (textCodec) Decode(data []byte, _ ReadOpts, t *Table) error {
	t.Text += string(data)
	return nil
}

func (textCodec) Encode(t *Table) ([]byte, error) {
	return []byte(t.Text), nil
}

// delimitedCodec reads tables through package tsv. Headerless tables take
// their column names from ReadOpts.Columns.
type delimitedCodec struct {
	sep    byte
	header bool
}

func (c delimitedCodec) Decode(data []byte, opts ReadOpts, t *Table) error {
	r := tsv.NewReader(bytes.NewReader(data), rune(c.sep))
	r.HasHeaderRow = c.header
	if !c.header {
		r.Columns = opts.Columns
	}
	rows, err := r.ReadAll()
	if err != nil {
		return err
	}
	t.addColumns(r.Columns)
	for _, row := range rows {
		rec := make(Row, len(row))
		for k, v := range row {
			rec[k] = v
		}
		t.Rows = append(t.Rows, rec)
	}
	return nil
}

func (c delimitedCodec) Encode(t *Table) ([]byte, error) {
	columns := t.columns()
	rows := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = make(map[string]string, len(row))
		for k, v := range row {
			if v != nil {
				rows[i][k] = fmt.Sprint(v)
			}
		}
	}
	var buf bytes.Buffer
	if err := tsv.WriteRows(&buf, c.sep, c.header, columns, rows); err != nil {
		return nil, errors.E("encode table", err)
	}
	return buf.Bytes(), nil
}
