// Package normalize reads uploaded CSV or JSON plant data and maps it onto
// the five-table PlantData structure the analysis engine expects.
package normalize

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/windyield/windyield/pkg/types"
)

// Table is a parsed upload: ordered column names and string cells. Every row
// has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Read parses r according to fileType.
func Read(r io.Reader, fileType types.FileType) (*Table, error) {
	switch fileType {
	case types.FileTypeCSV:
		return ReadCSV(r)
	case types.FileTypeJSON:
		return ReadJSON(r)
	default:
		return nil, fmt.Errorf("unsupported file type: %q", fileType)
	}
}

// ReadCSV parses a CSV document whose first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	} else if err != nil {
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = strings.TrimSpace(h)
	}

	t := &Table{Columns: cols}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// ReadJSON parses either an array of records, a columnar object whose values
// are all arrays, or a single record object. Column order follows the first
// appearance of each key.
func ReadJSON(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, errors.New("json must be an array of records or an object")
	}

	var t *Table
	switch delim {
	case '[':
		t, err = readRecords(dec)
	case '{':
		t, err = readObject(dec)
	default:
		return nil, errors.New("json must be an array of records or an object")
	}
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid json: unexpected data after document")
	}
	return t, nil
}

type orderedObject struct {
	keys   []string
	values map[string]json.RawMessage
}

// readObjectBody reads key/value pairs until the closing brace. The opening
// brace must already be consumed.
func readObjectBody(dec *json.Decoder) (orderedObject, error) {
	obj := orderedObject{values: map[string]json.RawMessage{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return obj, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return obj, errors.New("invalid json: expected object key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return obj, fmt.Errorf("invalid json: %w", err)
		}
		if _, dup := obj.values[key]; !dup {
			obj.keys = append(obj.keys, key)
		}
		obj.values[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return obj, fmt.Errorf("invalid json: %w", err)
	}
	return obj, nil
}

type tableBuilder struct {
	cols  []string
	index map[string]int
	rows  []map[int]string
}

func (b *tableBuilder) column(name string) int {
	if i, ok := b.index[name]; ok {
		return i
	}
	if b.index == nil {
		b.index = map[string]int{}
	}
	b.index[name] = len(b.cols)
	b.cols = append(b.cols, name)
	return b.index[name]
}

func (b *tableBuilder) addRecord(obj orderedObject) error {
	row := make(map[int]string, len(obj.keys))
	for _, k := range obj.keys {
		cell, err := cellString(obj.values[k])
		if err != nil {
			return err
		}
		row[b.column(k)] = cell
	}
	b.rows = append(b.rows, row)
	return nil
}

func (b *tableBuilder) table() *Table {
	t := &Table{Columns: b.cols, Rows: make([][]string, len(b.rows))}
	for i, row := range b.rows {
		cells := make([]string, len(b.cols))
		for j, v := range row {
			cells[j] = v
		}
		t.Rows[i] = cells
	}
	return t
}

func readRecords(dec *json.Decoder) (*Table, error) {
	var b tableBuilder
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, errors.New("json array must contain only objects")
		}
		obj, err := readObjectBody(dec)
		if err != nil {
			return nil, err
		}
		if err := b.addRecord(obj); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return b.table(), nil
}

func readObject(dec *json.Decoder) (*Table, error) {
	obj, err := readObjectBody(dec)
	if err != nil {
		return nil, err
	}

	columnar := len(obj.keys) > 0
	for _, k := range obj.keys {
		if v := bytes.TrimSpace(obj.values[k]); len(v) == 0 || v[0] != '[' {
			columnar = false
			break
		}
	}
	if !columnar {
		var b tableBuilder
		if err := b.addRecord(obj); err != nil {
			return nil, err
		}
		return b.table(), nil
	}

	t := &Table{Columns: obj.keys}
	for j, k := range obj.keys {
		var values []json.RawMessage
		if err := json.Unmarshal(obj.values[k], &values); err != nil {
			return nil, fmt.Errorf("invalid json column %q: %w", k, err)
		}
		for i, raw := range values {
			for len(t.Rows) <= i {
				t.Rows = append(t.Rows, make([]string, len(obj.keys)))
			}
			cell, err := cellString(raw)
			if err != nil {
				return nil, err
			}
			t.Rows[i][j] = cell
		}
	}
	return t, nil
}

// cellString renders a JSON value as a cell. null becomes empty and nested
// values keep their JSON text.
func cellString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var out string
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("invalid json string: %w", err)
		}
		return out, nil
	default:
		return string(raw), nil
	}
}
