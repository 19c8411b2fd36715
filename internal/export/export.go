// Package export renders tabular records as comma-delimited text.
//
// Every cell is the JSON encoding of its value, so strings keep their
// quotes and commas inside them stay inside the quotes. It is not
// RFC 4180: embedded quotes are JSON-escaped, not doubled. All records
// are assumed to share the first record's keys in the same order.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Field is one named cell.
type Field struct {
	Key   string
	Value any
}

// Record is an ordered set of fields.
type Record []Field

// Keys returns the record's field names in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// ToDelimitedText renders records with a header row taken from the
// first record. Zero records render as "".
func ToDelimitedText(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(records[0].Keys(), ","))
	for _, r := range records {
		sb.WriteByte('\n')
		for i, f := range r {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(cell(f.Value))
		}
	}
	return sb.String()
}

// Write streams ToDelimitedText(records) to w.
func Write(w io.Writer, records []Record) error {
	_, err := io.WriteString(w, ToDelimitedText(records))
	return err
}

func cell(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// ErrNotTabular is returned when a value cannot be viewed as rows.
var ErrNotTabular = errors.New("value is not a list of records")

// RecordsFrom converts v, typically a slice of structs, into records.
// Field order follows the JSON encoding of each element. A single
// object becomes one record; scalar elements become a one-field
// record keyed "value".
func RecordsFrom(v any) ([]Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding records: %w", err)
	}
	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		var out []Record
		root.ForEach(func(_, elem gjson.Result) bool {
			out = append(out, recordOf(elem))
			return true
		})
		if out == nil {
			out = []Record{}
		}
		return out, nil
	case root.IsObject():
		return []Record{recordOf(root)}, nil
	case root.Type == gjson.Null:
		return []Record{}, nil
	default:
		return nil, ErrNotTabular
	}
}

func recordOf(elem gjson.Result) Record {
	if !elem.IsObject() {
		return Record{{Key: "value", Value: json.RawMessage(elem.Raw)}}
	}
	var r Record
	elem.ForEach(func(key, value gjson.Result) bool {
		r = append(r, Field{
			Key:   key.String(),
			Value: json.RawMessage(value.Raw),
		})
		return true
	})
	return r
}
