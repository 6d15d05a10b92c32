package baches

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is a JSON object that keeps its key order, so raw files and CSV
// columns follow the portal's field order.
type Record struct {
	keys   []string
	values map[string]any
}

func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Keys returns the field names in order. A nil record, as decoded from a JSON
// null, has none.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return r.keys
}

func (r *Record) Get(key string) any {
	if r == nil {
		return nil
	}
	return r.values[key]
}

// Set adds or replaces a value. Replacing keeps the original position.
func (r *Record) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Merge copies every field of other into r.
func (r *Record) Merge(other *Record) {
	for _, k := range other.keys {
		r.Set(k, other.values[k])
	}
}

// String renders a value as a CSV cell. Nested values are compact JSON.
func (r *Record) String(key string) string {
	switch v := r.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := marshalValue(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	*r = Record{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: unexpected key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("record: field %s: %w", key, err)
		}
		r.Set(key, v)
	}
	return nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalValue(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("record: field %s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalValue encodes v without escaping HTML characters; addresses and
// image URLs are kept readable.
func marshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
