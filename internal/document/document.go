// Package document defines the record shape accepted by the index writer: an
// ordered list of typed, flagged fields.
package document

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// FieldType selects how a field value is interpreted.
type FieldType uint8

const (
	// Text values are run through the analyzer.
	Text FieldType = iota + 1
	// Keyword values are indexed as one verbatim term.
	Keyword
	// Int values are 64-bit integers and support range queries.
	Int
)

func (t FieldType) String() string {
	switch t {
	case Text:
		return "text"
	case Keyword:
		return "keyword"
	case Int:
		return "int"
	default:
		return "unknown"
	}
}

func (t FieldType) MarshalText() ([]byte, error) {
	if t < Text || t > Int {
		return nil, fmt.Errorf("invalid field type %d", t)
	}
	return []byte(t.String()), nil
}

func (t *FieldType) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseFieldType is the inverse of FieldType.String.
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "text":
		return Text, nil
	case "keyword":
		return Keyword, nil
	case "int":
		return Int, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

// Field is one named value of a document. A field with none of Stored,
// Indexed or Faceted set is accepted and ignored.
type Field struct {
	Name    string
	Type    FieldType
	Value   any
	Stored  bool
	Indexed bool
	Faceted bool
}

// Document is an ordered, non-unique-keyed sequence of fields.
type Document struct {
	Fields []Field
}

func New(fields ...Field) Document {
	return Document{Fields: fields}
}

// Add appends a field and returns the document for chaining.
func (d *Document) Add(f Field) *Document {
	d.Fields = append(d.Fields, f)
	return d
}

// TextField is analyzed and indexed; stored when store is true.
func TextField(name, value string, store bool) Field {
	return Field{Name: name, Type: Text, Value: value, Indexed: true, Stored: store}
}

// KeywordField is indexed as a single exact term.
func KeywordField(name, value string, store bool) Field {
	return Field{Name: name, Type: Keyword, Value: value, Indexed: true, Stored: store}
}

// IntField is indexed for range queries.
func IntField(name string, value int64, store bool) Field {
	return Field{Name: name, Type: Int, Value: value, Indexed: true, Stored: store}
}

// FacetField contributes a (dimension, label) pair and nothing else.
func FacetField(dimension, label string) Field {
	return Field{Name: dimension, Type: Keyword, Value: label, Faceted: true}
}

// StoredField is retrievable from hits but not searchable.
func StoredField(name string, value any) Field {
	f := Field{Name: name, Value: value, Stored: true}
	if _, ok := value.(string); ok {
		f.Type = Keyword
	} else {
		f.Type = Int
	}
	return f
}

// Inert reports whether the field has no effect on the index.
func (f Field) Inert() bool {
	return !f.Stored && !f.Indexed && !f.Faceted
}

// Normalize checks that the value matches the field type and returns it in
// canonical form: string for Text and Keyword, int64 for Int.
func (f Field) Normalize() (any, error) {
	switch f.Type {
	case Text, Keyword:
		s, ok := f.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%s field requires a string value, got %T", f.Type, f.Value)
		}
		return s, nil
	case Int:
		switch v := f.Value.(type) {
		case int:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint:
			if uint64(v) > math.MaxInt64 {
				return nil, fmt.Errorf("int field value %d overflows int64", v)
			}
			return int64(v), nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case uint64:
			if v > math.MaxInt64 {
				return nil, fmt.Errorf("int field value %d overflows int64", v)
			}
			return int64(v), nil
		default:
			return nil, fmt.Errorf("int field requires an integer value, got %T", f.Value)
		}
	default:
		return nil, fmt.Errorf("unknown field type %d", f.Type)
	}
}

// Label renders the value as a facet label.
func (f Field) Label() string {
	switch v := f.Value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

// Get returns the value of the first field with the given name.
func (d Document) Get(name string) (any, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString is Get for string-valued fields.
func (d Document) GetString(name string) string {
	v, ok := d.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Map flattens stored fields into a name to value map. Repeated names
// collect their values into a slice in document order.
func (d Document) Map() map[string]any {
	out := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		prev, ok := out[f.Name]
		if !ok {
			out[f.Name] = f.Value
			continue
		}
		if list, isList := prev.([]any); isList {
			out[f.Name] = append(list, f.Value)
		} else {
			out[f.Name] = []any{prev, f.Value}
		}
	}
	return out
}

type fieldJSON struct {
	Name    string          `json:"name"`
	Type    FieldType       `json:"type"`
	Value   json.RawMessage `json:"value"`
	Stored  bool            `json:"stored,omitempty"`
	Indexed bool            `json:"indexed,omitempty"`
	Faceted bool            `json:"faceted,omitempty"`
}

// MarshalJSON keeps the field type alongside the value so integers survive
// a round trip as int64 rather than float64.
func (f Field) MarshalJSON() ([]byte, error) {
	v, err := f.Normalize()
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldJSON{
		Name:    f.Name,
		Type:    f.Type,
		Value:   raw,
		Stored:  f.Stored,
		Indexed: f.Indexed,
		Faceted: f.Faceted,
	})
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Field{
		Name:    raw.Name,
		Type:    raw.Type,
		Stored:  raw.Stored,
		Indexed: raw.Indexed,
		Faceted: raw.Faceted,
	}
	switch raw.Type {
	case Int:
		var n int64
		if err := json.Unmarshal(raw.Value, &n); err != nil {
			return fmt.Errorf("field %q: %w", raw.Name, err)
		}
		f.Value = n
	default:
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return fmt.Errorf("field %q: %w", raw.Name, err)
		}
		f.Value = s
	}
	return nil
}
