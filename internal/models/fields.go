package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FieldKind enumerates the scalar value kinds a custom field may hold.
type FieldKind int

const (
	FieldNull FieldKind = iota
	FieldString
	FieldNumber
	FieldBool
)

// FieldValue is a single custom-field value. The value space is a closed set
// of scalar kinds so that rendering is total: every value stringifies.
type FieldValue struct {
	Kind FieldKind
	Str  string
	Num  float64
	Bool bool
}

// String renders the value as it appears in personalized content.
func (v FieldValue) String() string {
	switch v.Kind {
	case FieldString:
		return v.Str
	case FieldNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case FieldBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// MarshalJSON encodes the value as its underlying scalar.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case FieldString:
		return json.Marshal(v.Str)
	case FieldNumber:
		return json.Marshal(v.Num)
	case FieldBool:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a scalar JSON value. Arrays and objects are rejected.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		*v = FieldValue{Kind: FieldNull}
	case string:
		*v = FieldValue{Kind: FieldString, Str: val}
	case float64:
		*v = FieldValue{Kind: FieldNumber, Num: val}
	case bool:
		*v = FieldValue{Kind: FieldBool, Bool: val}
	default:
		return fmt.Errorf("custom field value must be a scalar, got %T", raw)
	}
	return nil
}

// CustomFields is the personalization variable map of a contact.
type CustomFields map[string]FieldValue

// Keys returns the field names in sorted order.
func (f CustomFields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseCustomFields decodes the JSON column value. An empty string yields an
// empty map.
func ParseCustomFields(raw string) (CustomFields, error) {
	if raw == "" {
		return CustomFields{}, nil
	}
	var f CustomFields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("failed to parse custom fields: %w", err)
	}
	if f == nil {
		f = CustomFields{}
	}
	return f, nil
}
