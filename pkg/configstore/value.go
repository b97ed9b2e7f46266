package configstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the stored type of a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDocument:
		return "document"
	default:
		return "invalid"
	}
}

// ParseKind maps a type name to a Kind. Accepts the aliases integer,
// boolean, json and object.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "string", "str":
		return KindString, nil
	case "int", "integer":
		return KindInt, nil
	case "float", "number":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	case "document", "json", "object", "array":
		return KindDocument, nil
	}
	return KindInvalid, ValidationError{Kind: TypeMismatch, Field: "type", Message: fmt.Sprintf("unknown value type %q", s)}
}

// Value is a typed configuration value. Exactly one variant is populated,
// selected by Kind. Values are immutable once constructed.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	doc  json.RawMessage
}

func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }

// DocumentValue wraps a JSON document (object, array or scalar). The input
// is validated and stored compacted.
func DocumentValue(raw []byte) (Value, error) {
	if !json.Valid(raw) {
		return Value{}, ValidationError{Kind: TypeMismatch, Field: "value", Message: "document is not valid JSON"}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Value{}, ValidationError{Kind: TypeMismatch, Field: "value", Message: err.Error()}
	}
	return Value{kind: KindDocument, doc: buf.Bytes()}, nil
}

// ParseValue converts textual input into a Value of the given kind.
func ParseValue(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindString:
		return StringValue(raw), nil
	case KindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Value{}, ValidationError{Kind: TypeMismatch, Field: "value", Message: fmt.Sprintf("%q is not an integer", raw)}
		}
		return IntValue(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, ValidationError{Kind: TypeMismatch, Field: "value", Message: fmt.Sprintf("%q is not a finite number", raw)}
		}
		return FloatValue(f), nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, ValidationError{Kind: TypeMismatch, Field: "value", Message: fmt.Sprintf("%q is not a boolean", raw)}
		}
		return BoolValue(b), nil
	case KindDocument:
		return DocumentValue([]byte(raw))
	}
	return Value{}, ValidationError{Kind: TypeMismatch, Field: "type", Message: "unsupported value type"}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsZero() bool { return v.kind == KindInvalid }

// IsFinite reports false for NaN and infinite floats, which have no JSON
// encoding. Every other value is finite.
func (v Value) IsFinite() bool {
	return v.kind != KindFloat || !(math.IsNaN(v.f) || math.IsInf(v.f, 0))
}

func (v Value) mismatch(want Kind) error {
	return ValidationError{
		Kind:    TypeMismatch,
		Field:   "value",
		Message: fmt.Sprintf("value is %s, not %s", v.kind, want),
	}
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.i, nil
}

func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, v.mismatch(KindFloat)
	}
	return v.f, nil
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.b, nil
}

// AsDocument returns a copy of the raw JSON document.
func (v Value) AsDocument() (json.RawMessage, error) {
	if v.kind != KindDocument {
		return nil, v.mismatch(KindDocument)
	}
	return append(json.RawMessage(nil), v.doc...), nil
}

// DecodeDocument unmarshals the document into out.
func (v Value) DecodeDocument(out any) error {
	if v.kind != KindDocument {
		return v.mismatch(KindDocument)
	}
	return json.Unmarshal(v.doc, out)
}

// Interface returns the value as a plain Go value suitable for encoding
// (documents are decoded into maps, slices and scalars).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindDocument:
		var out any
		if err := json.Unmarshal(v.doc, &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindDocument:
		return bytes.Equal(v.doc, o.doc)
	}
	return true
}

// String renders the value for display. Documents render as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDocument:
		return string(v.doc)
	}
	return ""
}

type valueJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch v.kind {
	case KindString:
		raw, err = json.Marshal(v.s)
	case KindInt:
		raw = []byte(strconv.FormatInt(v.i, 10))
	case KindFloat:
		raw, err = json.Marshal(v.f)
	case KindBool:
		raw = []byte(strconv.FormatBool(v.b))
	case KindDocument:
		raw = v.doc
	default:
		return []byte("null"), nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Type: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	var w valueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Type)
	if err != nil {
		return err
	}
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case KindInt:
		i, err := strconv.ParseInt(string(w.Value), 10, 64)
		if err != nil {
			return fmt.Errorf("decode int value: %w", err)
		}
		*v = IntValue(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return err
		}
		*v = FloatValue(f)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case KindDocument:
		doc, err := DocumentValue(w.Value)
		if err != nil {
			return err
		}
		*v = doc
	}
	return nil
}
