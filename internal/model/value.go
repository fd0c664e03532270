package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind discriminates the three shapes a parameter value can take.
type ValueKind uint8

const (
	KindAbsent ValueKind = iota
	KindNumber
	KindString
)

// String returns the string representation of the value kind.
func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	}
	return "absent"
}

// Value is a parameter value: a number, a string, or absent.
// The zero Value is absent. Values are comparable with ==.
type Value struct {
	kind ValueKind
	num  float64
	str  string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Absent returns the absent Value.
func Absent() Value { return Value{} }

// Kind reports which shape the value holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsAbsent reports whether the value is absent.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Float returns the numeric value and whether the value is numeric.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Text returns the string value and whether the value is a string.
func (v Value) Text() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsFloat coerces the value to a number. Strings that parse as numbers are
// accepted; absent values are zero.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindNumber:
		return v.num, nil
	case KindAbsent:
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", v.str)
	}
	return f, nil
}

// Interface returns the value as float64, string or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	}
	return nil
}

// ValueOf converts a decoded JSON scalar into a Value. Booleans map to 0/1;
// any other type is absent.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Absent()
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	case string:
		return String(t)
	case bool:
		if t {
			return Number(1)
		}
		return Number(0)
	}
	return Absent()
}

// ParseCellValue interprets raw cell text: numeric text becomes a number,
// empty text is absent, anything else stays a string.
func ParseCellValue(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Absent()
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return Number(f)
	}
	return String(s)
}

// MarshalJSON encodes numbers as JSON numbers, strings as JSON strings and
// absent as null. Non-finite numbers have no JSON form and encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a number, a string, a boolean or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Absent()
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	switch x.(type) {
	case json.Number, string, bool:
		*v = ValueOf(x)
		return nil
	}
	return fmt.Errorf("value must be a number, string or null, got %s", data)
}

// FormatValue renders a value for display. Strings containing ':' (times,
// ratios) are returned verbatim; numbers are trimmed to a precision that
// shrinks with magnitude.
func FormatValue(v Value) string {
	switch v.kind {
	case KindAbsent:
		return ""
	case KindString:
		if strings.Contains(v.str, ":") {
			return v.str
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return v.str
		}
		return formatNumber(f)
	}
	return formatNumber(v.num)
}

func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	abs := math.Abs(f)
	var s string
	switch {
	case abs == 0:
		return "0"
	case abs >= 100:
		s = strconv.FormatFloat(f, 'f', 2, 64)
	case abs >= 10:
		s = strconv.FormatFloat(f, 'f', 3, 64)
	case abs >= 1:
		s = strconv.FormatFloat(f, 'f', 4, 64)
	default:
		s = strconv.FormatFloat(f, 'g', 6, 64)
	}
	return trimZeros(s)
}

func trimZeros(s string) string {
	if strings.ContainsAny(s, "eE") {
		mant, exp, _ := strings.Cut(strings.ToLower(s), "e")
		return trimZeros(mant) + "e" + exp
	}
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
