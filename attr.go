package graphmatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CompareOp is the comparison operator of an attribute predicate.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
)

// ParseCompareOp accepts the ASCII spellings and their unicode equivalents.
func ParseCompareOp(s string) (CompareOp, error) {
	switch strings.TrimSpace(s) {
	case "=", "==":
		return OpEq, nil
	case "!=", "≠", "<>":
		return OpNe, nil
	case ">":
		return OpGt, nil
	case ">=", "≥":
		return OpGe, nil
	case "<":
		return OpLt, nil
	case "<=", "≤":
		return OpLe, nil
	}
	return "", fmt.Errorf("graphmatch: unknown comparison operator %q", s)
}

// AttrType is the declared scalar type of an attribute literal.
type AttrType string

const (
	AttrInt    AttrType = "int"
	AttrFloat  AttrType = "float"
	AttrString AttrType = "string"
)

// ParseAttrType validates a type name. "str" is accepted for AttrString.
func ParseAttrType(s string) (AttrType, error) {
	switch AttrType(s) {
	case AttrInt, AttrFloat, AttrString:
		return AttrType(s), nil
	case "str":
		return AttrString, nil
	}
	return "", fmt.Errorf("graphmatch: unknown attribute type %q", s)
}

// TypeOf returns the AttrType of a normalised value.
func TypeOf(v any) (AttrType, bool) {
	switch v.(type) {
	case int64:
		return AttrInt, true
	case float64:
		return AttrFloat, true
	case string:
		return AttrString, true
	}
	return "", false
}

// PatternAttr is an attribute predicate: data[Key] Op Value.
//
// Comparison is type-strict. A data value whose type differs from the
// literal's type never satisfies the predicate, not even for "!=".
type PatternAttr struct {
	Key   string
	Op    CompareOp
	Value any
	Type  AttrType
}

// NewPatternAttr builds a predicate, converting value to the declared type.
func NewPatternAttr(key string, op CompareOp, value any, typ AttrType) (*PatternAttr, error) {
	if key == "" {
		return nil, fmt.Errorf("graphmatch: attribute predicate without key")
	}
	if _, err := ParseCompareOp(string(op)); err != nil {
		return nil, err
	}
	v, err := coerce(value, typ)
	if err != nil {
		return nil, fmt.Errorf("graphmatch: attribute %q: %w", key, err)
	}
	return &PatternAttr{Key: key, Op: op, Value: v, Type: typ}, nil
}

// Matches evaluates the predicate against a property map.
func (a *PatternAttr) Matches(props Props) bool {
	if a == nil {
		return true
	}
	raw, ok := props[a.Key]
	if !ok {
		return false
	}
	v, ok := NormalizeValue(raw)
	if !ok {
		return false
	}
	if t, _ := TypeOf(v); t != a.Type {
		return false
	}
	c, ok := compareScalars(v, a.Value)
	if !ok {
		return false
	}
	switch a.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	}
	return false
}

// String renders the predicate as "key op value".
func (a *PatternAttr) String() string {
	if a == nil {
		return ""
	}
	if a.Type == AttrString {
		return fmt.Sprintf("%s %s %q", a.Key, a.Op, a.Value)
	}
	return fmt.Sprintf("%s %s %v", a.Key, a.Op, a.Value)
}

// CacheKey returns a stable string usable as part of a cache key.
func (a *PatternAttr) CacheKey() string {
	if a == nil {
		return ""
	}
	return a.Key + "\x00" + string(a.Op) + "\x00" + string(a.Type) + "\x00" + fmt.Sprint(a.Value)
}

type patternAttrJSON struct {
	Attr  string          `json:"attr"`
	Key   string          `json:"key,omitempty"`
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type"`
}

// UnmarshalJSON decodes {"attr": key, "op": op, "value": v, "type": t}.
func (a *PatternAttr) UnmarshalJSON(data []byte) error {
	var raw patternAttrJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	key := raw.Attr
	if key == "" {
		key = raw.Key
	}
	op, err := ParseCompareOp(raw.Op)
	if err != nil {
		return err
	}
	typ, err := ParseAttrType(raw.Type)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(string(raw.Value)))
	dec.UseNumber()
	var lit any
	if err := dec.Decode(&lit); err != nil {
		return fmt.Errorf("graphmatch: attribute %q: bad value: %w", key, err)
	}
	parsed, err := NewPatternAttr(key, op, lit, typ)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}

// MarshalJSON encodes the predicate in plan format.
func (a *PatternAttr) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"attr":  a.Key,
		"op":    string(a.Op),
		"value": a.Value,
		"type":  string(a.Type),
	})
}

// NormalizeValue maps Go scalar types onto int64, float64 or string.
// It returns false for values that are not scalars.
func NormalizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case string:
		return x, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return nil, false
	}
	return nil, false
}

// NormalizeProps returns a copy of props with every value normalised.
// Non-scalar values are dropped.
func NormalizeProps(props map[string]any) Props {
	out := make(Props, len(props))
	for k, v := range props {
		if n, ok := NormalizeValue(v); ok {
			out[k] = n
		}
	}
	return out
}

// ParseTypedValue parses the textual form of a value of the given type.
func ParseTypedValue(s string, typ AttrType) (any, error) {
	switch typ {
	case AttrInt:
		return strconv.ParseInt(s, 10, 64)
	case AttrFloat:
		return strconv.ParseFloat(s, 64)
	case AttrString:
		return s, nil
	}
	return nil, fmt.Errorf("graphmatch: unknown attribute type %q", typ)
}

// FormatTypedValue is the inverse of ParseTypedValue.
func FormatTypedValue(v any) (string, AttrType, bool) {
	n, ok := NormalizeValue(v)
	if !ok {
		return "", "", false
	}
	switch x := n.(type) {
	case int64:
		return strconv.FormatInt(x, 10), AttrInt, true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), AttrFloat, true
	case string:
		return x, AttrString, true
	}
	return "", "", false
}

func coerce(v any, typ AttrType) (any, error) {
	n, ok := NormalizeValue(v)
	if !ok {
		return nil, fmt.Errorf("unsupported literal %v (%T)", v, v)
	}
	switch typ {
	case AttrInt:
		switch x := n.(type) {
		case int64:
			return x, nil
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case AttrFloat:
		switch x := n.(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case AttrString:
		if s, ok := n.(string); ok {
			return s, nil
		}
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
	return nil, fmt.Errorf("literal %v is not of type %s", v, typ)
}

// compareScalars orders two normalised values of the same type.
func compareScalars(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}
