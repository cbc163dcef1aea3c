package parser

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"tunnel/pkg/changestream"
)

// DecodePrimaryKey turns the primary-key columns of a record into a plain map
func DecodePrimaryKey(cols []changestream.Column) map[string]interface{} {
	return decode(cols)
}

// DecodeColumns turns the attribute columns of a record into a plain map
func DecodeColumns(cols []changestream.Column) map[string]interface{} {
	return decode(cols)
}

func decode(cols []changestream.Column) map[string]interface{} {
	out := make(map[string]interface{}, len(cols))
	for _, c := range cols {
		out[c.Name] = DecodeValue(c.Value)
	}
	return out
}

// DecodeValue converts a tagged value into its native scalar:
// string, int64, float64, bool or []byte. A nil raw value decodes to nil.
//
// Values whose tag is not one of the five known types are rendered with
// fmt.Sprint. Downstream sees a string where the source had something richer.
func DecodeValue(v changestream.Value) interface{} {
	if v.Raw == nil {
		return nil
	}

	switch v.Type {
	case changestream.TypeString:
		return asString(v.Raw)
	case changestream.TypeInteger:
		if n, ok := asInt64(v.Raw); ok {
			return n
		}
	case changestream.TypeFloat:
		if f, ok := asFloat64(v.Raw); ok {
			return f
		}
	case changestream.TypeBoolean:
		if b, ok := asBool(v.Raw); ok {
			return b
		}
	case changestream.TypeBinary:
		return asBytes(v.Raw)
	}

	return fmt.Sprint(v.Raw)
}

func asString(raw interface{}) string {
	switch s := raw.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(raw)
}

func asInt64(raw interface{}) (int64, bool) {
	switch n := raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func asFloat64(raw interface{}) (float64, bool) {
	switch f := raw.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case json.Number:
		if v, err := f.Float64(); err == nil {
			return v, true
		}
	case string:
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			return v, true
		}
	}
	if n, ok := asInt64(raw); ok {
		return float64(n), true
	}
	return 0, false
}

func asBool(raw interface{}) (bool, bool) {
	switch b := raw.(type) {
	case bool:
		return b, true
	case string:
		if v, err := strconv.ParseBool(b); err == nil {
			return v, true
		}
	}
	return false, false
}

func asBytes(raw interface{}) []byte {
	switch b := raw.(type) {
	case []byte:
		return b
	case string:
		if decoded, err := base64.StdEncoding.DecodeString(b); err == nil {
			return decoded
		}
		return []byte(b)
	}
	return []byte(fmt.Sprint(raw))
}
