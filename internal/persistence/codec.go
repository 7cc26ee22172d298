// Package persistence saves and restores strategy state as versioned
// JSON snapshots in the relational store.
package persistence

import (
	"fmt"
	"strings"
	"time"
)

// The snapshot JSON uses typed markers so values that plain JSON cannot
// express survive the round trip. Unknown markers pass through as-is.

// DataFrame is a tabular value serialized as a record list
type DataFrame struct {
	Records []map[string]any
}

// Date is a calendar day without time of day
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to its calendar day
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Enum is a named member of a named enumeration
type Enum struct {
	Class string
	Value string
}

// Set is an unordered collection serialized with a set marker
type Set struct {
	Values []any
}

// Dataclass is a named record with open fields
type Dataclass struct {
	Class  string
	Fields map[string]any
}

// Encode converts a value tree into plain JSON-compatible values,
// wrapping in-domain types with their markers.
func Encode(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return map[string]any{"__datetime__": t.Format(time.RFC3339Nano)}
	case *time.Time:
		if t == nil {
			return nil
		}
		return Encode(*t)
	case Date:
		return map[string]any{"__date__": t.String()}
	case Enum:
		return map[string]any{"__enum__": t.Class + "." + t.Value}
	case Set:
		values := make([]any, len(t.Values))
		for i, e := range t.Values {
			values[i] = Encode(e)
		}
		return map[string]any{"__set__": true, "values": values}
	case DataFrame:
		records := make([]any, len(t.Records))
		for i, r := range t.Records {
			records[i] = Encode(r)
		}
		return map[string]any{"__dataframe__": true, "records": records}
	case Dataclass:
		out := map[string]any{"__dataclass__": t.Class}
		for k, fv := range t.Fields {
			out[k] = Encode(fv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Encode(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Encode(e)
		}
		return out
	default:
		return v
	}
}

// Decode rebuilds marker values from a parsed JSON tree. Maps carrying
// unrecognized markers pass through untouched.
func Decode(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if iso, ok := t["__datetime__"].(string); ok && len(t) == 1 {
			if parsed, err := time.Parse(time.RFC3339Nano, iso); err == nil {
				return parsed
			}
			return v
		}
		if iso, ok := t["__date__"].(string); ok && len(t) == 1 {
			if parsed, err := time.Parse("2006-01-02", iso); err == nil {
				return DateOf(parsed)
			}
			return v
		}
		if tag, ok := t["__enum__"].(string); ok && len(t) == 1 {
			if i := strings.LastIndex(tag, "."); i > 0 {
				return Enum{Class: tag[:i], Value: tag[i+1:]}
			}
			return v
		}
		if isSet, ok := t["__set__"].(bool); ok && isSet {
			raw, _ := t["values"].([]any)
			values := make([]any, len(raw))
			for i, e := range raw {
				values[i] = Decode(e)
			}
			return Set{Values: values}
		}
		if isDF, ok := t["__dataframe__"].(bool); ok && isDF {
			raw, _ := t["records"].([]any)
			records := make([]map[string]any, 0, len(raw))
			for _, e := range raw {
				if rec, ok := Decode(e).(map[string]any); ok {
					records = append(records, rec)
				}
			}
			return DataFrame{Records: records}
		}
		if class, ok := t["__dataclass__"].(string); ok {
			fields := make(map[string]any, len(t)-1)
			for k, e := range t {
				if k == "__dataclass__" {
					continue
				}
				fields[k] = Decode(e)
			}
			return Dataclass{Class: class, Fields: fields}
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Decode(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Decode(e)
		}
		return out
	default:
		return v
	}
}
