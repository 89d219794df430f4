// Package schema provides type inference over record batches and the
// database-agnostic table model destinations render DDL from. The functions
// here are pure and deterministic, which makes them straightforward to test
// and reuse.
package schema

import (
	"etlpipe/pkg/records"
)

// Type is the inferred logical type of a column.
type Type int

const (
	// Text is the fallback type; columns seen only as null infer Text.
	Text Type = iota
	Boolean
	Integer
	Double
)

// String returns the logical name used in logs and tests.
func (t Type) String() string {
	switch t {
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	case Double:
		return "double"
	default:
		return "text"
	}
}

// Column pairs a column name with its inferred type.
type Column struct {
	Name string
	Type Type
}

// Schema is an ordered column list; order follows first appearance of each
// column across the batch.
type Schema []Column

// Lookup returns the type for name and whether the column is present.
func (s Schema) Lookup(name string) (Type, bool) {
	for _, c := range s {
		if c.Name == name {
			return c.Type, true
		}
	}
	return Text, false
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Infer derives a schema from a batch.
//
// Records are walked in batch order. The first non-null value seen for a
// column fixes its type by runtime kind — bool, then integer, then floating
// point, then text — and the column is never revisited, even if later rows
// disagree. Columns that are null in every record infer Text.
//
// First-non-null-wins is a deliberately conservative approximation, not a
// full type-unification pass; callers needing stronger guarantees should
// supply an explicit schema.
func Infer(b records.Batch) Schema {
	var (
		out     Schema
		typed   = map[string]bool{} // column has a fixed type
		present = map[string]int{}  // column position in out
	)

	for _, r := range b {
		for _, name := range r.Keys() {
			idx, seen := present[name]
			if !seen {
				idx = len(out)
				present[name] = idx
				out = append(out, Column{Name: name, Type: Text})
			}
			if typed[name] {
				continue
			}
			v := r[name]
			if v == nil {
				continue
			}
			out[idx].Type = kindOf(v)
			typed[name] = true
		}
	}
	return out
}

// kindOf maps a scalar's runtime kind to a Type. JSON decoding yields
// float64 for every number, so whole floats count as integers here; sources
// that produce native int/int64 values are covered directly.
func kindOf(v any) Type {
	switch n := v.(type) {
	case bool:
		return Boolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Integer
	case float32:
		return Double
	case float64:
		if n == float64(int64(n)) {
			return Integer
		}
		return Double
	default:
		return Text
	}
}
