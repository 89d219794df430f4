package transform

import (
	"fmt"
	"strings"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// filterOperators is the accepted operator set. "in" tests membership of the
// record value in a configured list.
var filterOperators = map[string]struct{}{
	"eq": {}, "ne": {}, "gt": {}, "lt": {}, "gte": {}, "lte": {},
	"contains": {}, "not_contains": {}, "in": {},
}

// FilterRows keeps a record iff record[Column] <Operator> Value holds.
// A record missing the target column never matches and is dropped, for every
// operator; this mirrors the observed behavior of the system this replaces
// and is deliberately not an error.
type FilterRows struct {
	Column   string
	Operator string
	Value    any
}

func newFilterRows(o config.Options) (Transform, error) {
	for _, key := range []string{"column", "operator", "value"} {
		if !o.Has(key) {
			return nil, &etlerr.ConfigError{
				Component: "transform",
				Tag:       "filter_rows",
				Option:    key,
				Reason:    "missing required option",
			}
		}
	}
	op := strings.ToLower(o.String("operator", ""))
	if _, ok := filterOperators[op]; !ok {
		known := make([]string, 0, len(filterOperators))
		for k := range filterOperators {
			known = append(known, k)
		}
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "filter_rows",
			Option:    "operator",
			Reason:    fmt.Sprintf("invalid operator %q", op),
		}
	}
	if op == "in" {
		if o.AnySlice("value") == nil {
			return nil, &etlerr.ConfigError{
				Component: "transform",
				Tag:       "filter_rows",
				Option:    "value",
				Reason:    "operator \"in\" requires a list value",
			}
		}
	}
	return &FilterRows{
		Column:   o.String("column", ""),
		Operator: op,
		Value:    o.Any("value"),
	}, nil
}

func (t *FilterRows) Name() string { return "filter_rows" }

func (t *FilterRows) Apply(batch records.Batch) (records.Batch, error) {
	out := perRecord(t.Name(), batch, func(rec records.Record) (records.Record, bool) {
		return rec, t.matches(rec)
	})
	return out, nil
}

func (t *FilterRows) matches(rec records.Record) bool {
	v, ok := rec[t.Column]
	if !ok {
		return false
	}

	switch t.Operator {
	case "eq":
		return looseEqual(v, t.Value)
	case "ne":
		return !looseEqual(v, t.Value)
	case "gt", "lt", "gte", "lte":
		cmp, ok := compareValues(v, t.Value)
		if !ok {
			return false
		}
		switch t.Operator {
		case "gt":
			return cmp > 0
		case "lt":
			return cmp < 0
		case "gte":
			return cmp >= 0
		default:
			return cmp <= 0
		}
	case "contains":
		return strings.Contains(stringForm(v), stringForm(t.Value))
	case "not_contains":
		return !strings.Contains(stringForm(v), stringForm(t.Value))
	case "in":
		list, _ := t.Value.([]any)
		for _, candidate := range list {
			if looseEqual(v, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

// looseEqual compares scalars across the kinds JSON decoding produces:
// numbers compare numerically regardless of int/float representation, bools
// compare as bools, everything else by string form.
func looseEqual(a, b any) bool {
	if an, aok := numeric(a); aok {
		if bn, bok := numeric(b); bok {
			return an == bn
		}
		return false
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
		return false
	}
	return stringForm(a) == stringForm(b)
}

// compareValues orders two scalars: numerically when both are numbers,
// lexically by string form otherwise. Returns false when either is nil.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if an, aok := numeric(a); aok {
		if bn, bok := numeric(b); bok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return strings.Compare(stringForm(a), stringForm(b)), true
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func stringForm(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
