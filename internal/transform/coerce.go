package transform

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// typeCheckers maps a declared logical type to its value predicate. Null is
// always acceptable regardless of declared type; that is handled by the
// caller. A Go bool is not an int even though some languages treat it so.
var typeCheckers = map[string]func(any) bool{
	"string": func(v any) bool { _, ok := v.(string); return ok },
	"int": func(v any) bool {
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		case float32:
			return float64(n) == float64(int64(n))
		default:
			return false
		}
	},
	"float": func(v any) bool {
		switch v.(type) {
		case float32, float64, int, int32, int64:
			return true
		default:
			return false
		}
	},
	"bool": func(v any) bool { _, ok := v.(bool); return ok },
	// Only a time.Time satisfies date/datetime. A parseable string is not
	// "already valid": treating it so would bypass coercion and let raw
	// strings through to the sink. String parsing lives in coerceValue.
	"date":     func(v any) bool { _, ok := v.(time.Time); return ok },
	"datetime": func(v any) bool { _, ok := v.(time.Time); return ok },
}

// ValidateDataTypes checks (and optionally coerces) column values against a
// declared logical type per column. Records that still fail after coercion
// are handled per Action, same policy set as the other validators.
type ValidateDataTypes struct {
	ColumnTypes map[string]string
	Coerce      bool
	Action      string // "fail" | "warn" | "filter"
}

func newValidateDataTypes(o config.Options) (Transform, error) {
	types := o.StringMap("column_types")
	if len(types) == 0 {
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "validate_data_types",
			Option:    "column_types",
			Reason:    "a non-empty column-to-type map is required",
		}
	}
	for col, typ := range types {
		lt := strings.ToLower(typ)
		if _, ok := typeCheckers[lt]; !ok {
			return nil, &etlerr.ConfigError{
				Component: "transform",
				Tag:       "validate_data_types",
				Option:    "column_types",
				Reason:    fmt.Sprintf("column %q: unsupported type %q", col, typ),
			}
		}
		types[col] = lt
	}
	action := strings.ToLower(o.String("action", "fail"))
	if action != "fail" && action != "warn" && action != "filter" {
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "validate_data_types",
			Option:    "action",
			Reason:    fmt.Sprintf("invalid action %q; must be fail, warn, or filter", action),
		}
	}
	return &ValidateDataTypes{
		ColumnTypes: types,
		Coerce:      o.Bool("coerce", false),
		Action:      action,
	}, nil
}

func (t *ValidateDataTypes) Name() string { return "validate_data_types" }

func (t *ValidateDataTypes) Apply(batch records.Batch) (records.Batch, error) {
	all := make(records.Batch, 0, len(batch))
	valid := make(records.Batch, 0, len(batch))
	invalid := 0
	var firstReason string

	for i, rec := range batch {
		out := rec
		if t.Coerce {
			out = rec.Clone()
		}
		reason := ""
		for col, typ := range t.ColumnTypes {
			v, ok := out[col]
			if !ok || v == nil {
				continue
			}
			if typeCheckers[typ](v) {
				continue
			}
			if t.Coerce {
				if cv, ok := coerceValue(v, typ); ok {
					out[col] = cv
					continue
				}
			}
			reason = fmt.Sprintf("%s: %T is not %s", col, v, typ)
			break
		}
		all = append(all, out)
		if reason != "" {
			invalid++
			if firstReason == "" {
				firstReason = fmt.Sprintf("record %d: %s", i, reason)
			}
			continue
		}
		valid = append(valid, out)
	}

	if invalid == 0 {
		return all, nil
	}

	switch t.Action {
	case "fail":
		return nil, fmt.Errorf("%d of %d records failed type validation (first: %s)",
			invalid, len(batch), firstReason)
	case "warn":
		log.Printf("transform %s: %d of %d records failed type validation (first: %s); continuing",
			t.Name(), invalid, len(batch), firstReason)
		return all, nil
	default: // filter
		log.Printf("transform %s: dropped %d of %d records failing type validation",
			t.Name(), invalid, len(batch))
		return valid, nil
	}
}

// coerceValue attempts a best-effort conversion to the declared type. The
// bool path accepts the usual truthy strings so "1"/"yes" survive CSV input.
func coerceValue(v any, typ string) (any, bool) {
	switch typ {
	case "string":
		return stringForm(v), true
	case "int":
		if n, ok := numeric(v); ok {
			return int64(n), true
		}
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return n, true
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && f == float64(int64(f)) {
				return int64(f), true
			}
		}
	case "float":
		if n, ok := numeric(v); ok {
			return n, true
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	case "bool":
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "1", "yes", "y":
				return true, true
			case "false", "0", "no", "n", "":
				return false, true
			}
		case float64, float32, int, int32, int64:
			n, _ := numeric(v)
			return n != 0, true
		}
	case "date":
		if s, ok := v.(string); ok {
			if d, err := time.Parse("2006-01-02", strings.TrimSpace(s)); err == nil {
				return d, true
			}
		}
		if d, ok := v.(time.Time); ok {
			return d, true
		}
	case "datetime":
		if s, ok := v.(string); ok {
			if d := parseDatetime(strings.TrimSpace(s)); d != nil {
				return *d, true
			}
		}
		if d, ok := v.(time.Time); ok {
			return d, true
		}
	}
	return nil, false
}

// parseDatetime tries the timestamp layouts seen in source payloads, most
// specific first.
func parseDatetime(s string) *time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if d, err := time.Parse(layout, s); err == nil {
			return &d
		}
	}
	return nil
}
