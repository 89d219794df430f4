package transform

import (
	"errors"
	"testing"
	"time"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

func TestValidateDuplicateIDs(t *testing.T) {
	t.Parallel()

	batch := records.Batch{
		{"id": float64(1), "v": "a"},
		{"id": float64(2), "v": "b"},
		{"id": float64(1), "v": "c"},
	}

	t.Run("fail", func(t *testing.T) {
		t.Parallel()
		tr, err := newValidateDuplicateIDs(config.Options{"id_columns": []any{"id"}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tr.Apply(batch); err == nil {
			t.Error("duplicates with action fail: want error")
		}
	})

	t.Run("warn_passes_through", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDuplicateIDs(config.Options{"id_columns": []any{"id"}, "action": "warn"})
		out, err := tr.Apply(batch)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 3 {
			t.Errorf("got %d records, want 3", len(out))
		}
	})

	t.Run("dedupe_keep_first", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDuplicateIDs(config.Options{"id_columns": []any{"id"}, "action": "deduplicate"})
		out, err := tr.Apply(batch)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 {
			t.Fatalf("got %d records, want 2", len(out))
		}
		if out[0]["v"] != "a" {
			t.Errorf("keep first: id 1 kept %v, want a", out[0]["v"])
		}
	})

	t.Run("dedupe_keep_last", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDuplicateIDs(config.Options{
			"id_columns": []any{"id"}, "action": "deduplicate", "keep": "last",
		})
		out, err := tr.Apply(batch)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 {
			t.Fatalf("got %d records, want 2", len(out))
		}
		if out[0]["v"] != "b" || out[1]["v"] != "c" {
			t.Errorf("keep last: got %v", out)
		}
	})

	t.Run("missing_id_column", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDuplicateIDs(config.Options{"id_columns": []any{"nope"}})
		if _, err := tr.Apply(batch); err == nil {
			t.Error("missing id column: want error")
		}
	})

	t.Run("config_errors", func(t *testing.T) {
		t.Parallel()
		for _, opts := range []config.Options{
			{},
			{"id_columns": []any{"id"}, "action": "explode"},
			{"id_columns": []any{"id"}, "action": "deduplicate", "keep": "middle"},
		} {
			_, err := newValidateDuplicateIDs(opts)
			var ce *etlerr.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("opts %v: got %v, want ConfigError", opts, err)
			}
		}
	})
}

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()

	batch := records.Batch{
		{"id": 1, "name": "ok"},
		{"id": 2, "name": ""},
		{"id": 3},
		{"id": 4, "name": nil},
	}
	opts := func(extra config.Options) config.Options {
		o := config.Options{"required_fields": []any{"name"}}
		for k, v := range extra {
			o[k] = v
		}
		return o
	}

	t.Run("fail", func(t *testing.T) {
		t.Parallel()
		tr, err := newValidateRequiredFields(opts(nil))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tr.Apply(batch); err == nil {
			t.Error("want error for missing required fields")
		}
	})

	t.Run("filter", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateRequiredFields(opts(config.Options{"action": "filter"}))
		out, err := tr.Apply(batch)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 1 || out[0]["id"] != 1 {
			t.Errorf("got %v, want only record id=1", out)
		}
	})

	t.Run("allow_empty_strings", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateRequiredFields(opts(config.Options{
			"action": "filter", "allow_empty_strings": true,
		}))
		out, err := tr.Apply(batch)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 {
			t.Errorf("got %d records, want 2 (empty string allowed)", len(out))
		}
	})

	t.Run("warn_keeps_all", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateRequiredFields(opts(config.Options{"action": "warn"}))
		out, err := tr.Apply(batch)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != len(batch) {
			t.Errorf("got %d records, want %d", len(out), len(batch))
		}
	})

	t.Run("config_error_without_fields", func(t *testing.T) {
		t.Parallel()
		_, err := newValidateRequiredFields(config.Options{})
		var ce *etlerr.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("got %v, want ConfigError", err)
		}
	})
}

func TestValidateDataTypes(t *testing.T) {
	t.Parallel()

	t.Run("valid_passes", func(t *testing.T) {
		t.Parallel()
		tr, err := newValidateDataTypes(config.Options{
			"column_types": map[string]any{"id": "int", "name": "string", "active": "bool"},
		})
		if err != nil {
			t.Fatal(err)
		}
		out, err := tr.Apply(records.Batch{
			{"id": float64(1), "name": "a", "active": true},
			{"id": nil, "name": "b", "active": false}, // nulls are always valid
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(out) != 2 {
			t.Errorf("got %d records, want 2", len(out))
		}
	})

	t.Run("fail_on_mismatch", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDataTypes(config.Options{
			"column_types": map[string]any{"id": "int"},
		})
		if _, err := tr.Apply(records.Batch{{"id": "abc"}}); err == nil {
			t.Error("string in int column: want error")
		}
	})

	t.Run("bool_is_not_int", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDataTypes(config.Options{
			"column_types": map[string]any{"id": "int"},
		})
		if _, err := tr.Apply(records.Batch{{"id": true}}); err == nil {
			t.Error("bool in int column: want error")
		}
	})

	t.Run("coerce", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDataTypes(config.Options{
			"column_types": map[string]any{
				"id": "int", "price": "float", "active": "bool", "day": "date",
			},
			"coerce": true,
		})
		out, err := tr.Apply(records.Batch{
			{"id": "42", "price": "9.99", "active": "yes", "day": "2024-05-01"},
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		rec := out[0]
		if rec["id"] != int64(42) {
			t.Errorf("id = %v (%T), want int64 42", rec["id"], rec["id"])
		}
		if rec["price"] != 9.99 {
			t.Errorf("price = %v, want 9.99", rec["price"])
		}
		if rec["active"] != true {
			t.Errorf("active = %v, want true", rec["active"])
		}
		if d, ok := rec["day"].(time.Time); !ok || d.Year() != 2024 {
			t.Errorf("day = %v (%T), want time.Time in 2024", rec["day"], rec["day"])
		}
	})

	t.Run("date_string_without_coerce_is_mismatch", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDataTypes(config.Options{
			"column_types": map[string]any{"day": "date"},
		})
		if _, err := tr.Apply(records.Batch{{"day": "2024-05-01"}}); err == nil {
			t.Error("parseable string in date column without coerce: want error")
		}
		// With coercion on, the same string must come out as a time.Time, not
		// pass through unchanged.
		tr, _ = newValidateDataTypes(config.Options{
			"column_types": map[string]any{"day": "date"},
			"coerce":       true,
		})
		out, err := tr.Apply(records.Batch{{"day": "2024-05-01"}})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := out[0]["day"].(time.Time); !ok {
			t.Errorf("day = %v (%T), want time.Time", out[0]["day"], out[0]["day"])
		}
	})

	t.Run("filter_drops_uncoercible", func(t *testing.T) {
		t.Parallel()
		tr, _ := newValidateDataTypes(config.Options{
			"column_types": map[string]any{"id": "int"},
			"coerce":       true,
			"action":       "filter",
		})
		out, err := tr.Apply(records.Batch{
			{"id": "7"},
			{"id": "not a number"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 1 || out[0]["id"] != int64(7) {
			t.Errorf("got %v, want single coerced record", out)
		}
	})

	t.Run("config_errors", func(t *testing.T) {
		t.Parallel()
		for _, opts := range []config.Options{
			{},
			{"column_types": map[string]any{"id": "decimal"}},
			{"column_types": map[string]any{"id": "int"}, "action": "explode"},
		} {
			_, err := newValidateDataTypes(opts)
			var ce *etlerr.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("opts %v: got %v, want ConfigError", opts, err)
			}
		}
	})
}
