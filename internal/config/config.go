// Package config defines the canonical, JSON-serializable pipeline model: one
// source descriptor, an ordered list of transform descriptors, and one
// destination descriptor, each a {type, options} pair resolved at run time by
// the component registries.
//
// Design goals:
//
//  1. Stability: changes should be additive and backwards-compatible.
//  2. Clarity: Go field names mirror the JSON used in pipeline files.
//  3. Minimalism: no third-party config libraries; decoding is performed by
//     the standard library, with a light Options helper for typed access.
//
// Example (trimmed):
//
//	{
//	  "job": "shopify_products",
//	  "source": { "type": "shopify", "options": { "resource": "products" } },
//	  "transforms": [
//	    { "type": "normalize_columns" },
//	    { "type": "filter_rows", "options": { "column": "status", "operator": "eq", "value": "active" } }
//	  ],
//	  "destination": {
//	    "type": "postgres",
//	    "options": { "dsn": "...", "schema": "public", "table": "products", "write_mode": "replace" }
//	  }
//	}
package config

import "encoding/json"

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the pipeline run for logs and metrics labels.
	Job string `json:"job"`

	// Source describes where the batch comes from.
	Source Descriptor `json:"source"`

	// Transforms lists the ordered transformations applied to the batch.
	Transforms []Descriptor `json:"transforms"`

	// Destination describes where the final batch is written.
	Destination Descriptor `json:"destination"`
}

// Descriptor is the declarative unit resolved by a registry into a live
// component. Type selects the implementation; Options is a free-form map
// interpreted by it. Descriptors are parsed once per invocation and treated
// as immutable afterwards.
type Descriptor struct {
	Type    string  `json:"type"`
	Options Options `json:"options"`
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without introducing third-party configuration libraries. It performs only
// minimal type coercion and returns the provided default when a key is absent
// or of an unexpected type.
type Options map[string]any

// Has reports whether key is present at all.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the string value for key or def if missing/not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if missing/not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so float64 is accepted and truncated.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Float returns the float64 value for key or def.
func (o Options) Float(key string, def float64) float64 {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// StringSlice returns a []string for key when the value is an array of
// strings (or of interface values containing strings). Returns nil when the
// key is missing or not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// AnySlice returns the raw []any for key, or nil when absent or not an array.
func (o Options) AnySlice(key string) []any {
	if v, ok := o[key]; ok {
		if vv, ok := v.([]any); ok {
			return vv
		}
	}
	return nil
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings; non-string values are ignored. Returns an empty
// map otherwise.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// Map returns the nested Options for key, or nil when absent or not an
// object. Useful for block options like "historization".
func (o Options) Map(key string) Options {
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return Options(m)
		}
	}
	return nil
}

// Any returns the raw value for key, which may itself be a nested
// map[string]any, []any, or primitive.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null
// "options" object decodes to a non-nil, empty Options map, removing the need
// for nil checks at call sites.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
