package config

import "strings"

// ExpandPlaceholders returns a copy of p with `{{name}}` placeholders in
// descriptor option string values replaced using vars. The external scheduler
// supplies execution context this way (run id, time window) before the
// descriptors are resolved; unknown placeholders are left as-is.
//
// Only string values are rewritten; nested objects and arrays are walked
// recursively, and non-string scalars pass through untouched.
func (p Pipeline) ExpandPlaceholders(vars map[string]string) Pipeline {
	out := p
	out.Source = p.Source.expand(vars)
	out.Destination = p.Destination.expand(vars)
	if p.Transforms != nil {
		out.Transforms = make([]Descriptor, len(p.Transforms))
		for i, t := range p.Transforms {
			out.Transforms[i] = t.expand(vars)
		}
	}
	return out
}

func (d Descriptor) expand(vars map[string]string) Descriptor {
	return Descriptor{
		Type:    d.Type,
		Options: Options(expandValue(map[string]any(d.Options), vars).(map[string]any)),
	}
}

func expandValue(v any, vars map[string]string) any {
	switch t := v.(type) {
	case string:
		return expandString(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = expandValue(vv, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = expandValue(vv, vars)
		}
		return out
	default:
		return v
	}
}

func expandString(s string, vars map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for name, val := range vars {
		s = strings.ReplaceAll(s, "{{"+name+"}}", val)
	}
	return s
}
