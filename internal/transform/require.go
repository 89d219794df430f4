package transform

import (
	"fmt"
	"log"
	"strings"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// ValidateRequiredFields checks that every record carries a present, non-null
// value for each required field (empty strings count as missing unless
// AllowEmptyStrings). Invalid records are handled per Action: "fail" aborts
// the run, "warn" logs and keeps them, "filter" drops them.
type ValidateRequiredFields struct {
	Fields            []string
	AllowEmptyStrings bool
	Action            string // "fail" | "warn" | "filter"
}

func newValidateRequiredFields(o config.Options) (Transform, error) {
	fields := o.StringSlice("required_fields")
	if len(fields) == 0 {
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "validate_required_fields",
			Option:    "required_fields",
			Reason:    "a non-empty list is required",
		}
	}
	action := strings.ToLower(o.String("action", "fail"))
	if action != "fail" && action != "warn" && action != "filter" {
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "validate_required_fields",
			Option:    "action",
			Reason:    fmt.Sprintf("invalid action %q; must be fail, warn, or filter", action),
		}
	}
	return &ValidateRequiredFields{
		Fields:            fields,
		AllowEmptyStrings: o.Bool("allow_empty_strings", false),
		Action:            action,
	}, nil
}

func (t *ValidateRequiredFields) Name() string { return "validate_required_fields" }

func (t *ValidateRequiredFields) Apply(batch records.Batch) (records.Batch, error) {
	valid := make(records.Batch, 0, len(batch))
	invalid := 0
	var firstReason string

	for i, rec := range batch {
		if reason := t.check(rec); reason != "" {
			invalid++
			if firstReason == "" {
				firstReason = fmt.Sprintf("record %d: %s", i, reason)
			}
			continue
		}
		valid = append(valid, rec)
	}

	if invalid == 0 {
		return batch, nil
	}

	switch t.Action {
	case "fail":
		return nil, fmt.Errorf("%d of %d records missing required fields (first: %s)",
			invalid, len(batch), firstReason)
	case "warn":
		log.Printf("transform %s: %d of %d records missing required fields (first: %s); continuing",
			t.Name(), invalid, len(batch), firstReason)
		return batch, nil
	default: // filter
		log.Printf("transform %s: dropped %d of %d records missing required fields",
			t.Name(), invalid, len(batch))
		return valid, nil
	}
}

// check returns an empty string for a valid record, otherwise a short reason.
func (t *ValidateRequiredFields) check(rec records.Record) string {
	for _, f := range t.Fields {
		v, ok := rec[f]
		switch {
		case !ok:
			return f + " (missing)"
		case v == nil:
			return f + " (null)"
		}
		if s, isStr := v.(string); isStr && !t.AllowEmptyStrings && strings.TrimSpace(s) == "" {
			return f + " (empty)"
		}
	}
	return ""
}
