// Package config provides configuration models and helpers for ETL pipelines.
//
// This file adds a lightweight linter for Pipeline values. It performs static
// checks over a decoded Pipeline and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests. The linter knows
// nothing about which component types are registered; unknown tags surface
// later, at resolution time, as ConfigErrors.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "destination.options.write_mode",
// "transforms[1].type"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// writeModes lists the modes the destination writers accept. "historize" adds
// system columns to the sink and is opt-in.
var writeModes = map[string]struct{}{
	"append": {}, "truncate": {}, "replace": {}, "historize": {},
}

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Callers may decide whether to treat
// warnings as fatal or not.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}

	if strings.TrimSpace(p.Source.Type) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.type",
			Message:  "source type is required",
		})
	}

	for i, t := range p.Transforms {
		if strings.TrimSpace(t.Type) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("transforms[%d].type", i),
				Message:  "transform type is required",
			})
		}
	}

	issues = append(issues, validateDestination(p.Destination)...)
	return issues
}

func validateDestination(d Descriptor) []Issue {
	var issues []Issue

	if strings.TrimSpace(d.Type) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "destination.type",
			Message:  "destination type is required",
		})
		return issues
	}

	if d.Options.String("table", d.Options.String("table_name", "")) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "destination.options.table",
			Message:  "table is required",
		})
	}

	if mode := d.Options.String("write_mode", ""); mode != "" {
		if _, ok := writeModes[strings.ToLower(mode)]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "destination.options.write_mode",
				Message:  fmt.Sprintf("invalid write_mode %q; must be append, truncate, replace, or historize", mode),
			})
		}
		if strings.EqualFold(mode, "historize") {
			hist := d.Options.Map("historization")
			if len(hist.StringSlice("id_columns")) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     "destination.options.historization.id_columns",
					Message:  "id_columns is required when write_mode is historize",
				})
			}
			if algo := hist.String("hash_algorithm", "md5"); algo != "md5" && algo != "sha256" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     "destination.options.historization.hash_algorithm",
					Message:  fmt.Sprintf("invalid hash_algorithm %q; must be md5 or sha256", algo),
				})
			}
		}
	}

	if t := d.Options.Int("staging_threshold", 1000); t <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "destination.options.staging_threshold",
			Message:  "staging_threshold <= 0 is ignored; the default threshold (1000) applies",
		})
	}

	return issues
}
