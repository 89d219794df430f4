// Package etlerr defines the error taxonomy shared across the pipeline:
//
//   - ConfigError: bad, missing, or unknown configuration. Always raised at
//     construction time, before any I/O, and always fatal for the run.
//   - SourceError: extraction failed after construction succeeded. Carries the
//     adapter tag so an external scheduler can apply its retry policy.
//   - LoadError: a destination write failed. By contract the accompanying
//     transaction has been rolled back and the live table is unchanged.
//
// Row-level transform problems are deliberately not represented here; they are
// logged and contained to the offending record.
package etlerr

import "fmt"

// ConfigError reports invalid configuration: an unknown component tag or a
// bad/missing option. Component names the family ("source", "transform",
// "destination"), Tag the component type when known, Option the offending
// option when the problem is option-level.
type ConfigError struct {
	Component string
	Tag       string
	Option    string
	Reason    string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("config: %s %q: option %q: %s", e.Component, e.Tag, e.Option, e.Reason)
	case e.Tag != "":
		return fmt.Sprintf("config: %s %q: %s", e.Component, e.Tag, e.Reason)
	default:
		return fmt.Sprintf("config: %s: %s", e.Component, e.Reason)
	}
}

// SourceError reports a failed extraction. Tag identifies the source adapter.
type SourceError struct {
	Tag string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q: extract: %v", e.Tag, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// LoadError reports a failed destination write. Op names the phase that
// failed ("create table", "copy", "swap", ...); Table is the live table the
// write targeted, which is guaranteed untouched.
type LoadError struct {
	Table string
	Op    string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
