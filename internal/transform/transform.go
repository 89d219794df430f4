// Package transform contains the batch transform interface, the ordered
// chain applied between extract and load, and the built-in transforms.
//
// Transforms are pure with respect to their input: they never mutate the
// batch handed to them and return a freshly built batch. A problem with a
// single record is contained to that record — it is logged and the record
// skipped — while configuration problems surface at construction time and
// abort the pipeline before any I/O.
package transform

import (
	"fmt"
	"log"

	"etlpipe/internal/registry"
	"etlpipe/pkg/records"
)

// Transform applies one row-level operation to a whole batch. Apply may
// change batch length (filters) or record shape (projection, renames) but
// must preserve record order for the records it keeps.
//
// A non-nil error is fatal for the pipeline; built-ins reserve it for
// validation policies explicitly configured to fail the run.
type Transform interface {
	Name() string
	Apply(batch records.Batch) (records.Batch, error)
}

// Chain is an ordered list of transforms folded left to right. Each
// transform receives the previous transform's full output batch.
type Chain []Transform

// Apply folds batch through the chain, stopping at the first error.
func (c Chain) Apply(batch records.Batch) (records.Batch, error) {
	out := batch
	for _, t := range c {
		var err error
		out, err = t.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", t.Name(), err)
		}
	}
	return out, nil
}

// NewRegistry returns a transform registry with all built-ins registered,
// including the short aliases accepted in pipeline files.
func NewRegistry() *registry.Registry[Transform] {
	reg := registry.New[Transform]("transform")

	reg.Register("normalize_columns", newNormalizeColumns)
	reg.Register("normalize", newNormalizeColumns)
	reg.Register("snake_case", newNormalizeColumns)

	reg.Register("filter_rows", newFilterRows)
	reg.Register("filter", newFilterRows)

	reg.Register("select_columns", newSelectColumns)
	reg.Register("select", newSelectColumns)

	reg.Register("validate_duplicate_ids", newValidateDuplicateIDs)
	reg.Register("validate_required_fields", newValidateRequiredFields)
	reg.Register("validate_data_types", newValidateDataTypes)

	return reg
}

// perRecord maps fn over the batch. A panic while processing one record is
// recovered, logged, and the record skipped; the rest of the batch continues.
func perRecord(name string, in records.Batch, fn func(records.Record) (records.Record, bool)) records.Batch {
	out := make(records.Batch, 0, len(in))
	for i, rec := range in {
		r, keep, err := applyOne(fn, rec)
		if err != nil {
			log.Printf("transform %s: record %d: %v (record skipped)", name, i, err)
			continue
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

func applyOne(fn func(records.Record) (records.Record, bool), rec records.Record) (r records.Record, keep bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	r, keep = fn(rec)
	return r, keep, nil
}
