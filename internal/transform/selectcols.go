package transform

import (
	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// SelectColumns projects each record to an allowed column set. Exactly one of
// Include or Exclude must be configured. In include mode a column absent from
// a record is simply absent from the output record — never synthesized as
// null; no record ever gains a column it did not have.
type SelectColumns struct {
	Include []string
	Exclude []string
}

func newSelectColumns(o config.Options) (Transform, error) {
	include := o.StringSlice("include")
	exclude := o.StringSlice("exclude")
	switch {
	case include == nil && exclude == nil:
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "select_columns",
			Reason:    "one of include or exclude is required",
		}
	case include != nil && exclude != nil:
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "select_columns",
			Reason:    "include and exclude are mutually exclusive",
		}
	}
	return &SelectColumns{Include: include, Exclude: exclude}, nil
}

func (t *SelectColumns) Name() string { return "select_columns" }

func (t *SelectColumns) Apply(batch records.Batch) (records.Batch, error) {
	if t.Include != nil {
		out := perRecord(t.Name(), batch, func(rec records.Record) (records.Record, bool) {
			nr := make(records.Record, len(t.Include))
			for _, col := range t.Include {
				if v, ok := rec[col]; ok {
					nr[col] = v
				}
			}
			return nr, true
		})
		return out, nil
	}

	drop := make(map[string]struct{}, len(t.Exclude))
	for _, col := range t.Exclude {
		drop[col] = struct{}{}
	}
	out := perRecord(t.Name(), batch, func(rec records.Record) (records.Record, bool) {
		nr := make(records.Record, len(rec))
		for col, v := range rec {
			if _, excluded := drop[col]; !excluded {
				nr[col] = v
			}
		}
		return nr, true
	})
	return out, nil
}
