// Package destination contains the load side of the pipeline: writers that
// persist a transformed batch into a database table. Writers register under a
// type tag and are resolved from pipeline descriptors.
//
// All writers share the same lifecycle: PreLoad prepares the target (schema
// inference, table creation, strategy selection), Load writes the batch
// inside a transaction, PostLoad cleans up after a successful load. A failed
// Load leaves the live table untouched; the runner skips PostLoad in that
// case.
package destination

import (
	"context"
	"time"

	"etlpipe/internal/registry"
	"etlpipe/pkg/records"
)

// Destination writes one batch per pipeline run.
type Destination interface {
	Name() string

	// PreLoad prepares the target table for the coming batch. It is called
	// exactly once, before Load, with the final transformed batch.
	PreLoad(ctx context.Context, batch records.Batch) error

	// Load writes the batch. Any error means the live table is unchanged:
	// every write path runs inside a single transaction that is rolled back
	// on failure.
	Load(ctx context.Context, batch records.Batch) (*Result, error)

	// PostLoad runs success-path cleanup (dropping a consumed staging
	// table). The runner skips it when Load returned an error.
	PostLoad(ctx context.Context, res *Result) error

	// Close releases connection pools. Safe to call more than once.
	Close()
}

// Result describes a completed load.
type Result struct {
	Table      string
	RowsLoaded int64
	Strategy   Strategy
	WriteMode  string
	Duration   time.Duration

	// Merge is set only for historized loads.
	Merge *MergeStats
}

// MergeStats counts the row movements of one historized merge.
type MergeStats struct {
	Restored   int64
	Superseded int64
	Inserted   int64
	Deleted    int64
}

// NewRegistry returns a destination registry with all built-in writers
// registered, including the aliases accepted in pipeline files.
func NewRegistry() *registry.Registry[Destination] {
	reg := registry.New[Destination]("destination")

	reg.Register("postgres", newPostgres)
	reg.Register("postgresql", newPostgres)

	reg.Register("sqlite", newSQLite)
	reg.Register("mysql", newMySQL)
	reg.Register("mssql", newMSSQL)
	reg.Register("sqlserver", newMSSQL)

	return reg
}
