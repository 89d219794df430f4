// Package source contains the extract side of the pipeline: adapters that
// pull a batch of records from an external system. Adapters register under a
// type tag and are resolved from pipeline descriptors.
package source

import (
	"context"

	"etlpipe/internal/registry"
	"etlpipe/pkg/records"
)

// Source extracts one batch per pipeline run. Extract returns every record
// the configured scope yields; pagination and retries are the adapter's
// concern. An empty batch with a nil error is a legitimate result.
type Source interface {
	Name() string
	Extract(ctx context.Context) (records.Batch, error)
}

// NewRegistry returns a source registry with all built-in adapters
// registered, including the aliases accepted in pipeline files.
func NewRegistry() *registry.Registry[Source] {
	reg := registry.New[Source]("source")

	reg.Register("shopify", newShopifySource)

	reg.Register("gsheet", newGSheetSource)
	reg.Register("google_sheets", newGSheetSource)

	reg.Register("file", newFileSource)
	reg.Register("csv", newFileSource)

	return reg
}
