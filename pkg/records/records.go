// Package records defines the in-memory batch model shared by sources,
// transforms, and destinations.
//
// A Record is a mapping from column name to a scalar value: bool, int64,
// float64, string, or nil. Batches are plain slices; insertion order is the
// pipeline's row order and is preserved by every stage unless a transform
// explicitly reorders.
//
// Ownership: a batch belongs to whichever stage currently holds it. Transforms
// must not mutate records handed to them; they build new records (Clone helps).
package records

import "sort"

// Record is one row keyed by column name.
type Record map[string]any

// Batch is an ordered sequence of records. Records in the same batch are not
// required to share an identical column set; schema is inferred downstream.
type Batch []Record

// Clone returns a shallow copy of r. Values are scalars, so a shallow copy is
// a full copy for well-formed records.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns r's column names sorted lexically. Go maps have no insertion
// order, so this is the deterministic per-record order used throughout.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a new batch whose records are clones of b's records.
func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for i, r := range b {
		out[i] = r.Clone()
	}
	return out
}

// Columns returns the column names of b in first-appearance order: records
// are walked in batch order and each record contributes its unseen columns
// (lexically within the record, since map order is not observable). The
// result is deterministic for a given batch.
func (b Batch) Columns() []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range b {
		for _, k := range r.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}
