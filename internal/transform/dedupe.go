package transform

import (
	"fmt"
	"log"
	"strings"

	"github.com/zeebo/xxh3"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// ValidateDuplicateIDs checks that the configured id columns uniquely
// identify every record in the batch. Duplicate keys are handled per the
// configured action:
//
//   - "fail":        return an error, aborting the pipeline
//   - "warn":        log and pass the batch through unchanged
//   - "deduplicate": keep the first or last occurrence per key
//
// Keys are fingerprinted with xxh3 over the id values joined with an
// unlikely separator, so wide batches don't hold full key strings.
type ValidateDuplicateIDs struct {
	IDColumns     []string
	Action        string // "fail" | "warn" | "deduplicate"
	Keep          string // "first" | "last"
	LogDuplicates bool
}

func newValidateDuplicateIDs(o config.Options) (Transform, error) {
	ids := o.StringSlice("id_columns")
	if len(ids) == 0 {
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "validate_duplicate_ids",
			Option:    "id_columns",
			Reason:    "a non-empty list is required",
		}
	}
	action := strings.ToLower(o.String("action", "fail"))
	if action != "fail" && action != "warn" && action != "deduplicate" {
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "validate_duplicate_ids",
			Option:    "action",
			Reason:    fmt.Sprintf("invalid action %q; must be fail, warn, or deduplicate", action),
		}
	}
	keep := strings.ToLower(o.String("keep", "first"))
	if keep != "first" && keep != "last" {
		return nil, &etlerr.ConfigError{
			Component: "transform",
			Tag:       "validate_duplicate_ids",
			Option:    "keep",
			Reason:    fmt.Sprintf("invalid keep %q; must be first or last", keep),
		}
	}
	return &ValidateDuplicateIDs{
		IDColumns:     ids,
		Action:        action,
		Keep:          keep,
		LogDuplicates: o.Bool("log_duplicates", true),
	}, nil
}

func (t *ValidateDuplicateIDs) Name() string { return "validate_duplicate_ids" }

func (t *ValidateDuplicateIDs) Apply(batch records.Batch) (records.Batch, error) {
	if len(batch) == 0 {
		return batch, nil
	}

	// The id columns must exist; checked on the first record, matching the
	// contract that the batch is structurally uniform at this point.
	var missing []string
	for _, col := range t.IDColumns {
		if _, ok := batch[0][col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("id columns not found in data: %s", strings.Join(missing, ", "))
	}

	counts := make(map[uint64]int, len(batch))
	for _, rec := range batch {
		counts[t.keyOf(rec)]++
	}
	dupKeys := 0
	dupRows := 0
	for _, n := range counts {
		if n > 1 {
			dupKeys++
			dupRows += n - 1
		}
	}
	if dupKeys == 0 {
		return batch, nil
	}

	if t.LogDuplicates {
		log.Printf("transform %s: %d duplicate key(s) across %d extra row(s) on columns %v",
			t.Name(), dupKeys, dupRows, t.IDColumns)
	}

	switch t.Action {
	case "fail":
		return nil, fmt.Errorf("found %d duplicate key(s) on columns %s",
			dupKeys, strings.Join(t.IDColumns, ", "))
	case "warn":
		return batch, nil
	default: // deduplicate
		return t.dedupe(batch), nil
	}
}

func (t *ValidateDuplicateIDs) dedupe(batch records.Batch) records.Batch {
	if t.Keep == "last" {
		lastAt := make(map[uint64]int, len(batch))
		for i, rec := range batch {
			lastAt[t.keyOf(rec)] = i
		}
		out := make(records.Batch, 0, len(lastAt))
		for i, rec := range batch {
			if lastAt[t.keyOf(rec)] == i {
				out = append(out, rec)
			}
		}
		return out
	}

	seen := make(map[uint64]struct{}, len(batch))
	out := make(records.Batch, 0, len(batch))
	for _, rec := range batch {
		key := t.keyOf(rec)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func (t *ValidateDuplicateIDs) keyOf(rec records.Record) uint64 {
	var b strings.Builder
	for i, col := range t.IDColumns {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		v := rec[col]
		if v == nil {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(stringForm(v))
	}
	return xxh3.HashString(b.String())
}
