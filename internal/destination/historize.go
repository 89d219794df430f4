package destination

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// System columns carried by historized tables. Data columns never start with
// an underscore after normalization, so the prefix cleanly separates the two.
const (
	colRecordHash    = "_record_hash"
	colIDHash        = "_id_hash"
	colValidFrom     = "_valid_from"
	colValidTo       = "_valid_to"
	colDeletedAt     = "_deleted_at"
	colLoadedAt      = "_loaded_at"
	colPipelineRunID = "_pipeline_run_id"
	colSourceSystem  = "_source_system"
	colLoadBatchID   = "_load_batch_id"
)

var systemColumns = []string{
	colRecordHash, colIDHash, colValidFrom, colValidTo, colDeletedAt,
	colLoadedAt, colPipelineRunID, colSourceSystem, colLoadBatchID,
}

// HistorizeConfig controls SCD Type 2 merges.
type HistorizeConfig struct {
	IDColumns     []string
	HashAlgorithm string // "md5" | "sha256"
	TrackDeletes  bool

	// RunID and SourceSystem stamp every loaded row for lineage.
	RunID        string
	SourceSystem string
}

// parseHistorizeConfig reads the "historization" block. Returns nil when the
// write mode does not require one.
func parseHistorizeConfig(tag string, o config.Options, writeMode string) (*HistorizeConfig, error) {
	if writeMode != "historize" {
		return nil, nil
	}
	block := o.Map("historization")
	ids := block.StringSlice("id_columns")
	if len(ids) == 0 {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       tag,
			Option:    "historization.id_columns",
			Reason:    "required when write_mode is historize",
		}
	}
	algo := strings.ToLower(block.String("hash_algorithm", "md5"))
	if algo != "md5" && algo != "sha256" {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       tag,
			Option:    "historization.hash_algorithm",
			Reason:    fmt.Sprintf("invalid algorithm %q; must be md5 or sha256", algo),
		}
	}
	return &HistorizeConfig{
		IDColumns:     ids,
		HashAlgorithm: algo,
		TrackDeletes:  block.Bool("track_deletes", true),
		RunID:         o.String("run_id", ""),
		SourceSystem:  o.String("source_system", ""),
	}, nil
}

// hashHex digests s with the configured algorithm.
func (h *HistorizeConfig) hashHex(s string) string {
	if h.HashAlgorithm == "sha256" {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// recordHash fingerprints the whole record over its sorted data columns, so
// any value change produces a new version.
func (h *HistorizeConfig) recordHash(rec records.Record) string {
	var b strings.Builder
	first := true
	for _, k := range rec.Keys() {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if !first {
			b.WriteByte('|')
		}
		first = false
		fmt.Fprintf(&b, "%s:%v", k, rec[k])
	}
	return h.hashHex(b.String())
}

// idHash fingerprints just the identifying columns for fast merge joins.
func (h *HistorizeConfig) idHash(rec records.Record) string {
	parts := make([]string, len(h.IDColumns))
	for i, col := range h.IDColumns {
		if v := rec[col]; v != nil {
			parts[i] = fmt.Sprint(v)
		}
	}
	return h.hashHex(strings.Join(parts, "|"))
}

// enrich copies the batch and stamps every record with the system columns.
// The input batch is left untouched.
func (h *HistorizeConfig) enrich(batch records.Batch, loadBatchID string, now time.Time) records.Batch {
	out := make(records.Batch, 0, len(batch))
	for _, rec := range batch {
		nr := rec.Clone()
		nr[colRecordHash] = h.recordHash(rec)
		nr[colIDHash] = h.idHash(rec)
		nr[colValidFrom] = now
		nr[colValidTo] = nil
		nr[colDeletedAt] = nil
		nr[colLoadedAt] = now
		nr[colPipelineRunID] = h.RunID
		nr[colSourceSystem] = h.SourceSystem
		nr[colLoadBatchID] = loadBatchID
		out = append(out, nr)
	}
	return out
}

// dataColumns filters system columns out of a column list, preserving order.
func dataColumns(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !strings.HasPrefix(c, "_") {
			out = append(out, c)
		}
	}
	return out
}
