// Package pipeline wires the component families together and executes one
// declarative pipeline end to end: resolve descriptors, extract, run the
// transform chain, load.
//
// Resolution is strict and happens up front: every descriptor in the file is
// turned into a live component before the first byte is extracted, so a typo
// in the destination block cannot waste an hour of API pagination. Stage
// timings and record counts are reported through the metrics package and as
// key=value log lines.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"etlpipe/internal/config"
	"etlpipe/internal/destination"
	"etlpipe/internal/metrics"
	"etlpipe/internal/registry"
	"etlpipe/internal/source"
	"etlpipe/internal/transform"
	"etlpipe/pkg/records"
)

// Runner executes pipelines against a fixed set of component registries.
// The zero value is not usable; construct with NewRunner or fill all three
// registries explicitly (tests swap in their own).
type Runner struct {
	Sources      *registry.Registry[source.Source]
	Transforms   *registry.Registry[transform.Transform]
	Destinations *registry.Registry[destination.Destination]
}

// NewRunner returns a Runner backed by the built-in component registries.
func NewRunner() *Runner {
	return &Runner{
		Sources:      source.NewRegistry(),
		Transforms:   transform.NewRegistry(),
		Destinations: destination.NewRegistry(),
	}
}

// Summary reports what one pipeline run did.
type Summary struct {
	Job         string
	RunID       string
	Extracted   int
	Transformed int
	Loaded      int64
	Result      *destination.Result
	Duration    time.Duration
}

// Run executes cfg once and returns a run summary.
//
// vars are merged into the placeholder set used to expand `{{name}}` markers
// in descriptor options; the runner contributes run_id and run_start, the
// caller typically contributes window_start and window_end. Caller values win
// on collision.
//
// The stages are: lint, resolve all descriptors, extract, transform, then
// PreLoad/Load/PostLoad on the destination. PostLoad is skipped when Load
// fails, leaving any diagnostic state in place for inspection.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline, vars map[string]string) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()

	sum := &Summary{Job: cfg.Job, RunID: runID}
	err := r.run(ctx, cfg, vars, runID, sum)
	sum.Duration = time.Since(start)

	metrics.RecordRun(cfg.Job, err)
	if err != nil {
		log.Printf("pipeline job=%s run_id=%s status=failure duration=%s error=%q",
			cfg.Job, runID, sum.Duration.Round(time.Millisecond), err)
		return sum, err
	}
	log.Printf("pipeline job=%s run_id=%s status=success extracted=%d transformed=%d loaded=%d duration=%s",
		cfg.Job, runID, sum.Extracted, sum.Transformed, sum.Loaded, sum.Duration.Round(time.Millisecond))
	return sum, nil
}

func (r *Runner) run(ctx context.Context, cfg config.Pipeline, vars map[string]string, runID string, sum *Summary) error {
	if err := lint(cfg); err != nil {
		return err
	}

	expanded := map[string]string{
		"run_id":    runID,
		"run_start": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range vars {
		expanded[k] = v
	}
	cfg = cfg.ExpandPlaceholders(expanded)

	// Resolve every descriptor before touching any external system.
	src, err := r.Sources.Create(cfg.Source)
	if err != nil {
		return err
	}
	chain := make(transform.Chain, 0, len(cfg.Transforms))
	for i, d := range cfg.Transforms {
		t, err := r.Transforms.Create(d)
		if err != nil {
			return fmt.Errorf("transforms[%d]: %w", i, err)
		}
		chain = append(chain, t)
	}
	dest, err := r.Destinations.Create(cfg.Destination)
	if err != nil {
		return err
	}
	defer dest.Close()

	// Extract.
	t0 := time.Now()
	batch, err := src.Extract(ctx)
	metrics.RecordStage(cfg.Job, "extract", err, time.Since(t0))
	if err != nil {
		return fmt.Errorf("extract (%s): %w", src.Name(), err)
	}
	sum.Extracted = len(batch)
	metrics.RecordRows(cfg.Job, "extracted", int64(len(batch)))
	log.Printf("stage job=%s run_id=%s stage=extract source=%s records=%d duration=%s",
		cfg.Job, runID, src.Name(), len(batch), time.Since(t0).Round(time.Millisecond))

	// Transform.
	t0 = time.Now()
	batch, err = chain.Apply(batch)
	metrics.RecordStage(cfg.Job, "transform", err, time.Since(t0))
	if err != nil {
		return err
	}
	sum.Transformed = len(batch)
	metrics.RecordRows(cfg.Job, "transformed", int64(len(batch)))
	if dropped := sum.Extracted - sum.Transformed; dropped > 0 {
		metrics.RecordRows(cfg.Job, "filtered", int64(dropped))
	}
	log.Printf("stage job=%s run_id=%s stage=transform steps=%d records=%d duration=%s",
		cfg.Job, runID, len(chain), len(batch), time.Since(t0).Round(time.Millisecond))

	// Load. PostLoad only runs after a successful Load so that staging
	// leftovers from a failed run stay around for inspection.
	t0 = time.Now()
	res, err := load(ctx, dest, batch)
	metrics.RecordStage(cfg.Job, "load", err, time.Since(t0))
	if err != nil {
		return fmt.Errorf("load (%s): %w", dest.Name(), err)
	}
	sum.Loaded = res.RowsLoaded
	sum.Result = res
	metrics.RecordRows(cfg.Job, "loaded", res.RowsLoaded)
	log.Printf("stage job=%s run_id=%s stage=load destination=%s table=%s strategy=%s rows=%d duration=%s",
		cfg.Job, runID, dest.Name(), res.Table, res.Strategy, res.RowsLoaded, time.Since(t0).Round(time.Millisecond))
	return nil
}

func load(ctx context.Context, dest destination.Destination, batch records.Batch) (*destination.Result, error) {
	if err := dest.PreLoad(ctx, batch); err != nil {
		return nil, err
	}
	res, err := dest.Load(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := dest.PostLoad(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// lint runs the static validator and converts error-severity issues into a
// single error. Warnings are logged and do not block the run.
func lint(cfg config.Pipeline) error {
	var errs []error
	for _, issue := range config.ValidatePipeline(cfg) {
		if issue.Severity == config.SeverityError {
			errs = append(errs, issue)
			continue
		}
		log.Printf("lint job=%s severity=%s path=%s msg=%q", cfg.Job, issue.Severity, issue.Path, issue.Message)
	}
	return errors.Join(errs...)
}
