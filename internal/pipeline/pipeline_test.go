package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"etlpipe/internal/config"
	"etlpipe/internal/destination"
	"etlpipe/internal/etlerr"
	"etlpipe/internal/registry"
	"etlpipe/internal/source"
	"etlpipe/internal/transform"
	"etlpipe/pkg/records"
)

// ---- fakes ----

type fakeSource struct {
	batch    records.Batch
	err      error
	extracts *int
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Extract(ctx context.Context) (records.Batch, error) {
	if s.extracts != nil {
		*s.extracts++
	}
	return s.batch, s.err
}

type dropFirst struct{}

func (dropFirst) Name() string { return "drop_first" }

func (dropFirst) Apply(batch records.Batch) (records.Batch, error) {
	if len(batch) == 0 {
		return batch, nil
	}
	return batch[1:], nil
}

type fakeDest struct {
	calls   []string
	loadErr error
	preErr  error
}

func (d *fakeDest) Name() string { return "fake" }

func (d *fakeDest) PreLoad(ctx context.Context, batch records.Batch) error {
	d.calls = append(d.calls, "preload")
	return d.preErr
}

func (d *fakeDest) Load(ctx context.Context, batch records.Batch) (*destination.Result, error) {
	d.calls = append(d.calls, "load")
	if d.loadErr != nil {
		return nil, d.loadErr
	}
	return &destination.Result{Table: "t", RowsLoaded: int64(len(batch)), Strategy: destination.StrategyDirect}, nil
}

func (d *fakeDest) PostLoad(ctx context.Context, res *destination.Result) error {
	d.calls = append(d.calls, "postload")
	return nil
}

func (d *fakeDest) Close() {
	d.calls = append(d.calls, "close")
}

// newFakeRunner wires a runner whose registries know only the fakes, plus
// whatever extra constructors the test registers afterwards.
func newFakeRunner(src *fakeSource, dest *fakeDest) *Runner {
	r := &Runner{
		Sources:      registry.New[source.Source]("source"),
		Transforms:   registry.New[transform.Transform]("transform"),
		Destinations: registry.New[destination.Destination]("destination"),
	}
	r.Sources.Register("fake", func(opts config.Options) (source.Source, error) {
		return src, nil
	})
	r.Transforms.Register("drop_first", func(opts config.Options) (transform.Transform, error) {
		return dropFirst{}, nil
	})
	r.Destinations.Register("fake", func(opts config.Options) (destination.Destination, error) {
		return dest, nil
	})
	return r
}

func basePipeline() config.Pipeline {
	return config.Pipeline{
		Job:         "test_job",
		Source:      config.Descriptor{Type: "fake", Options: config.Options{}},
		Destination: config.Descriptor{Type: "fake", Options: config.Options{"table": "t", "dsn": "x"}},
	}
}

// ---- tests ----

func TestRunHappyPath(t *testing.T) {
	src := &fakeSource{batch: records.Batch{{"id": 1}, {"id": 2}, {"id": 3}}}
	dest := &fakeDest{}
	r := newFakeRunner(src, dest)

	cfg := basePipeline()
	cfg.Transforms = []config.Descriptor{{Type: "drop_first", Options: config.Options{}}}

	sum, err := r.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Extracted != 3 || sum.Transformed != 2 || sum.Loaded != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.RunID == "" {
		t.Error("run id is empty")
	}
	want := []string{"preload", "load", "postload", "close"}
	if len(dest.calls) != len(want) {
		t.Fatalf("destination calls = %v, want %v", dest.calls, want)
	}
	for i := range want {
		if dest.calls[i] != want[i] {
			t.Fatalf("destination calls = %v, want %v", dest.calls, want)
		}
	}
}

func TestUnknownDestinationTypeFailsBeforeExtract(t *testing.T) {
	extracts := 0
	src := &fakeSource{batch: records.Batch{{"id": 1}}, extracts: &extracts}
	r := newFakeRunner(src, &fakeDest{})

	cfg := basePipeline()
	cfg.Destination.Type = "nope"

	_, err := r.Run(context.Background(), cfg, nil)
	var ce *etlerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if extracts != 0 {
		t.Errorf("source was extracted %d times before the config error", extracts)
	}
}

func TestUnknownTransformTypeFailsBeforeExtract(t *testing.T) {
	extracts := 0
	src := &fakeSource{batch: records.Batch{{"id": 1}}, extracts: &extracts}
	r := newFakeRunner(src, &fakeDest{})

	cfg := basePipeline()
	cfg.Transforms = []config.Descriptor{{Type: "nope", Options: config.Options{}}}

	_, err := r.Run(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "transforms[0]") {
		t.Fatalf("got %v, want transforms[0] config error", err)
	}
	if extracts != 0 {
		t.Errorf("source was extracted %d times before the config error", extracts)
	}
}

func TestPostLoadSkippedOnLoadFailure(t *testing.T) {
	src := &fakeSource{batch: records.Batch{{"id": 1}}}
	dest := &fakeDest{loadErr: errors.New("copy failed")}
	r := newFakeRunner(src, dest)

	_, err := r.Run(context.Background(), basePipeline(), nil)
	if err == nil {
		t.Fatal("Run succeeded despite load failure")
	}
	for _, c := range dest.calls {
		if c == "postload" {
			t.Errorf("PostLoad ran after a failed Load: calls=%v", dest.calls)
		}
	}
	if dest.calls[len(dest.calls)-1] != "close" {
		t.Errorf("destination was not closed: calls=%v", dest.calls)
	}
}

func TestExtractErrorAbortsRun(t *testing.T) {
	src := &fakeSource{err: errors.New("api down")}
	dest := &fakeDest{}
	r := newFakeRunner(src, dest)

	_, err := r.Run(context.Background(), basePipeline(), nil)
	if err == nil || !strings.Contains(err.Error(), "api down") {
		t.Fatalf("got %v, want extract error", err)
	}
	for _, c := range dest.calls {
		if c != "close" {
			t.Errorf("destination touched after failed extract: calls=%v", dest.calls)
		}
	}
}

func TestPlaceholderExpansion(t *testing.T) {
	src := &fakeSource{}
	dest := &fakeDest{}
	r := newFakeRunner(src, dest)

	var seen config.Options
	r.Sources.Register("capture", func(opts config.Options) (source.Source, error) {
		seen = opts
		return src, nil
	})

	cfg := basePipeline()
	cfg.Source = config.Descriptor{Type: "capture", Options: config.Options{
		"updated_at_min": "{{window_start}}",
		"run":            "{{run_id}}",
	}}

	sum, err := r.Run(context.Background(), cfg, map[string]string{"window_start": "2026-08-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := seen.String("updated_at_min", ""); got != "2026-08-01T00:00:00Z" {
		t.Errorf("window_start expanded to %q", got)
	}
	if got := seen.String("run", ""); got != sum.RunID || strings.Contains(got, "{{") {
		t.Errorf("run_id expanded to %q, summary has %q", got, sum.RunID)
	}
}

func TestLintErrorBlocksRun(t *testing.T) {
	extracts := 0
	src := &fakeSource{extracts: &extracts}
	r := newFakeRunner(src, &fakeDest{})

	cfg := basePipeline()
	cfg.Job = "" // error severity

	_, err := r.Run(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "job") {
		t.Fatalf("got %v, want lint error about job", err)
	}
	if extracts != 0 {
		t.Error("extract ran despite lint failure")
	}
}

func TestEmptyBatchRunSucceeds(t *testing.T) {
	src := &fakeSource{batch: records.Batch{}}
	dest := &fakeDest{}
	r := newFakeRunner(src, dest)

	sum, err := r.Run(context.Background(), basePipeline(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Extracted != 0 || sum.Loaded != 0 {
		t.Errorf("summary = %+v", sum)
	}
}
