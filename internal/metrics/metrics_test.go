package metrics

import (
	"errors"
	"testing"
	"time"
)

// capture records every call so tests can assert on names and labels.
type capture struct {
	counters   []capturedMetric
	histograms []capturedMetric
	flushed    int
}

type capturedMetric struct {
	name   string
	value  float64
	labels Labels
}

func (c *capture) IncCounter(name string, delta float64, labels Labels) {
	c.counters = append(c.counters, capturedMetric{name, delta, labels})
}

func (c *capture) ObserveHistogram(name string, value float64, labels Labels) {
	c.histograms = append(c.histograms, capturedMetric{name, value, labels})
}

func (c *capture) Flush() error {
	c.flushed++
	return nil
}

func withCapture(t *testing.T) *capture {
	t.Helper()
	c := &capture{}
	prev := backend
	SetBackend(c)
	t.Cleanup(func() { backend = prev })
	return c
}

func TestRecordStage(t *testing.T) {
	c := withCapture(t)

	RecordStage("orders", "extract", nil, 2*time.Second)
	RecordStage("orders", "load", errors.New("boom"), time.Second)

	if len(c.counters) != 2 || len(c.histograms) != 2 {
		t.Fatalf("counters=%d histograms=%d", len(c.counters), len(c.histograms))
	}
	if c.counters[0].labels["status"] != "success" {
		t.Errorf("first status = %q", c.counters[0].labels["status"])
	}
	if c.counters[1].labels["status"] != "failure" {
		t.Errorf("second status = %q", c.counters[1].labels["status"])
	}
	if c.histograms[0].value != 2.0 {
		t.Errorf("duration seconds = %v", c.histograms[0].value)
	}
	if c.counters[0].name != "pipeline_stage_total" {
		t.Errorf("counter name = %q", c.counters[0].name)
	}
}

func TestRecordRowsSkipsNonPositive(t *testing.T) {
	c := withCapture(t)

	RecordRows("orders", "loaded", 0)
	RecordRows("orders", "loaded", -5)
	RecordRows("orders", "loaded", 10)

	if len(c.counters) != 1 {
		t.Fatalf("got %d counters, want 1", len(c.counters))
	}
	if c.counters[0].value != 10 {
		t.Errorf("delta = %v", c.counters[0].value)
	}
}

func TestRecordRun(t *testing.T) {
	c := withCapture(t)

	RecordRun("orders", nil)
	RecordRun("orders", errors.New("boom"))

	if len(c.counters) != 2 {
		t.Fatalf("got %d counters", len(c.counters))
	}
	if c.counters[0].labels["status"] != "success" || c.counters[1].labels["status"] != "failure" {
		t.Errorf("statuses = %v, %v", c.counters[0].labels, c.counters[1].labels)
	}
}

func TestSetBackendNilKeepsExisting(t *testing.T) {
	c := withCapture(t)
	SetBackend(nil)
	RecordRun("orders", nil)
	if len(c.counters) != 1 {
		t.Error("nil SetBackend replaced the backend")
	}
}

func TestFlushDelegates(t *testing.T) {
	c := withCapture(t)
	if err := Flush(); err != nil {
		t.Fatal(err)
	}
	if c.flushed != 1 {
		t.Errorf("flushed = %d", c.flushed)
	}
}
