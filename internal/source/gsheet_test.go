package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

func TestRowsToBatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rows [][]any
		want records.Batch
	}{
		{"empty_sheet", nil, records.Batch{}},
		{"header_only", [][]any{{"Name", "Email"}}, records.Batch{}},
		{
			"rows",
			[][]any{
				{"Name", "Email", "Age"},
				{"John Doe", "john@example.com", "30"},
				{"Jane Smith", "jane@example.com", "25"},
			},
			records.Batch{
				{"Name": "John Doe", "Email": "john@example.com", "Age": "30"},
				{"Name": "Jane Smith", "Email": "jane@example.com", "Age": "25"},
			},
		},
		{
			"short_row_padded",
			[][]any{
				{"Name", "Email"},
				{"John"},
			},
			records.Batch{
				{"Name": "John", "Email": ""},
			},
		},
		{
			"long_row_truncated",
			[][]any{
				{"Name"},
				{"John", "extra"},
			},
			records.Batch{
				{"Name": "John"},
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := rowsToBatch(tt.rows)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("rowsToBatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGSheetSourceExtract(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/spreadsheets/sheet123/values/") {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"range":"Sheet1!A1:C3","values":[["id","name"],["1","alpha"],["2","beta"]]}`)
	}))
	defer srv.Close()

	src, err := newGSheetSource(config.Options{
		"spreadsheet_id": "sheet123",
		"range":          "Sheet1!A1:C3",
		"endpoint":       srv.URL,
	})
	if err != nil {
		t.Fatalf("newGSheetSource: %v", err)
	}
	batch, err := src.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d records, want 2", len(batch))
	}
	if batch[1]["name"] != "beta" {
		t.Errorf("record = %v", batch[1])
	}
}

func TestGSheetSourceExtractError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	src, _ := newGSheetSource(config.Options{
		"spreadsheet_id": "missing",
		"range":          "Sheet1!A:Z",
		"endpoint":       srv.URL,
	})
	_, err := src.Extract(context.Background())
	var se *etlerr.SourceError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want SourceError", err)
	}
}

func TestGSheetSourceConfigErrors(t *testing.T) {
	t.Parallel()

	for _, opts := range []config.Options{
		{},
		{"spreadsheet_id": "x"},
		{"range": "Sheet1!A:Z"},
	} {
		_, err := newGSheetSource(opts)
		var ce *etlerr.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("opts %v: got %v, want ConfigError", opts, err)
		}
	}
}

func TestGSheetSourceRangeAlias(t *testing.T) {
	t.Parallel()

	src, err := newGSheetSource(config.Options{
		"spreadsheet_id": "x",
		"range_name":     "Sheet1!A:Z",
	})
	if err != nil {
		t.Fatalf("range_name alias rejected: %v", err)
	}
	if src.(*GSheetSource).readRange != "Sheet1!A:Z" {
		t.Errorf("readRange = %q", src.(*GSheetSource).readRange)
	}
}
