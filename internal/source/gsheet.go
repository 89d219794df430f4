package source

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// GSheetSource extracts a worksheet range from a Google spreadsheet. The
// first row of the range is the header; data rows shorter than the header are
// padded with empty strings so every record carries every column.
type GSheetSource struct {
	spreadsheetID string
	readRange     string
	clientOpts    []option.ClientOption
}

func newGSheetSource(o config.Options) (Source, error) {
	id := o.String("spreadsheet_id", "")
	if id == "" {
		return nil, &etlerr.ConfigError{
			Component: "source",
			Tag:       "gsheet",
			Option:    "spreadsheet_id",
			Reason:    "missing required option",
		}
	}
	readRange := o.String("range", o.String("range_name", ""))
	if readRange == "" {
		return nil, &etlerr.ConfigError{
			Component: "source",
			Tag:       "gsheet",
			Option:    "range",
			Reason:    "missing required option",
		}
	}

	var opts []option.ClientOption
	if f := o.String("credentials_file", ""); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	if j := o.String("credentials_json", ""); j != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(j)))
	}
	// endpoint override is how tests point the adapter at a local server.
	if ep := o.String("endpoint", ""); ep != "" {
		opts = append(opts, option.WithEndpoint(ep), option.WithoutAuthentication())
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsReadonlyScope))

	return &GSheetSource{
		spreadsheetID: id,
		readRange:     readRange,
		clientOpts:    opts,
	}, nil
}

func (s *GSheetSource) Name() string { return "gsheet" }

func (s *GSheetSource) Extract(ctx context.Context) (records.Batch, error) {
	svc, err := sheets.NewService(ctx, s.clientOpts...)
	if err != nil {
		return nil, &etlerr.SourceError{Tag: "gsheet", Err: fmt.Errorf("build sheets client: %w", err)}
	}

	resp, err := svc.Spreadsheets.Values.Get(s.spreadsheetID, s.readRange).Context(ctx).Do()
	if err != nil {
		return nil, &etlerr.SourceError{Tag: "gsheet", Err: err}
	}

	batch := rowsToBatch(resp.Values)
	log.Printf("source gsheet: spreadsheet=%s range=%s records=%d",
		s.spreadsheetID, s.readRange, len(batch))
	return batch, nil
}

// rowsToBatch converts a header row plus data rows into records. A sheet with
// no rows, or only a header, yields an empty batch. Extra cells beyond the
// header width are dropped.
func rowsToBatch(rows [][]any) records.Batch {
	if len(rows) < 2 {
		return records.Batch{}
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = fmt.Sprint(h)
	}

	batch := make(records.Batch, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(records.Record, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = ""
			}
		}
		batch = append(batch, rec)
	}
	return batch
}
