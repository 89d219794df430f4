package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/pkg/records"
)

// FileSource extracts records from a local CSV or JSON file. CSV files are
// read header-first with tolerant settings (lazy quotes, variable field
// counts); JSON files must contain an array of objects.
type FileSource struct {
	path      string
	format    string // "csv" | "json"
	delimiter rune
	headerMap map[string]string
}

func newFileSource(o config.Options) (Source, error) {
	path := o.String("path", "")
	if path == "" {
		return nil, &etlerr.ConfigError{
			Component: "source",
			Tag:       "file",
			Option:    "path",
			Reason:    "missing required option",
		}
	}

	format := strings.ToLower(o.String("format", ""))
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			format = "json"
		default:
			format = "csv"
		}
	}
	if format != "csv" && format != "json" {
		return nil, &etlerr.ConfigError{
			Component: "source",
			Tag:       "file",
			Option:    "format",
			Reason:    fmt.Sprintf("unsupported format %q, supported: csv, json", format),
		}
	}

	delim := ','
	if d := o.String("delimiter", ""); d != "" {
		delim = rune(d[0])
	}

	return &FileSource{
		path:      path,
		format:    format,
		delimiter: delim,
		headerMap: o.StringMap("header_map"),
	}, nil
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Extract(ctx context.Context) (records.Batch, error) {
	select {
	case <-ctx.Done():
		return nil, &etlerr.SourceError{Tag: "file", Err: ctx.Err()}
	default:
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, &etlerr.SourceError{Tag: "file", Err: err}
	}
	defer f.Close()

	var batch records.Batch
	switch s.format {
	case "json":
		batch, err = s.readJSON(f)
	default:
		batch, err = s.readCSV(f)
	}
	if err != nil {
		return nil, &etlerr.SourceError{Tag: "file", Err: err}
	}
	log.Printf("source file: path=%s format=%s records=%d", s.path, s.format, len(batch))
	return batch, nil
}

func (s *FileSource) readCSV(f io.Reader) (records.Batch, error) {
	r := csv.NewReader(f)
	r.Comma = s.delimiter
	r.FieldsPerRecord = -1 // allow variable fields per row
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return records.Batch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if mapped, ok := s.headerMap[h]; ok && mapped != "" {
			h = mapped
		}
		header[i] = h
	}

	var batch records.Batch
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := make(records.Record, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = strings.TrimSpace(row[i])
			} else {
				rec[col] = ""
			}
		}
		batch = append(batch, rec)
	}
	if batch == nil {
		batch = records.Batch{}
	}
	return batch, nil
}

func (s *FileSource) readJSON(f io.Reader) (records.Batch, error) {
	var batch records.Batch
	dec := json.NewDecoder(f)
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode json array: %w", err)
	}
	return batch, nil
}
