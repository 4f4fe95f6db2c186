// Package formatter converts Datasets into the byte content of exported
// objects.
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/m-lab/bq-export-pipeline/dataset"
)

// CSVFormatter marshals rows as delimited text.
type CSVFormatter struct {
	// Header makes Marshal emit the column names first.
	Header bool
	// Comma is the field delimiter. Zero means ','.
	Comma rune
}

// NewCSVFormatter creates a new comma-delimited CSVFormatter.
func NewCSVFormatter(header bool) *CSVFormatter {
	return &CSVFormatter{Header: header, Comma: ','}
}

// Marshal converts rows into delimited text. Null values are written as
// empty fields. An empty shard without header yields empty content.
func (f *CSVFormatter) Marshal(schema []string, rows []dataset.Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if f.Comma != 0 {
		w.Comma = f.Comma
	}
	if f.Header {
		if err := w.Write(schema); err != nil {
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	record := make([]string, len(schema))
	for _, row := range rows {
		if len(row) != len(schema) {
			return nil, fmt.Errorf("row has %d values, schema has %d columns",
				len(row), len(schema))
		}
		for i, v := range row {
			record[i] = dataset.Text(v)
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for CSV files.
func (f *CSVFormatter) Extension() string {
	return ".csv"
}
