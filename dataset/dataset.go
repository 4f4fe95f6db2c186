// Package dataset provides the in-memory tabular representation of a
// BigQuery table that flows between the pipeline stages.
package dataset

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
)

// Row is a single record, with values in Schema order.
type Row []bigquery.Value

// Dataset is a table of rows with named columns. Operations return new
// Datasets and never modify the receiver.
type Dataset struct {
	Schema []string
	Rows   []Row
}

// New returns a Dataset with the given column names and rows.
func New(schema []string, rows ...Row) *Dataset {
	return &Dataset{Schema: schema, Rows: rows}
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// Column returns the index of the named column, or -1.
func (d *Dataset) Column(name string) int {
	for i, c := range d.Schema {
		if c == name {
			return i
		}
	}
	return -1
}

// Filter returns the rows whose field equals value. A missing column
// yields an empty Dataset.
func (d *Dataset) Filter(field string, value bigquery.Value) *Dataset {
	out := &Dataset{Schema: d.Schema, Rows: []Row{}}
	col := d.Column(field)
	if col < 0 {
		return out
	}
	for _, r := range d.Rows {
		if col < len(r) && Equal(r[col], value) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Distinct returns the Dataset without exact duplicate rows. The first
// occurrence of each row is kept.
func (d *Dataset) Distinct() *Dataset {
	out := &Dataset{Schema: d.Schema, Rows: make([]Row, 0, len(d.Rows))}
	seen := make(map[string]struct{}, len(d.Rows))
	for _, r := range d.Rows {
		k := r.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out.Rows = append(out.Rows, r)
	}
	return out
}

// Repartition distributes the rows round-robin over exactly n shards.
// Shards may be empty when there are fewer rows than shards.
func (d *Dataset) Repartition(n int) [][]Row {
	if n < 1 {
		return nil
	}
	shards := make([][]Row, n)
	for i, r := range d.Rows {
		shards[i%n] = append(shards[i%n], r)
	}
	return shards
}

// Equal reports whether a cell value equals want. Values are compared by
// type and content; a string want also matches the text form of a
// non-string cell.
func Equal(cell, want bigquery.Value) bool {
	if valueKey(cell) == valueKey(want) {
		return true
	}
	if s, ok := want.(string); ok && cell != nil {
		if _, isString := cell.(string); !isString {
			return Text(cell) == s
		}
	}
	return false
}

// key identifies the row content across every column. Each column key is
// length prefixed, so no cell content can shift a column boundary.
func (r Row) key() string {
	var b strings.Builder
	for _, v := range r {
		k := valueKey(v)
		fmt.Fprintf(&b, "%d:%s", len(k), k)
	}
	return b.String()
}

func valueKey(v bigquery.Value) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case *big.Rat:
		// Exact, unlike the scale-limited text form.
		if t != nil {
			return "*big.Rat:" + t.RatString()
		}
	}
	return fmt.Sprintf("%T:%s", v, Text(v))
}

// Text renders a value the way it is written to delimited output.
func Text(v bigquery.Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *big.Rat:
		if t == nil {
			return ""
		}
		return bigquery.NumericString(t)
	case fmt.Stringer:
		return t.String()
	case []bigquery.Value, map[string]bigquery.Value:
		j, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(j)
	default:
		return fmt.Sprint(t)
	}
}
