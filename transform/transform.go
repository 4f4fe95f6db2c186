// Package transform filters a Dataset on one column and deduplicates the
// surviving rows.
package transform

import (
	"log"

	"cloud.google.com/go/bigquery"
	"github.com/m-lab/bq-export-pipeline/dataset"
)

// Transformer keeps the rows whose Field equals Value and drops exact
// duplicates.
type Transformer struct {
	Field string
	Value bigquery.Value
}

// New returns a Transformer filtering on field == value.
func New(field string, value bigquery.Value) *Transformer {
	return &Transformer{Field: field, Value: value}
}

// Apply returns a new Dataset. The input is not modified. An empty result
// is valid.
func (t *Transformer) Apply(ds *dataset.Dataset) *dataset.Dataset {
	filtered := ds.Filter(t.Field, t.Value)
	out := filtered.Distinct()
	log.Printf("Transformed %d rows into %d (%s == %v, %d duplicates dropped)",
		ds.Len(), out.Len(), t.Field, t.Value, filtered.Len()-out.Len())
	if out.Len() == 0 {
		log.Printf("No rows left after filtering on %s == %v", t.Field, t.Value)
	}
	return out
}
