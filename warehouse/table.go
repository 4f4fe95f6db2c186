// Package warehouse reads BigQuery tables into Datasets.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/googleapis/google-cloud-go-testing/bigquery/bqiface"
	"github.com/m-lab/bq-export-pipeline/config"
	"github.com/m-lab/bq-export-pipeline/dataset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

var (
	rowsReadMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bq_export_pipeline_rows_read_total",
		Help: "Rows read from the source table",
	}, []string{
		"table",
	})
	tableBytesMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bq_export_pipeline_table_bytes",
		Help: "Size of the source table at read time",
	}, []string{
		"table",
	})
)

// ErrTableNotFound is returned when the source table does not exist.
var ErrTableNotFound = errors.New("table not found")

// pageSize is the number of rows requested per page.
const pageSize = 100000

// Reader loads whole tables from BigQuery.
type Reader struct {
	client bqiface.Client
}

// NewReader returns a Reader using the given BQ client.
func NewReader(client bqiface.Client) *Reader {
	return &Reader{client: client}
}

// Read returns the full content of the table at read time. Any failure is
// logged with the table reference and returned; no partial result is
// returned.
func (r *Reader) Read(ctx context.Context, ref config.TableRef) (*dataset.Dataset, error) {
	log.Printf("Loading data from BigQuery table: %s", ref)
	ds, err := r.read(ctx, ref)
	if err != nil {
		log.Printf("Error: failed to load data from BigQuery table %s: %v", ref, err)
		return nil, err
	}
	log.Printf("Loaded %d rows from table: %s", ds.Len(), ref)
	return ds, nil
}

func (r *Reader) read(ctx context.Context, ref config.TableRef) (*dataset.Dataset, error) {
	t := r.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table)
	md, err := t.Metadata(ctx)
	if e, ok := err.(*googleapi.Error); ok && e.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	tableBytesMetric.WithLabelValues(ref.String()).Set(float64(md.NumBytes))

	ds := dataset.New(columnNames(md.Schema))
	it := t.Read(ctx)
	it.PageInfo().MaxSize = pageSize
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		ds.Rows = append(ds.Rows, dataset.Row(row))
	}
	rowsReadMetric.WithLabelValues(ref.String()).Add(float64(ds.Len()))
	return ds, nil
}

func columnNames(schema bigquery.Schema) []string {
	names := make([]string, 0, len(schema))
	for _, f := range schema {
		names = append(names, f.Name)
	}
	return names
}
