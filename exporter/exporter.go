// Package exporter writes a Dataset as a set of compressed delimited-text
// shards.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/m-lab/bq-export-pipeline/dataset"
	"github.com/m-lab/bq-export-pipeline/formatter"
	"github.com/m-lab/bq-export-pipeline/output"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	uploadedBytesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bq_export_pipeline_uploaded_bytes_total",
		Help: "Bytes written by the exporter",
	}, []string{
		"destination",
	})
	shardsWrittenMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bq_export_pipeline_shards_written_total",
		Help: "Shards written by the exporter",
	}, []string{
		"destination", "status",
	})
	inFlightUploadsHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bq_export_pipeline_in_flight_uploads",
		Help:    "Uploads in flight when a shard upload starts",
		Buckets: prometheus.LinearBuckets(1, 2, 8),
	}, []string{
		"destination",
	})
)

// ErrInvalidPartitions is returned when the number of shards is < 1.
var ErrInvalidPartitions = errors.New("the number of partitions must be at least 1")

const (
	// successMarker is written once every shard has been written.
	successMarker = "_SUCCESS"
	// maxParallelUploads bounds concurrent shard uploads.
	maxParallelUploads = 8
)

// Formatter marshals rows into object content.
type Formatter interface {
	Marshal(schema []string, rows []dataset.Row) ([]byte, error)
	Extension() string
}

// UploadJob is a single shard ready to be written.
type UploadJob struct {
	objName string
	content []byte
	rows    int
}

// Result describes a completed export.
type Result struct {
	// Objects are the names of the written shards, in partition order.
	Objects []string
	// Rows is the total number of rows across all shards.
	Rows int
}

// CSVExporter writes Datasets as compressed CSV shards to an output.Writer.
type CSVExporter struct {
	output output.Writer
	format Formatter
	codec  formatter.Codec

	// destination is used to label logs and metrics.
	destination string
	newRunID    func() string
}

// New generates a new CSVExporter.
func New(output output.Writer, destination string, format Formatter,
	codec formatter.Codec) *CSVExporter {
	return &CSVExporter{
		output:      output,
		format:      format,
		codec:       codec,
		destination: destination,
		newRunID:    uuid.NewString,
	}
}

// Export splits ds into exactly partitions shards and writes each one under
// prefix, followed by a _SUCCESS marker. Empty shards are written too.
//
// On the first failure the error is logged with the destination and
// returned. Shards written before the failure are not removed.
func (exporter *CSVExporter) Export(ctx context.Context, ds *dataset.Dataset,
	prefix string, partitions int) (*Result, error) {
	log.Printf("Writing %d rows to %s with %d partitions", ds.Len(),
		exporter.destination, partitions)
	res, err := exporter.export(ctx, ds, prefix, partitions)
	if err != nil {
		log.Printf("Error: writing data to %s failed: %v", exporter.destination, err)
		return nil, err
	}
	log.Printf("Data successfully written to %s (%d objects)", exporter.destination,
		len(res.Objects))
	return res, nil
}

func (exporter *CSVExporter) export(ctx context.Context, ds *dataset.Dataset,
	prefix string, partitions int) (*Result, error) {
	if partitions < 1 {
		return nil, ErrInvalidPartitions
	}
	runID := exporter.newRunID()
	jobs := make([]*UploadJob, 0, partitions)
	for i, shard := range ds.Repartition(partitions) {
		j, err := exporter.marshal(ds.Schema, shard,
			path.Join(prefix, exporter.objectName(i, runID)))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	var inFlight int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			inFlightUploadsHistogram.WithLabelValues(exporter.destination).
				Observe(float64(atomic.AddInt32(&inFlight, 1)))
			defer atomic.AddInt32(&inFlight, -1)
			return exporter.upload(gctx, j)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, j := range jobs {
		res.Objects = append(res.Objects, j.objName)
		res.Rows += j.rows
	}
	// The marker is only written once every shard is in place.
	if err := exporter.output.Write(ctx, path.Join(prefix, successMarker), []byte{}); err != nil {
		return nil, fmt.Errorf("cannot write %s marker: %w", successMarker, err)
	}
	return res, nil
}

// objectName follows the part-NNNNN-<run id> convention of distributed
// writers, so that shards from different runs never collide.
func (exporter *CSVExporter) objectName(partition int, runID string) string {
	return fmt.Sprintf("part-%05d-%s%s%s", partition, runID,
		exporter.format.Extension(), exporter.codec.Extension())
}

func (exporter *CSVExporter) marshal(schema []string, rows []dataset.Row,
	name string) (*UploadJob, error) {
	content, err := exporter.format.Marshal(schema, rows)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal %s: %w", name, err)
	}
	compressed, err := exporter.codec.Compress(content)
	if err != nil {
		return nil, fmt.Errorf("cannot compress %s: %w", name, err)
	}
	return &UploadJob{objName: name, content: compressed, rows: len(rows)}, nil
}

func (exporter *CSVExporter) upload(ctx context.Context, j *UploadJob) error {
	start := time.Now()
	err := exporter.output.Write(ctx, j.objName, j.content)
	if err != nil {
		shardsWrittenMetric.WithLabelValues(exporter.destination, "error").Inc()
		return fmt.Errorf("cannot write %s: %w", j.objName, err)
	}
	shardsWrittenMetric.WithLabelValues(exporter.destination, "ok").Inc()
	uploadedBytesMetric.WithLabelValues(exporter.destination).Add(float64(len(j.content)))
	log.Printf("Wrote %s (%d rows, %d bytes) in %s", j.objName, j.rows,
		len(j.content), time.Since(start).Round(time.Millisecond))
	return nil
}
