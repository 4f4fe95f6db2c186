// Package pipeline runs the export stages in order: read, transform, write
// and replicate.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/m-lab/bq-export-pipeline/config"
	"github.com/m-lab/bq-export-pipeline/dataset"
	"github.com/m-lab/bq-export-pipeline/exporter"
	"github.com/m-lab/bq-export-pipeline/replicator"
	"github.com/m-lab/bq-export-pipeline/transform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stepDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bq_export_pipeline_step_duration_seconds",
	Help:    "Duration of each pipeline step",
	Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
}, []string{
	"step",
})

type pipelineStep string

const (
	readStep      pipelineStep = "read"
	transformStep pipelineStep = "transform"
	writeStep     pipelineStep = "write"
	replicateStep pipelineStep = "replicate"
)

// TableReader loads a whole table.
type TableReader interface {
	Read(ctx context.Context, ref config.TableRef) (*dataset.Dataset, error)
}

// DatasetExporter writes a Dataset as shards under a prefix.
type DatasetExporter interface {
	Export(ctx context.Context, ds *dataset.Dataset, prefix string,
		partitions int) (*exporter.Result, error)
}

// ObjectReplicator copies matching objects between buckets.
type ObjectReplicator interface {
	Replicate(ctx context.Context, src, dst, suffix string) (replicator.Stats, error)
}

// Summary reports what a run did.
type Summary struct {
	CompletedSteps []pipelineStep
	RowsRead       int
	RowsWritten    int
	Objects        []string
	Replication    replicator.Stats
}

// Pipeline executes the stages strictly one after the other.
type Pipeline struct {
	reader      TableReader
	transformer *transform.Transformer
	exporter    DatasetExporter
	replicator  ObjectReplicator
	config      config.Config
}

// New returns a Pipeline for the given configuration and stages.
func New(conf config.Config, reader TableReader, exporter DatasetExporter,
	replicator ObjectReplicator) *Pipeline {
	return &Pipeline{
		reader:      reader,
		transformer: transform.New(conf.FilterField, conf.FilterValue),
		exporter:    exporter,
		replicator:  replicator,
		config:      conf,
	}
}

// Run executes every stage once. Read and write failures stop the run and
// are returned. Replication errors are only returned when the source bucket
// cannot be listed; individual copy failures are reported in the Summary.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{CompletedSteps: []pipelineStep{}}
	log.Printf("Pipeline starting with table=%s, filter=%s==%s, source=%s, dest=%s",
		p.config.TableID, p.config.FilterField, p.config.FilterValue,
		p.config.SourceBucket, p.config.DestBucket)

	ref, err := config.ParseTableRef(p.config.TableID)
	if err != nil {
		return summary, err
	}
	loc, err := config.ParseLocation(p.config.OutputPath)
	if err != nil {
		return summary, err
	}

	start := time.Now()
	ds, err := p.reader.Read(ctx, ref)
	if err != nil {
		return summary, err
	}
	summary.RowsRead = ds.Len()
	p.done(summary, readStep, start)

	start = time.Now()
	ds = p.transformer.Apply(ds)
	p.done(summary, transformStep, start)

	start = time.Now()
	res, err := p.exporter.Export(ctx, ds, loc.Prefix, p.config.Partitions)
	if err != nil {
		return summary, err
	}
	summary.RowsWritten = res.Rows
	summary.Objects = res.Objects
	p.done(summary, writeStep, start)

	start = time.Now()
	stats, err := p.replicator.Replicate(ctx, p.config.SourceBucket,
		p.config.DestBucket, p.config.Suffix)
	summary.Replication = stats
	if err != nil {
		return summary, err
	}
	p.done(summary, replicateStep, start)

	log.Printf("Pipeline completed successfully.")
	return summary, nil
}

func (p *Pipeline) done(s *Summary, step pipelineStep, start time.Time) {
	stepDurationHistogram.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())
	s.CompletedSteps = append(s.CompletedSteps, step)
}
