package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const (
	defaultTableID      = "gcp-morning-batch-740.json_example_ds.EmpTravelRecords"
	defaultSourceBucket = "bucket-1-1672024"
	defaultDestBucket   = "bucket-2-1672024"
)

var (
	ErrInvalidTableRef = errors.New("table reference must be project.dataset.table")
	ErrInvalidLocation = errors.New("invalid storage location")
	ErrMissingField    = errors.New("missing mandatory configuration field")
	ErrInvalidCodec    = errors.New("codec must be one of: gzip, none")
	ErrPartitions      = errors.New("partitions must be at least 1")
	ErrSuffixMismatch  = errors.New("suffix never matches the written shard names")
)

// Config is a configuration object for the export pipeline.
type Config struct {
	// AppName labels the session, and is sent to GCP as the user agent.
	AppName string
	// Project is the GCP project used for BigQuery jobs.
	Project string
	// TableID is the fully qualified source table (project.dataset.table).
	TableID string
	// FilterField is the column compared against FilterValue.
	FilterField string
	// FilterValue is the value rows must have in FilterField to be kept.
	FilterValue string
	// SourceBucket receives the shards and is the replication source.
	SourceBucket string
	// DestBucket is the replication destination.
	DestBucket string
	// OutputPath is where shards are written, e.g. gs://bucket/travel/.
	OutputPath string
	// Partitions is the number of shards written.
	Partitions int
	// Suffix selects the objects copied by the replicator.
	Suffix string
	// Codec is the shard compression codec.
	Codec string
	// Header controls whether each shard starts with the column names.
	Header bool
}

// Default returns the configuration the job runs with when nothing is
// overridden.
func Default() Config {
	return Config{
		AppName:      "bq-export-pipeline",
		Project:      "gcp-morning-batch-740",
		TableID:      defaultTableID,
		FilterField:  "Department",
		FilterValue:  "Dept_02",
		SourceBucket: defaultSourceBucket,
		DestBucket:   defaultDestBucket,
		OutputPath:   "gs://" + defaultSourceBucket + "/travel/",
		Partitions:   5,
		Suffix:       ".csv.gz",
		Codec:        "gzip",
	}
}

// Validate checks that every mandatory field is set and well formed.
func (c Config) Validate() error {
	for name, v := range map[string]string{
		"AppName":      c.AppName,
		"FilterField":  c.FilterField,
		"SourceBucket": c.SourceBucket,
		"DestBucket":   c.DestBucket,
		"OutputPath":   c.OutputPath,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	if _, err := ParseTableRef(c.TableID); err != nil {
		return err
	}
	loc, err := ParseLocation(c.OutputPath)
	if err != nil {
		return err
	}
	if c.Partitions < 1 {
		return ErrPartitions
	}
	switch c.Codec {
	case "gzip", "none":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCodec, c.Codec)
	}
	shard := path.Join(loc.Prefix, "part-00000"+c.ShardExtension())
	if !strings.Contains(shard, c.Suffix) {
		return fmt.Errorf("%w: %q not in %q", ErrSuffixMismatch, c.Suffix, shard)
	}
	return nil
}

// ShardExtension returns the extension of the written shards for the
// configured codec, e.g. ".csv.gz".
func (c Config) ShardExtension() string {
	if c.Codec == "gzip" {
		return ".csv.gz"
	}
	return ".csv"
}

// TableRef identifies a BigQuery table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableRef parses a three-part project.dataset.table name. A
// project:dataset.table legacy name is accepted too.
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(strings.Replace(s, ":", ".", 1), ".")
	if len(parts) != 3 {
		return TableRef{}, fmt.Errorf("%w: %q", ErrInvalidTableRef, s)
	}
	for _, p := range parts {
		if p == "" {
			return TableRef{}, fmt.Errorf("%w: %q", ErrInvalidTableRef, s)
		}
	}
	return TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}

// String returns the fully qualified name of the table.
func (r TableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// Location is a parsed storage destination. For local paths Scheme is
// "file" and Bucket holds the directory.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseLocation parses gs://bucket/prefix/, s3://bucket/prefix/,
// file:///dir and bare directory paths.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, fmt.Errorf("%w: empty path", ErrInvalidLocation)
	}
	scheme, rest, found := strings.Cut(s, "://")
	if !found {
		return Location{Scheme: "file", Bucket: filepath.Clean(s)}, nil
	}
	switch scheme {
	case "file":
		if rest == "" {
			return Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, s)
		}
		return Location{Scheme: "file", Bucket: filepath.Clean(rest)}, nil
	case "gs", "s3":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, s)
		}
		return Location{Scheme: scheme, Bucket: bucket, Prefix: prefix}, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, scheme)
	}
}

// String reassembles the location.
func (l Location) String() string {
	if l.Scheme == "file" {
		return l.Bucket
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Prefix
}
