// Package replicator copies exported objects between GCS buckets.
package replicator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/api/iterator"
)

var copiedObjectsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bq_export_pipeline_replicated_objects_total",
	Help: "Objects copied by the replicator",
}, []string{
	"destination", "status",
})

// Stats summarizes a replication run.
type Stats struct {
	// Listed is the number of objects found in the source bucket.
	Listed int
	// Matched is the number of objects whose name contains the suffix.
	Matched int
	Copied  int
	Failed  int
}

// Replicator copies objects from one bucket to another.
type Replicator struct {
	client stiface.Client
}

// New returns a Replicator using the given GCS client.
func New(client stiface.Client) *Replicator {
	return &Replicator{client: client}
}

// Replicate copies every object of src whose name contains suffix into dst,
// keeping its name. An empty source bucket is not an error. Copy failures
// are logged and counted but never abort the remaining copies, and never
// make Replicate fail. Only a failure to list src is returned.
func (r *Replicator) Replicate(ctx context.Context, src, dst, suffix string) (Stats, error) {
	var stats Stats
	srcBucket := r.client.Bucket(src)
	dstBucket := r.client.Bucket(dst)

	names, err := r.list(ctx, srcBucket)
	if err != nil {
		log.Printf("Error: cannot list objects in source bucket %s: %v", src, err)
		return stats, err
	}
	stats.Listed = len(names)
	if len(names) == 0 {
		log.Printf("Warning: no objects found in source bucket %s", src)
		return stats, nil
	}
	log.Printf("Found %d objects in source bucket %s. Copying to %s.",
		len(names), src, dst)

	for _, name := range names {
		if !strings.Contains(name, suffix) {
			continue
		}
		stats.Matched++
		_, err := dstBucket.Object(name).CopierFrom(srcBucket.Object(name)).Run(ctx)
		if err != nil {
			log.Printf("Error: failed to copy %s: %v", name, err)
			copiedObjectsMetric.WithLabelValues(dst, "error").Inc()
			stats.Failed++
			continue
		}
		log.Printf("Copied %s to %s", name, dst)
		copiedObjectsMetric.WithLabelValues(dst, "ok").Inc()
		stats.Copied++
	}
	log.Printf("Replication to %s done: %d matched, %d copied, %d failed",
		dst, stats.Matched, stats.Copied, stats.Failed)
	return stats, nil
}

func (r *Replicator) list(ctx context.Context, bucket stiface.BucketHandle) ([]string, error) {
	var names []string
	it := bucket.Objects(ctx, &storage.Query{})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
}
