// Package output provides the object sinks the exporter writes shards to.
package output

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/m-lab/bq-export-pipeline/config"
	"github.com/m-lab/go/uploader"
)

// Writer saves the content of a single object.
type Writer interface {
	Write(ctx context.Context, path string, content []byte) error
}

// NewWriter returns the Writer for the given location. gcs is only used for
// gs:// locations.
func NewWriter(ctx context.Context, loc config.Location, gcs stiface.Client) (Writer, error) {
	switch loc.Scheme {
	case "gs":
		if gcs == nil {
			return nil, fmt.Errorf("no GCS client for %s", loc)
		}
		return NewGCSWriter(uploader.New(gcs, loc.Bucket)), nil
	case "s3":
		client, err := newS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return NewS3Writer(client, loc.Bucket), nil
	case "file":
		return NewLocalWriter(ctx, loc.Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported location: %s", loc)
	}
}

// GCSWriter provides Write operations to a GCS bucket.
type GCSWriter struct {
	up *uploader.Uploader
}

// NewGCSWriter creates a new GCSWriter from the given uploader.Uploader.
func NewGCSWriter(up *uploader.Uploader) *GCSWriter {
	return &GCSWriter{up: up}
}

// Write creates a new object at path containing content.
func (u *GCSWriter) Write(ctx context.Context, path string, content []byte) error {
	_, err := u.up.Upload(ctx, path, content)
	return err
}

// S3PutObjectAPI is the subset of the S3 client used by S3Writer.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer provides Write operations to an S3 bucket.
type S3Writer struct {
	client S3PutObjectAPI
	bucket string
}

// NewS3Writer creates a new S3Writer for bucket.
func NewS3Writer(client S3PutObjectAPI, bucket string) *S3Writer {
	return &S3Writer{client: client, bucket: bucket}
}

// Write creates a new object at path containing content.
func (w *S3Writer) Write(ctx context.Context, path string, content []byte) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	})
	return err
}

// LocalWriter provides Write operations to a local directory.
type LocalWriter struct {
	dir  string
	c    *sync.Cond
	safe bool
}

// minFreeRatio is the fraction of free blocks and inodes below which
// writes are held back.
const minFreeRatio = 0.1

// NewLocalWriter creates a new LocalWriter for the given output directory.
func NewLocalWriter(ctx context.Context, dir string) *LocalWriter {
	lw := &LocalWriter{dir: dir, c: sync.NewCond(&sync.Mutex{}), safe: true}
	go lw.monitorDir(ctx)
	return lw
}

// monitorDir is meant to run as a goroutine in the background to gate writes to
// the monitored output directory.
func (lw *LocalWriter) monitorDir(ctx context.Context) {
	for ctx.Err() == nil {
		time.Sleep(time.Second)

		stat := syscall.Statfs_t{}
		if err := syscall.Statfs(lw.dir, &stat); err != nil {
			if os.IsNotExist(err) {
				// Nothing has been written yet.
				continue
			}
			log.Printf("Warning: reading statfs for %s failed: %v", lw.dir, err)
			// Without a monitor, writers must not wait on it.
			lw.c.L.Lock()
			lw.safe = true
			lw.c.Broadcast()
			lw.c.L.Unlock()
			return
		}

		lw.c.L.Lock()
		if float64(stat.Ffree)/float64(stat.Files) < minFreeRatio ||
			float64(stat.Bfree)/float64(stat.Blocks) < minFreeRatio {
			lw.safe = false
		} else {
			lw.safe = true
			lw.c.Broadcast()
		}
		lw.c.L.Unlock()
	}
}

func (lw *LocalWriter) waitUntilSafeToWrite() {
	lw.c.L.Lock()
	for !lw.safe {
		lw.c.Wait()
	}
	lw.c.L.Unlock()
}

// Write creates a new file at path containing content.
func (lw *LocalWriter) Write(ctx context.Context, path string, content []byte) error {
	p := filepath.Join(lw.dir, path)
	// path may include additional directory elements.
	if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
		return err
	}
	lw.waitUntilSafeToWrite()
	return os.WriteFile(p, content, 0664)
}
