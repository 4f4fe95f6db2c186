package output

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/m-lab/bq-export-pipeline/config"
	"github.com/m-lab/go/cloudtest/gcsfake"
	"github.com/m-lab/go/testingx"
	"github.com/m-lab/go/uploader"
)

func TestNewWriter(t *testing.T) {
	client := &gcsfake.GCSClient{}
	client.AddTestBucket("bucket-1", gcsfake.NewBucketHandle())

	tests := []struct {
		name    string
		loc     config.Location
		want    string
		wantErr bool
	}{
		{
			name: "gcs",
			loc:  config.Location{Scheme: "gs", Bucket: "bucket-1", Prefix: "travel/"},
			want: "*output.GCSWriter",
		},
		{
			name: "local",
			loc:  config.Location{Scheme: "file", Bucket: t.TempDir()},
			want: "*output.LocalWriter",
		},
		{
			name:    "unknown",
			loc:     config.Location{Scheme: "hdfs", Bucket: "x"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWriter(context.Background(), tt.loc, client)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var got string
			switch w.(type) {
			case *GCSWriter:
				got = "*output.GCSWriter"
			case *LocalWriter:
				got = "*output.LocalWriter"
			}
			if got != tt.want {
				t.Errorf("NewWriter() returned %T, want %s", w, tt.want)
			}
		})
	}

	if _, err := NewWriter(context.Background(),
		config.Location{Scheme: "gs", Bucket: "b"}, nil); err == nil {
		t.Errorf("NewWriter() without a GCS client: expected err, got nil")
	}
}

func TestGCSWriter_Write(t *testing.T) {
	client := &gcsfake.GCSClient{}
	client.AddTestBucket("test_bucket", gcsfake.NewBucketHandle())

	tests := []struct {
		name    string
		bucket  string
		path    string
		content []byte
		wantErr bool
	}{
		{
			name:    "success-write",
			bucket:  "test_bucket",
			path:    "travel/part-00000.csv.gz",
			content: []byte{0, 1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewGCSWriter(uploader.New(client, tt.bucket))
			if err := u.Write(context.Background(), tt.path, tt.content); (err != nil) != tt.wantErr {
				t.Errorf("GCSWriter.Write() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type mockS3Client struct {
	mustFail bool
	objects  map[string][]byte
}

func (c *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput,
	optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if c.mustFail {
		return nil, errors.New("PutObject() failed")
	}
	b, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	c.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Writer_Write(t *testing.T) {
	tests := []struct {
		name    string
		client  *mockS3Client
		wantErr bool
	}{
		{
			name:   "success",
			client: &mockS3Client{objects: map[string][]byte{}},
		},
		{
			name:    "failure",
			client:  &mockS3Client{mustFail: true},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewS3Writer(tt.client, "bucket")
			err := w.Write(context.Background(), "travel/a.csv.gz", []byte("abc"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("S3Writer.Write() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(tt.client.objects["bucket/travel/a.csv.gz"]) != "abc" {
				t.Errorf("S3Writer.Write() stored %v", tt.client.objects)
			}
		})
	}
}

func TestLocalWriter_Write(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		path    string
		content []byte
		wantErr bool
	}{
		{
			name:    "success",
			dir:     t.TempDir(),
			path:    "travel/part-00000.csv.gz",
			content: []byte{0, 1, 2},
		},
		{
			name:    "error",
			dir:     t.TempDir(),
			path:    "file.not-a-dir/name",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr {
				p := filepath.Join(tt.dir, tt.path)
				err := os.MkdirAll(filepath.Dir(filepath.Dir(p)), os.ModePerm)
				testingx.Must(t, err, "failed to mkdir")
				// create a file where a directory should be.
				f, err := os.Create(filepath.Dir(p))
				testingx.Must(t, err, "failed to create file")
				f.Close()
			}
			lw := NewLocalWriter(context.Background(), tt.dir)
			if err := lw.Write(context.Background(), tt.path, tt.content); (err != nil) != tt.wantErr {
				t.Errorf("LocalWriter.Write() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				got, err := os.ReadFile(filepath.Join(tt.dir, tt.path))
				testingx.Must(t, err, "failed to read back file")
				if string(got) != string(tt.content) {
					t.Errorf("LocalWriter.Write() wrote %v, want %v", got, tt.content)
				}
			}
		})
	}
}

func TestLocalWriter_monitorDirFailureReleasesWriters(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "file"))
	testingx.Must(t, err, "failed to create file")
	f.Close()

	// statfs on a path below a regular file fails with ENOTDIR.
	lw := &LocalWriter{
		dir: filepath.Join(dir, "file", "output"),
		c:   sync.NewCond(&sync.Mutex{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lw.monitorDir(ctx)

	done := make(chan struct{})
	go func() {
		lw.waitUntilSafeToWrite()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("waitUntilSafeToWrite() still blocked after monitorDir stopped")
	}
}
