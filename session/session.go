// Package session creates the cloud clients shared by every pipeline stage.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/bigquery/bqiface"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"google.golang.org/api/option"
)

// ErrMissingAppName is returned by New when appName is empty.
var ErrMissingAppName = errors.New("missing application name")

// Session holds the BigQuery and GCS clients used for a run. It is created
// once and only used as a handle afterwards.
type Session struct {
	AppName string
	Project string

	BigQuery bqiface.Client
	Storage  stiface.Client
}

// New creates a Session. Credentials come from the environment; additional
// client options may be passed in opts.
func New(ctx context.Context, appName, project string, opts ...option.ClientOption) (*Session, error) {
	if appName == "" {
		return nil, ErrMissingAppName
	}
	log.Printf("Creating session %s (project: %s)", appName, project)
	opts = append([]option.ClientOption{option.WithUserAgent(appName)}, opts...)

	bqClient, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing BQ client: %w", err)
	}
	gcsClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		bqClient.Close()
		return nil, fmt.Errorf("error initializing GCS client: %w", err)
	}
	return &Session{
		AppName:  appName,
		Project:  project,
		BigQuery: bqiface.AdaptClient(bqClient),
		Storage:  stiface.AdaptClient(gcsClient),
	}, nil
}

// Close releases both clients.
func (s *Session) Close() error {
	bqErr := s.BigQuery.Close()
	gcsErr := s.Storage.Close()
	if bqErr != nil {
		return bqErr
	}
	return gcsErr
}
