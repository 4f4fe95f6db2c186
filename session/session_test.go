package session

import (
	"context"
	"errors"
	"testing"

	"github.com/m-lab/go/testingx"
	"google.golang.org/api/option"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		appName string
		wantErr error
	}{
		{
			name:    "ok",
			appName: "bq-export-pipeline",
		},
		{
			name:    "missing-app-name",
			appName: "",
			wantErr: ErrMissingAppName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(context.Background(), tt.appName, "test-project",
				option.WithoutAuthentication())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			testingx.Must(t, err, "cannot create session")
			defer s.Close()
			if s.AppName != tt.appName || s.Project != "test-project" {
				t.Errorf("New() returned %+v", s)
			}
			if s.BigQuery == nil || s.Storage == nil {
				t.Errorf("New() didn't initialize the clients")
			}
		})
	}
}
