package migrate

import (
	"context"
	"io"

	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

// ContentStore is the capability set the migration needs from a record
// store. Source and destination are two instances of the same client.
type ContentStore interface {
	FindCases(ctx context.Context, filter models.CaseFilter) ([]models.Case, error)
	// FindCase fails with store.ErrNotFound when no case has the identifier.
	FindCase(ctx context.Context, id string) (*models.Case, error)
	// LatestVersion fails with store.ErrNotFound when no version is flagged latest.
	LatestVersion(ctx context.Context, documentID string) (*models.FileVersion, error)
	OpenBlob(ctx context.Context, versionID string) (io.ReadCloser, error)
	WriteVersion(ctx context.Context, meta models.VersionMetadata, content io.Reader) (string, error)
}

// Recorder persists the outcome of a run. *db.DB implements it.
type Recorder interface {
	RecordTransfer(ctx context.Context, rec models.TransferRecord) error
	RecordFailure(ctx context.Context, runID string, f models.Failure) error
}

type nopRecorder struct{}

func (nopRecorder) RecordTransfer(context.Context, models.TransferRecord) error { return nil }

func (nopRecorder) RecordFailure(context.Context, string, models.Failure) error { return nil }
