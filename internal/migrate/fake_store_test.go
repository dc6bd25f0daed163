package migrate

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/internal/store"
	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

type writtenVersion struct {
	ID      string
	Meta    models.VersionMetadata
	Content string
}

// fakeStore is an in-memory ContentStore. Written versions become new links
// on the parent case, like a real store would show on the next lookup.
type fakeStore struct {
	mu           sync.Mutex
	order        []string
	cases        map[string]*models.Case
	latest       map[string]models.FileVersion
	blobs        map[string]string
	blobErr      map[string]error
	writeErr     map[string]error
	latestErr    map[string]error
	findCasesErr error
	written      []writtenVersion
	blobReads    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cases:     map[string]*models.Case{},
		latest:    map[string]models.FileVersion{},
		blobs:     map[string]string{},
		blobErr:   map[string]error{},
		writeErr:  map[string]error{},
		latestErr: map[string]error{},
	}
}

func (f *fakeStore) addCase(c models.Case) {
	f.order = append(f.order, c.ID)
	cp := c
	f.cases[c.ID] = &cp
}

// addFile links a document with one latest version to caseID.
func (f *fakeStore) addFile(caseID, docID, versionID, title, ext, content string) {
	c := f.cases[caseID]
	c.Links = append(c.Links, models.FileLink{
		ID: "link-" + docID,
		Document: models.FileDocument{
			ID: docID, Title: title, Extension: ext,
			ContentSize: int64(len(content)), LatestVersionID: versionID,
		},
	})
	f.latest[docID] = models.FileVersion{
		ID: versionID, DocumentID: docID, Title: title, Extension: ext, Size: int64(len(content)),
	}
	f.blobs[versionID] = content
}

func copyCase(c *models.Case) models.Case {
	out := *c
	if c.Links != nil {
		out.Links = append([]models.FileLink{}, c.Links...)
	}
	return out
}

func (f *fakeStore) FindCases(ctx context.Context, filter models.CaseFilter) ([]models.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findCasesErr != nil {
		return nil, f.findCasesErr
	}
	var out []models.Case
	for _, id := range f.order {
		out = append(out, copyCase(f.cases[id]))
	}
	return out, nil
}

func (f *fakeStore) FindCase(ctx context.Context, id string) (*models.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, errors.Errorf("case %s: %w", id, store.ErrNotFound)
	}
	cp := copyCase(c)
	return &cp, nil
}

func (f *fakeStore) LatestVersion(ctx context.Context, documentID string) (*models.FileVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.latestErr[documentID]; err != nil {
		return nil, err
	}
	v, ok := f.latest[documentID]
	if !ok {
		return nil, errors.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	return &v, nil
}

func (f *fakeStore) OpenBlob(ctx context.Context, versionID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobReads = append(f.blobReads, versionID)
	if err := f.blobErr[versionID]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.blobs[versionID])), nil
}

func (f *fakeStore) WriteVersion(ctx context.Context, meta models.VersionMetadata, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr[meta.PathOnClient]; err != nil {
		return "", err
	}
	id := "068NEW" + string(rune('A'+len(f.written)))
	f.written = append(f.written, writtenVersion{ID: id, Meta: meta, Content: string(data)})

	if c, ok := f.cases[meta.FirstPublishLocationID]; ok {
		c.Links = append(c.Links, models.FileLink{
			ID: "link-" + id,
			Document: models.FileDocument{
				ID:              "doc-" + id,
				Title:           meta.Title,
				Extension:       strings.TrimPrefix(filepath.Ext(meta.PathOnClient), "."),
				LatestVersionID: id,
			},
		})
	}
	return id, nil
}

func (f *fakeStore) writtenNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, w := range f.written {
		names = append(names, w.Meta.PathOnClient)
	}
	return names
}

type recordedFailure struct {
	RunID   string
	Failure models.Failure
}

type fakeRecorder struct {
	mu        sync.Mutex
	transfers []models.TransferRecord
	failures  []recordedFailure
}

func (r *fakeRecorder) RecordTransfer(ctx context.Context, rec models.TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, rec)
	return nil
}

func (r *fakeRecorder) RecordFailure(ctx context.Context, runID string, f models.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, recordedFailure{RunID: runID, Failure: f})
	return nil
}

var errRejected = &store.CallError{Op: "write version", Kind: store.ErrRejected, Status: 400, Body: `[{"errorCode":"INVALID"}]`}
