package migrate

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/pkg/models"
	"github.com/chmdznr/case-attachment-migrator/pkg/utils"
)

const migratedDescription = "Migrated Case file"

// Transferer moves one file version from the source to a destination case
// through a local staged file.
type Transferer struct {
	source      ContentStore
	destination ContentStore
	archiver    Archiver
}

func NewTransferer(source, destination ContentStore, archiver Archiver) *Transferer {
	return &Transferer{source: source, destination: destination, archiver: archiver}
}

// Transfer stages version in dir, uploads it to destination and removes the
// staged file. Once staged, the file is removed on every exit path. It
// returns the identifier of the new destination version.
func (t *Transferer) Transfer(ctx context.Context, dir string, destination models.Case, version models.FileVersion) (string, error) {
	log := zerolog.Ctx(ctx)
	name := stagedName(version)
	staged := filepath.Join(dir, name)

	if err := t.stage(ctx, version.ID, staged); err != nil {
		return "", &StepError{Step: ErrStage, Name: name, Err: err}
	}
	defer func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", staged).Msg("failed to remove staged file")
		}
	}()

	id, err := t.upload(ctx, destination, version, name, staged)
	if err != nil {
		return "", &StepError{Step: ErrUpload, Name: name, Err: err}
	}

	if t.archiver != nil {
		if err := t.archiver.Archive(ctx, destination.ID, name, staged); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("archive copy failed")
		}
	}

	log.Info().Str("file", name).Str("case", destination.CaseNumber).Str("version", id).Msg("file transferred")
	return id, nil
}

// stagedName is the normalized name of version. Names that would resolve to
// the staging directory itself or its parent fall back to one derived from
// the version id.
func stagedName(version models.FileVersion) string {
	name := utils.NormalizeName(version.Title, version.Extension)
	switch name {
	case "", ".", "..":
		return utils.NormalizeName("version-"+version.ID, version.Extension)
	}
	return name
}

// stage streams the version blob into path and waits for the file to be
// fully written and closed. A partially written file is removed.
func (t *Transferer) stage(ctx context.Context, versionID, path string) error {
	blob, err := t.source.OpenBlob(ctx, versionID)
	if err != nil {
		return err
	}
	defer blob.Close()

	out, err := os.Create(path)
	if err != nil {
		return errors.Errorf("creating staged file: %w", err)
	}
	if _, err := io.Copy(out, blob); err != nil {
		out.Close()
		os.Remove(path)
		return errors.Errorf("writing staged file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return errors.Errorf("closing staged file: %w", err)
	}
	return nil
}

func (t *Transferer) upload(ctx context.Context, destination models.Case, version models.FileVersion, name, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Errorf("opening staged file: %w", err)
	}
	defer f.Close()

	meta := models.VersionMetadata{
		PathOnClient:           name,
		FirstPublishLocationID: destination.ID,
		Title:                  utils.NormalizeTitle(version.Title),
		Description:            migratedDescription,
	}
	return t.destination.WriteVersion(ctx, meta, f)
}
