// Package migrate copies case file attachments from a source record store to
// the matching cases of a destination record store.
package migrate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/chmdznr/case-attachment-migrator/internal/store"
	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

// mkdirAll creates per-case staging directories.
var mkdirAll = os.MkdirAll

// MigratorConfig holds configuration for the migrator
type MigratorConfig struct {
	// Workers is the number of cases processed concurrently. Files within
	// one case are always transferred sequentially.
	Workers      int
	StagingDir   string
	ShowProgress bool
	// DryRun resolves and reconciles cases without moving any file.
	DryRun bool
	Out    io.Writer
}

// DefaultMigratorConfig returns default migrator configuration
func DefaultMigratorConfig() MigratorConfig {
	return MigratorConfig{
		Workers:    1,
		StagingDir: ".",
		Out:        os.Stdout,
	}
}

// Migrator runs the case-by-case migration.
type Migrator struct {
	source      ContentStore
	destination ContentStore
	reconciler  *Reconciler
	transferer  *Transferer
	recorder    Recorder
	config      MigratorConfig
}

// NewMigrator creates a new migrator instance. archiver and recorder may be nil.
func NewMigrator(source, destination ContentStore, archiver Archiver, recorder Recorder, config *MigratorConfig) *Migrator {
	if config == nil {
		defaultConfig := DefaultMigratorConfig()
		config = &defaultConfig
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.StagingDir == "" {
		config.StagingDir = "."
	}
	if config.Out == nil {
		config.Out = io.Discard
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Migrator{
		source:      source,
		destination: destination,
		reconciler:  NewReconciler(source),
		transferer:  NewTransferer(source, destination, archiver),
		recorder:    recorder,
		config:      *config,
	}
}

// PairPlan lists the files selected for one matched case pair.
type PairPlan struct {
	Source      models.Case
	Destination models.Case
	Transfers   []models.FileVersion
	Present     []models.FileVersion
}

// Result is the outcome of a run.
type Result struct {
	RunID            string
	Report           *models.Report
	Plans            []PairPlan
	Cases            int
	TransferredFiles int64
	TransferredSize  int64
	PresentFiles     int64
	FailedFiles      int64
}

type caseOutcome struct {
	failure     models.FailureKind
	source      models.Case
	destination models.Case
	reason      string
	plan        *PairPlan
}

// Run migrates every source case matching filter and returns the collected
// report. Only a failure to list the source cases, or cancellation of ctx,
// produces an error; per-case failures go to the report.
func (m *Migrator) Run(ctx context.Context, filter models.CaseFilter) (*Result, error) {
	runID := uuid.NewString()
	ctx = zerolog.Ctx(ctx).With().Str("run", runID).Logger().WithContext(ctx)
	log := zerolog.Ctx(ctx)

	cases, err := m.source.FindCases(ctx, filter)
	if err != nil {
		return nil, errors.Errorf("retrieving source cases: %w", err)
	}
	log.Info().Int("cases", len(cases)).Msg("source cases retrieved")

	if err := os.MkdirAll(m.config.StagingDir, 0o755); err != nil {
		return nil, errors.Errorf("creating staging directory: %w", err)
	}

	progress := newMigrateProgress(int64(len(cases)), m.config.ShowProgress, m.config.Out)
	outcomes := make([]caseOutcome, len(cases))

	var runErr error
	if m.config.Workers == 1 {
		for i := range cases {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
			outcomes[i] = m.processCase(ctx, runID, cases[i], m.config.StagingDir, progress)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.config.Workers)
		for i := range cases {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if !cases[i].HasLinks() {
					progress.CaseDone()
					return nil
				}
				dir := filepath.Join(m.config.StagingDir, "casemig-"+uuid.NewString())
				if err := mkdirAll(dir, 0o755); err != nil {
					outcomes[i] = caseOutcome{
						failure:     models.FailureCasePair,
						source:      cases[i],
						destination: models.Case{ID: cases[i].CrossReference},
						reason:      err.Error(),
					}
					progress.CaseDone()
					return nil
				}
				defer os.RemoveAll(dir)
				outcomes[i] = m.processCase(gctx, runID, cases[i], dir, progress)
				return nil
			})
		}
		runErr = g.Wait()
	}
	progress.finish()

	result := &Result{RunID: runID, Report: &models.Report{}, Cases: len(cases)}
	for _, o := range outcomes {
		switch o.failure {
		case models.FailureCase:
			result.Report.AddMissingCase(o.source, o.reason)
		case models.FailureCasePair:
			result.Report.AddFailedPair(o.source, o.destination, o.reason)
		}
		if o.plan != nil {
			result.Plans = append(result.Plans, *o.plan)
		}
	}

	var lines []string
	for _, f := range result.Report.Entries() {
		if err := m.recorder.RecordFailure(ctx, runID, f); err != nil {
			log.Warn().Err(err).Msg("failed to record failure")
		}
		lines = append(lines, f.String())
	}

	result.TransferredFiles = progress.TransferredFiles
	result.TransferredSize = progress.TransferredSize
	result.PresentFiles = progress.SkippedFiles
	result.FailedFiles = progress.FailedFiles
	progress.Print(m.config.Out, lines)

	if runErr != nil {
		return result, errors.Errorf("migration interrupted: %w", runErr)
	}
	return result, nil
}

// resolve finds the destination counterpart of a source case.
func (m *Migrator) resolve(ctx context.Context, source models.Case) (*models.Case, error) {
	if source.CrossReference == "" {
		return nil, errors.Errorf("case %s has no cross reference: %w", source.CaseNumber, store.ErrNotFound)
	}
	return m.destination.FindCase(ctx, source.CrossReference)
}

func (m *Migrator) processCase(ctx context.Context, runID string, source models.Case, dir string, progress *migrateProgress) caseOutcome {
	defer progress.CaseDone()
	log := zerolog.Ctx(ctx).With().Str("source_case", source.CaseNumber).Logger()

	if !source.HasLinks() {
		return caseOutcome{}
	}

	destination, err := m.resolve(ctx, source)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("no destination case found")
		} else {
			log.Error().Err(err).Msg("destination case lookup failed")
		}
		return caseOutcome{failure: models.FailureCase, source: source, reason: err.Error()}
	}
	log = log.With().Str("destination_case", destination.CaseNumber).Logger()
	ctx = log.WithContext(ctx)

	log.Info().Msgf("Need to migrate %d file(s) for source/destination case %s/%s",
		len(source.Links), source.CaseNumber, destination.CaseNumber)

	plan, err := m.reconciler.Plan(ctx, source, *destination)
	if err != nil {
		log.Error().Err(err).Msg("reconciliation failed")
		return caseOutcome{failure: models.FailureCasePair, source: source, destination: *destination, reason: err.Error()}
	}

	pair := &PairPlan{Source: source, Destination: *destination, Transfers: plan.Transfers, Present: plan.Present}
	progress.Skipped(len(plan.Present))
	for _, v := range plan.Present {
		m.record(ctx, runID, source, *destination, v, models.StatusSkipped, "", nil)
	}

	if m.config.DryRun {
		return caseOutcome{plan: pair}
	}

	for _, v := range plan.Transfers {
		id, err := m.transferer.Transfer(ctx, dir, *destination, v)
		if err != nil {
			progress.Failed()
			m.record(ctx, runID, source, *destination, v, models.StatusFailed, "", err)
			log.Error().Err(err).Msg("transfer failed, abandoning remaining files of this case")
			return caseOutcome{failure: models.FailureCasePair, source: source, destination: *destination, reason: err.Error(), plan: pair}
		}
		progress.Transferred(v.Size)
		m.record(ctx, runID, source, *destination, v, models.StatusUploaded, id, nil)
	}
	return caseOutcome{plan: pair}
}

func (m *Migrator) record(ctx context.Context, runID string, source, destination models.Case, v models.FileVersion, status models.TransferStatus, newID string, cause error) {
	rec := models.TransferRecord{
		RunID:             runID,
		SourceCaseID:      source.ID,
		DestinationCaseID: destination.ID,
		VersionID:         v.ID,
		FileName:          stagedName(v),
		Size:              v.Size,
		Status:            status,
		NewVersionID:      newID,
		Timestamp:         time.Now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := m.recorder.RecordTransfer(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("file", rec.FileName).Msg("failed to record transfer")
	}
}
