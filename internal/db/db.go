package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

// DB represents a project database connection
type DB struct {
	*sql.DB
	project string
}

// New opens the database of a project, <projectName>.db in the working directory
func New(projectName string) (*DB, error) {
	return Open(fmt.Sprintf("%s.db", projectName), projectName)
}

// Open opens the project database at path
func Open(path, projectName string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// one writer at a time; case workers share this handle
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, project: projectName}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			config TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			project_name TEXT,
			started_at DATETIME,
			finished_at DATETIME,
			cases INTEGER,
			transferred_files INTEGER,
			failures INTEGER
		);
		CREATE TABLE IF NOT EXISTS transfers (
			project_name TEXT,
			run_id TEXT,
			source_case_id TEXT,
			destination_case_id TEXT,
			version_id TEXT,
			file_name TEXT,
			size INTEGER,
			status TEXT,
			new_version_id TEXT,
			error TEXT,
			timestamp DATETIME
		);
		CREATE TABLE IF NOT EXISTS failures (
			project_name TEXT,
			run_id TEXT,
			seq INTEGER,
			kind TEXT,
			source_case_number TEXT,
			source_case_id TEXT,
			destination_case_id TEXT,
			reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(project_name, status);
		CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(project_name, run_id, seq);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`)
	return err
}

// GetProject retrieves a project by name
func (db *DB) GetProject(name string) (*models.Project, error) {
	var config string
	err := db.QueryRow(`SELECT config FROM projects WHERE name = ?`, name).Scan(&config)
	if err != nil {
		return nil, errors.Errorf("project not found: %w", err)
	}
	var project models.Project
	if err := json.Unmarshal([]byte(config), &project); err != nil {
		return nil, errors.Errorf("decoding project %s: %w", name, err)
	}
	return &project, nil
}

// CreateProject creates a new project
func (db *DB) CreateProject(project *models.Project) error {
	config, err := json.Marshal(project)
	if err != nil {
		return errors.Errorf("encoding project: %w", err)
	}
	_, err = db.Exec(`INSERT INTO projects (name, config) VALUES (?, ?)`, project.Name, string(config))
	return err
}

// RecordTransfer saves the outcome of one file version
func (db *DB) RecordTransfer(ctx context.Context, rec models.TransferRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transfers (project_name, run_id, source_case_id, destination_case_id, version_id,
			file_name, size, status, new_version_id, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		db.project,
		rec.RunID,
		rec.SourceCaseID,
		rec.DestinationCaseID,
		rec.VersionID,
		rec.FileName,
		rec.Size,
		string(rec.Status),
		rec.NewVersionID,
		rec.Error,
		rec.Timestamp,
	)
	return err
}

// RecordFailure appends a report entry to a run
func (db *DB) RecordFailure(ctx context.Context, runID string, f models.Failure) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO failures (project_name, run_id, seq, kind, source_case_number, source_case_id,
			destination_case_id, reason)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM failures WHERE project_name = ? AND run_id = ?),
			?, ?, ?, ?, ?)
	`,
		db.project, runID, db.project, runID,
		string(f.Kind), f.SourceCaseNumber, f.SourceCaseID, f.DestinationCaseID, f.Reason,
	)
	return err
}

// SaveRun stores the summary of a finished run
func (db *DB) SaveRun(ctx context.Context, runID string, startedAt time.Time, cases int, transferred int64, failures int) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, project_name, started_at, finished_at, cases, transferred_files, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, db.project, startedAt, time.Now(), cases, transferred, failures)
	return err
}

// LatestRunID returns the most recently started run
func (db *DB) LatestRunID() (string, error) {
	var runID string
	err := db.QueryRow(`
		SELECT run_id FROM runs WHERE project_name = ? ORDER BY started_at DESC LIMIT 1
	`, db.project).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("no runs recorded")
	}
	return runID, err
}

// GetFailures returns the report entries of a run in report order
func (db *DB) GetFailures(runID string) ([]models.Failure, error) {
	rows, err := db.Query(`
		SELECT kind, source_case_number, source_case_id, destination_case_id, reason
		FROM failures
		WHERE project_name = ? AND run_id = ?
		ORDER BY seq
	`, db.project, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []models.Failure
	for rows.Next() {
		var f models.Failure
		var kind string
		if err := rows.Scan(&kind, &f.SourceCaseNumber, &f.SourceCaseID, &f.DestinationCaseID, &f.Reason); err != nil {
			return nil, err
		}
		f.Kind = models.FailureKind(kind)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// GetStats returns ledger statistics for the project
func (db *DB) GetStats() (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRow(`
		SELECT
			COUNT(*) as total_files,
			COALESCE(SUM(size), 0) as total_size,
			COUNT(CASE WHEN status = 'uploaded' THEN 1 END) as uploaded_files,
			COALESCE(SUM(CASE WHEN status = 'uploaded' THEN size ELSE 0 END), 0) as uploaded_size,
			COUNT(CASE WHEN status = 'skipped' THEN 1 END) as skipped_files,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_files,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN size ELSE 0 END), 0) as failed_size
		FROM transfers
		WHERE project_name = ?
	`, db.project).Scan(
		&stats.TotalFiles,
		&stats.TotalSize,
		&stats.UploadedFiles,
		&stats.UploadedSize,
		&stats.SkippedFiles,
		&stats.FailedFiles,
		&stats.FailedSize,
	)
	if err != nil {
		return nil, errors.Errorf("failed to get stats: %w", err)
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM runs WHERE project_name = ?`, db.project).Scan(&stats.Runs)
	if err != nil {
		return nil, errors.Errorf("failed to count runs: %w", err)
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM failures WHERE project_name = ?`, db.project).Scan(&stats.Failures)
	if err != nil {
		return nil, errors.Errorf("failed to count failures: %w", err)
	}
	return &stats, nil
}
