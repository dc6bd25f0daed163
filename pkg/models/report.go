package models

import (
	"fmt"
	"time"
)

type FailureKind string

const (
	// FailureCase means no destination counterpart could be resolved.
	FailureCase FailureKind = "case"
	// FailureCasePair means a transfer failed inside a matched case pair.
	FailureCasePair FailureKind = "case_pair"
)

// Failure is one entry of a migration report.
type Failure struct {
	Kind              FailureKind
	SourceCaseNumber  string
	SourceCaseID      string
	DestinationCaseID string
	Reason            string
}

func (f Failure) String() string {
	if f.Kind == FailureCase {
		return fmt.Sprintf("No destination case found for %s", f.SourceCaseNumber)
	}
	return f.SourceCaseID + "|" + f.DestinationCaseID
}

// Report accumulates failures in the order they were observed. Entries can
// only be appended.
type Report struct {
	entries []Failure
}

// AddMissingCase records a case-level failure for a source case.
func (r *Report) AddMissingCase(source Case, reason string) {
	r.entries = append(r.entries, Failure{
		Kind:             FailureCase,
		SourceCaseNumber: source.CaseNumber,
		SourceCaseID:     source.ID,
		Reason:           reason,
	})
}

// AddFailedPair records a case-pair-level failure.
func (r *Report) AddFailedPair(source, destination Case, reason string) {
	r.entries = append(r.entries, Failure{
		Kind:              FailureCasePair,
		SourceCaseNumber:  source.CaseNumber,
		SourceCaseID:      source.ID,
		DestinationCaseID: destination.ID,
		Reason:            reason,
	})
}

// Entries returns a copy of the recorded failures.
func (r *Report) Entries() []Failure {
	out := make([]Failure, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Report) Len() int {
	return len(r.entries)
}

func (r *Report) Empty() bool {
	return len(r.entries) == 0
}

type TransferStatus string

const (
	StatusUploaded TransferStatus = "uploaded"
	StatusSkipped  TransferStatus = "skipped"
	StatusFailed   TransferStatus = "failed"
)

// TransferRecord is one ledger row describing what happened to a file version.
type TransferRecord struct {
	RunID             string
	SourceCaseID      string
	DestinationCaseID string
	VersionID         string
	FileName          string
	Size              int64
	Status            TransferStatus
	NewVersionID      string
	Error             string
	Timestamp         time.Time
}
