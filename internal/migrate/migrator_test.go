package migrate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chmdznr/case-attachment-migrator/internal/store"
	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

func testConfig(t *testing.T) *MigratorConfig {
	return &MigratorConfig{Workers: 1, StagingDir: t.TempDir()}
}

// threeCaseFixture: A has no destination match, B moves two files, C has
// one file whose upload is rejected.
func threeCaseFixture() (*fakeStore, *fakeStore) {
	src := newFakeStore()
	dst := newFakeStore()

	src.addCase(models.Case{ID: "500A", CaseNumber: "00001", CrossReference: "500MISSING"})
	src.addFile("500A", "069A", "068A", "Lost", "txt", "a")

	src.addCase(models.Case{ID: "500B", CaseNumber: "00002", CrossReference: "500Y"})
	src.addFile("500B", "069B1", "068B1", "Invoice", "pdf", "b1")
	src.addFile("500B", "069B2", "068B2", "Photo", "jpg", "b2")
	dst.addCase(models.Case{ID: "500Y", CaseNumber: "90002"})

	src.addCase(models.Case{ID: "500C", CaseNumber: "00003", CrossReference: "500Z"})
	src.addFile("500C", "069C", "068C", "Broken", "zip", "c")
	dst.addCase(models.Case{ID: "500Z", CaseNumber: "90003"})
	dst.writeErr["Broken.zip"] = errRejected

	return src, dst
}

func TestRun_CollectsFailuresAndContinues(t *testing.T) {
	src, dst := threeCaseFixture()
	rec := &fakeRecorder{}
	var out bytes.Buffer
	cfg := testConfig(t)
	cfg.Out = &out

	result, err := NewMigrator(src, dst, nil, rec, cfg).Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)

	entries := result.Report.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, models.FailureCase, entries[0].Kind)
	require.Equal(t, "00001", entries[0].SourceCaseNumber)
	require.Contains(t, entries[0].Reason, "not found")
	require.Equal(t, models.FailureCasePair, entries[1].Kind)
	require.Equal(t, "500C|500Z", entries[1].String())

	require.ElementsMatch(t, []string{"Invoice.pdf", "Photo.jpg"}, dst.writtenNames())
	require.Equal(t, int64(2), result.TransferredFiles)
	require.Equal(t, int64(1), result.FailedFiles)
	require.Equal(t, 3, result.Cases)

	require.Len(t, rec.failures, 2)
	require.Equal(t, result.RunID, rec.failures[0].RunID)
	require.Len(t, rec.transfers, 3)

	require.Contains(t, out.String(), "Could not migrate 2 case(s)")
	require.Contains(t, out.String(), "No destination case found for 00001")
	require.Contains(t, out.String(), "500C|500Z")
}

func TestRun_SkipsCasesWithoutLinks(t *testing.T) {
	src := newFakeStore()
	dst := newFakeStore()
	src.addCase(models.Case{ID: "500A", CaseNumber: "00001", CrossReference: "500NOPE"})
	src.addCase(models.Case{ID: "500B", CaseNumber: "00002", CrossReference: "500NOPE", Links: []models.FileLink{}})

	result, err := NewMigrator(src, dst, nil, nil, testConfig(t)).Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)
	require.True(t, result.Report.Empty())
}

func TestRun_FailureAbortsRemainingFilesOfCase(t *testing.T) {
	src := newFakeStore()
	dst := newFakeStore()
	src.addCase(models.Case{ID: "500A", CaseNumber: "00001", CrossReference: "500X"})
	src.addFile("500A", "069A", "068A", "first", "txt", "1")
	src.addFile("500A", "069B", "068B", "second", "txt", "2")
	src.addFile("500A", "069C", "068C", "third", "txt", "3")
	dst.addCase(models.Case{ID: "500X", CaseNumber: "90001"})
	dst.writeErr["second.txt"] = errRejected

	src.addCase(models.Case{ID: "500B", CaseNumber: "00002", CrossReference: "500Y"})
	src.addFile("500B", "069D", "068D", "other", "txt", "4")
	dst.addCase(models.Case{ID: "500Y", CaseNumber: "90002"})

	result, err := NewMigrator(src, dst, nil, nil, testConfig(t)).Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)

	require.Equal(t, []string{"first.txt", "other.txt"}, dst.writtenNames())
	require.NotContains(t, src.blobReads, "068C")
	require.Equal(t, 1, result.Report.Len())
	require.Equal(t, "500A|500X", result.Report.Entries()[0].String())
}

func TestRun_SecondRunIsEmpty(t *testing.T) {
	src := newFakeStore()
	dst := newFakeStore()
	src.addCase(models.Case{ID: "500A", CaseNumber: "00001", CrossReference: "500X"})
	src.addFile("500A", "069A", "068A", "Report", "pdf", "r")
	src.addFile("500A", "069B", "068B", "a:b", "", "ab")
	dst.addCase(models.Case{ID: "500X", CaseNumber: "90001"})

	m := NewMigrator(src, dst, nil, nil, testConfig(t))

	first, err := m.Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(2), first.TransferredFiles)
	require.Equal(t, []string{"Report.pdf", "a_b"}, dst.writtenNames())

	second, err := m.Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)
	require.Zero(t, second.TransferredFiles)
	require.Equal(t, int64(2), second.PresentFiles)
	require.Len(t, second.Plans, 1)
	require.Empty(t, second.Plans[0].Transfers)
	require.Len(t, dst.written, 2)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_ParallelKeepsReportOrder(t *testing.T) {
	src, dst := threeCaseFixture()
	src.addCase(models.Case{ID: "500D", CaseNumber: "00004", CrossReference: "500GONE"})
	src.addFile("500D", "069D", "068D", "Lost2", "txt", "d")

	staging := t.TempDir()
	cfg := &MigratorConfig{Workers: 3, StagingDir: staging}
	result, err := NewMigrator(src, dst, nil, nil, cfg).Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)

	var got []string
	for _, f := range result.Report.Entries() {
		got = append(got, f.String())
	}
	require.Equal(t, []string{
		"No destination case found for 00001",
		"500C|500Z",
		"No destination case found for 00004",
	}, got)
	require.ElementsMatch(t, []string{"Invoice.pdf", "Photo.jpg"}, dst.writtenNames())

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Empty(t, entries, "per-case staging directories must be removed")
}

func TestRun_DryRun(t *testing.T) {
	src, dst := threeCaseFixture()
	cfg := testConfig(t)
	cfg.DryRun = true

	result, err := NewMigrator(src, dst, nil, nil, cfg).Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)
	require.Empty(t, dst.written)
	require.Empty(t, src.blobReads)
	require.Len(t, result.Plans, 2)
	require.Len(t, result.Plans[0].Transfers, 2)
	require.Equal(t, 1, result.Report.Len())
}

func TestRun_SourceQueryFailure(t *testing.T) {
	src := newFakeStore()
	src.findCasesErr = &store.CallError{Op: "find cases", Kind: store.ErrTimeout}

	_, err := NewMigrator(src, newFakeStore(), nil, nil, testConfig(t)).Run(context.Background(), models.CaseFilter{})
	require.ErrorIs(t, err, store.ErrTimeout)
}

func TestRun_Cancelled(t *testing.T) {
	src, dst := threeCaseFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewMigrator(src, dst, nil, nil, testConfig(t)).Run(ctx, models.CaseFilter{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	require.Empty(t, dst.written)
}

func TestRun_ParallelStagingDirFailure(t *testing.T) {
	prev := mkdirAll
	mkdirAll = func(path string, perm os.FileMode) error {
		return errors.New("disk full")
	}
	t.Cleanup(func() { mkdirAll = prev })

	src := newFakeStore()
	dst := newFakeStore()
	src.addCase(models.Case{ID: "500A", CaseNumber: "00001", CrossReference: "500X"})
	src.addCase(models.Case{ID: "500B", CaseNumber: "00002", CrossReference: "500Y"})
	src.addFile("500B", "069B", "068B", "Invoice", "pdf", "b")
	dst.addCase(models.Case{ID: "500X", CaseNumber: "90001"})
	dst.addCase(models.Case{ID: "500Y", CaseNumber: "90002"})

	cfg := &MigratorConfig{Workers: 2, StagingDir: t.TempDir()}
	result, err := NewMigrator(src, dst, nil, nil, cfg).Run(context.Background(), models.CaseFilter{})
	require.NoError(t, err)

	// the case without links is skipped before any directory is needed
	entries := result.Report.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "500B|500Y", entries[0].String())
	require.Contains(t, entries[0].Reason, "disk full")
	require.Empty(t, dst.written)
}
