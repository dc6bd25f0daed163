package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chmdznr/case-attachment-migrator/internal/store"
	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

func TestPlanTransfers_EmptyDestination(t *testing.T) {
	src := newFakeStore()
	src.addCase(models.Case{ID: "500A", CaseNumber: "00001"})
	src.addFile("500A", "069A", "068A", "Report", "pdf", "data")

	r := NewReconciler(src)
	plan, err := r.PlanTransfers(context.Background(), *src.cases["500A"], models.Case{ID: "500X"})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, "068A", plan[0].ID)
	require.Equal(t, "Report", plan[0].Title)
	require.Equal(t, "pdf", plan[0].Extension)
}

func TestPlanTransfers_AlreadyPresent(t *testing.T) {
	src := newFakeStore()
	src.addCase(models.Case{ID: "500A"})
	src.addFile("500A", "069A", "068A", "Report", "pdf", "data")

	dst := models.Case{ID: "500X", Links: []models.FileLink{
		{ID: "06X", Document: models.FileDocument{ID: "069X", Title: "Report", Extension: "pdf"}},
	}}

	plan, err := NewReconciler(src).PlanTransfers(context.Background(), *src.cases["500A"], dst)
	require.NoError(t, err)
	require.Empty(t, plan)
}

func TestPlanTransfers_MatchIsExactAndCaseSensitive(t *testing.T) {
	src := newFakeStore()
	src.addCase(models.Case{ID: "500A"})
	src.addFile("500A", "069A", "068A", "Report", "pdf", "a")
	src.addFile("500A", "069B", "068B", "Notes", "txt", "b")
	src.addFile("500A", "069C", "068C", "Report", "", "c")

	dst := models.Case{ID: "500X", Links: []models.FileLink{
		{Document: models.FileDocument{Title: "report", Extension: "pdf"}},
		{Document: models.FileDocument{Title: "Notes", Extension: "TXT"}},
		{Document: models.FileDocument{Title: "Report", Extension: "pdf"}},
	}}

	plan, err := NewReconciler(src).PlanTransfers(context.Background(), *src.cases["500A"], dst)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, []string{"068B", "068C"}, []string{plan[0].ID, plan[1].ID})
}

func TestPlanTransfers_MatchesMigratedNormalizedTitle(t *testing.T) {
	src := newFakeStore()
	src.addCase(models.Case{ID: "500A"})
	src.addFile("500A", "069A", "068A", "a:b/c", "pdf", "a")
	src.addFile("500A", "069B", "068B", "a_b_c", "doc", "b")

	dst := models.Case{ID: "500X", Links: []models.FileLink{
		{Document: models.FileDocument{Title: "a_b_c", Extension: "pdf"}},
		{Document: models.FileDocument{Title: "a:b/c", Extension: "doc"}},
	}}

	plan, err := NewReconciler(src).PlanTransfers(context.Background(), *src.cases["500A"], dst)
	require.NoError(t, err)
	require.Len(t, plan, 1, "a normalized destination title matches, the reverse does not")
	require.Equal(t, "068B", plan[0].ID)
}

func TestPlanTransfers_NoLatestVersionIsSkipped(t *testing.T) {
	src := newFakeStore()
	src.addCase(models.Case{ID: "500A"})
	src.addFile("500A", "069A", "068A", "Report", "pdf", "data")
	src.addFile("500A", "069B", "068B", "Empty", "txt", "")
	delete(src.latest, "069B")

	plan, err := NewReconciler(src).PlanTransfers(context.Background(), *src.cases["500A"], models.Case{ID: "500X"})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, "068A", plan[0].ID)
}

func TestPlan_SameFileTwiceInOneCase(t *testing.T) {
	src := newFakeStore()
	src.addCase(models.Case{ID: "500A"})
	src.addFile("500A", "069A", "068A", "Report", "pdf", "one")
	src.addFile("500A", "069B", "068B", "Report", "pdf", "two")

	plan, err := NewReconciler(src).Plan(context.Background(), *src.cases["500A"], models.Case{ID: "500X"})
	require.NoError(t, err)
	require.Len(t, plan.Transfers, 1)
	require.Equal(t, "068A", plan.Transfers[0].ID)
	require.Len(t, plan.Present, 1)
	require.Equal(t, "068B", plan.Present[0].ID)
}

func TestPlanTransfers_LookupFailure(t *testing.T) {
	src := newFakeStore()
	src.addCase(models.Case{ID: "500A"})
	src.addFile("500A", "069A", "068A", "Report", "pdf", "data")
	src.latestErr["069A"] = &store.CallError{Op: "latest version", Kind: store.ErrTransport}

	_, err := NewReconciler(src).PlanTransfers(context.Background(), *src.cases["500A"], models.Case{ID: "500X"})
	require.ErrorIs(t, err, store.ErrTransport)
}
