package provisioning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/openidx/hrsync/internal/common/errors"
	"github.com/openidx/hrsync/internal/directory"
	"github.com/openidx/hrsync/internal/metrics"
	"github.com/openidx/hrsync/internal/operation"
)

func seed(t *testing.T, repo operation.Repository, ops ...operation.PendingOperation) {
	t.Helper()
	for _, op := range ops {
		require.NoError(t, repo.Upsert(context.Background(), op))
	}
}

func creation(userID string, day int) operation.PendingOperation {
	return operation.PendingOperation{
		UserID: userID, Type: operation.Creation, ScheduledDate: date(2024, 3, day),
		FirstName: "First" + userID, LastName: "Last" + userID,
	}
}

func deletion(userID string, day int) operation.PendingOperation {
	return operation.PendingOperation{UserID: userID, Type: operation.Deletion, ScheduledDate: date(2024, 3, day)}
}

func TestReconcileDueDates(t *testing.T) {
	ctx := context.Background()
	repo := operation.NewMemoryRepository()
	dir := newFakeDirectory(
		directory.Account{UserID: "D08"},
		directory.Account{UserID: "D09"},
		directory.Account{UserID: "D10"},
	)
	seed(t, repo,
		creation("C09", 9),
		creation("C10", 10),
		creation("C11", 11),
		creation("C12", 12),
		deletion("D08", 8),
		deletion("D09", 9),
		deletion("D10", 10),
		deletion("D11", 11),
	)

	r := NewReconciler(repo, nil, zaptest.NewLogger(t))
	result, err := r.Reconcile(ctx, dir, date(2024, 3, 10))
	require.NoError(t, err)

	// creations one day ahead, deletions one day late
	assert.Equal(t, []string{"C09", "C10", "C11"}, dir.created)
	assert.Equal(t, []string{"D08", "D09"}, dir.deleted)
	assert.Equal(t, RunResult{Created: 3, Deleted: 2}, result)

	assert.Equal(t, 3, repo.Len())
	assert.NotNil(t, get(t, repo, "C12", operation.Creation))
	assert.NotNil(t, get(t, repo, "D10", operation.Deletion))
	assert.NotNil(t, get(t, repo, "D11", operation.Deletion))

	account, ok := dir.account("C11")
	require.True(t, ok)
	assert.Equal(t, "FirstC11", account.FirstName)
}

func TestReconcileCreationOfExistingAccount(t *testing.T) {
	ctx := context.Background()
	repo := operation.NewMemoryRepository()
	dir := newFakeDirectory(directory.Account{UserID: "C1", FirstName: "Old", LastName: "Name"})
	seed(t, repo, creation("C1", 1))

	result, err := NewReconciler(repo, nil, zaptest.NewLogger(t)).Reconcile(ctx, dir, date(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, RunResult{Updated: 1}, result)

	account, _ := dir.account("C1")
	assert.Equal(t, "FirstC1", account.FirstName)
	assert.Equal(t, "LastC1", account.LastName)
	assert.Zero(t, repo.Len())
}

func TestReconcileOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := operation.NewMemoryRepository()
	dir := newFakeDirectory(directory.Account{UserID: "E1"}, directory.Account{UserID: "D2"})
	dir.createErr["V1"] = apperrors.Validation("first and last name are required")
	dir.createErr["R1"] = errors.New("insufficient access rights")
	dir.updateErr["E1"] = errors.New("constraint violation")
	dir.deleteErr["D2"] = errors.New("busy")
	seed(t, repo,
		creation("V1", 1),
		creation("R1", 1),
		creation("E1", 1),
		deletion("D1", 1),
		deletion("D2", 1),
	)

	recorder := metrics.NewRecorder()
	result, err := NewReconciler(repo, recorder, zaptest.NewLogger(t)).Reconcile(ctx, dir, date(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, RunResult{Missing: 1, Retained: 3, Dropped: 1}, result)

	// failed items stay pending, terminal ones are removed
	assert.Nil(t, get(t, repo, "V1", operation.Creation))
	assert.Nil(t, get(t, repo, "D1", operation.Deletion))
	assert.NotNil(t, get(t, repo, "R1", operation.Creation))
	assert.NotNil(t, get(t, repo, "E1", operation.Creation))
	assert.NotNil(t, get(t, repo, "D2", operation.Deletion))

	expected := `
# HELP hrsync_operations_total Total number of pending operations applied to the directory
# TYPE hrsync_operations_total counter
hrsync_operations_total{outcome="dropped",type="creation"} 1
hrsync_operations_total{outcome="retained",type="creation"} 2
hrsync_operations_total{outcome="missing",type="deletion"} 1
hrsync_operations_total{outcome="retained",type="deletion"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "hrsync_operations_total"))
}

func TestReconcileTransportAbort(t *testing.T) {
	ctx := context.Background()
	repo := operation.NewMemoryRepository()
	dir := newFakeDirectory()
	dir.createErr["C2"] = apperrors.Transport("server down", nil)
	seed(t, repo, creation("C1", 1), creation("C2", 1), creation("C3", 1), deletion("D1", 1))

	result, err := NewReconciler(repo, nil, zaptest.NewLogger(t)).Reconcile(ctx, dir, date(2024, 3, 10))
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.Equal(t, 1, result.Created)

	// nothing is removed, C1 will hit the conflict path on the next run
	assert.Equal(t, []string{"C1"}, dir.created)
	assert.Equal(t, 4, repo.Len())
}

func TestReconcileNothingDue(t *testing.T) {
	repo := operation.NewMemoryRepository()
	seed(t, repo, creation("C1", 20))

	result, err := NewReconciler(repo, nil, zaptest.NewLogger(t)).Reconcile(context.Background(), newFakeDirectory(), date(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, RunResult{}, result)
	assert.Equal(t, 1, repo.Len())
}

func TestReconcileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := operation.NewMemoryRepository()
	seed(t, repo, creation("C1", 1))

	_, err := NewReconciler(repo, nil, zaptest.NewLogger(t)).Reconcile(ctx, newFakeDirectory(), date(2024, 3, 10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, repo.Len())
}
