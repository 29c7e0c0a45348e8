package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-sync-server/models"
)

var invocationRowColumns = []string{
	"invocation_id", "dataset_id", "workflow_name", "status",
	"steps", "inputs", "jobs", "messages", "outputs", "output_collections", "parameters",
	"results_synced", "results_synced_at", "created_at", "started_at", "finished_at",
}

func TestListUnfinishedInvocations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)
	ctx := context.Background()

	now := time.Now()
	rows := sqlmock.NewRows(invocationRowColumns).
		AddRow("abc", int64(42), "Overviews", "running",
			[]byte(`[{"order_index":0}]`), []byte(`{}`), []byte(`[{"id":"j1","state":"running"}]`), nil, nil, nil, []byte(`{"resolution":10}`),
			false, nil, now, now, nil)

	mock.ExpectQuery("status NOT IN \\('ok', 'success', 'error', 'failed', 'cancelled', 'deleted', 'discarded', 'warning'\\)").
		WillReturnRows(rows)

	invocations, err := store.ListUnfinishedInvocations(ctx)
	require.NoError(t, err)
	require.Len(t, invocations, 1)

	inv := invocations[0]
	assert.Equal(t, "abc", inv.InvocationID)
	assert.Equal(t, int64(42), inv.DatasetID)
	assert.Equal(t, "running", inv.Status)
	assert.Len(t, inv.Jobs, 1)
	assert.Equal(t, "running", inv.Jobs[0]["state"])
	assert.Equal(t, float64(10), inv.Parameters["resolution"])
	assert.Nil(t, inv.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInvocationsByStatus_WithSyncedFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)
	notSynced := false

	now := time.Now()
	rows := sqlmock.NewRows(invocationRowColumns).
		AddRow("abc", int64(42), "Overviews", "ok",
			nil, nil, nil, nil, nil, nil, nil,
			false, nil, now, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND results_synced = $2")).
		WithArgs("ok", false).
		WillReturnRows(rows)

	invocations, err := store.ListInvocationsByStatus(context.Background(), "ok", &notSynced)
	require.NoError(t, err)
	require.Len(t, invocations, 1)
	assert.Equal(t, "ok", invocations[0].Status)
	require.NotNil(t, invocations[0].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInvocation_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE invocation_id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(invocationRowColumns))

	inv, err := store.GetInvocation(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, inv)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvocation_PartialUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)
	finished := time.Now().UTC()

	// columns are applied in sorted order for a deterministic statement
	mock.ExpectExec(regexp.QuoteMeta("SET finished_at = $2, inputs = $3, status = $4, steps = $5")).
		WithArgs("abc", finished, []byte(`{}`), "ok", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.UpdateInvocation(context.Background(), "abc", map[string]interface{}{
		"status":      "ok",
		"finished_at": finished,
		"steps":       []map[string]interface{}{},
		"inputs":      map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvocation_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)

	mock.ExpectExec(regexp.QuoteMeta("SET status = $2")).
		WithArgs("gone", "ok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.UpdateInvocation(context.Background(), "gone", map[string]interface{}{"status": "ok"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvocation_RejectsImmutableColumns(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)

	err = store.UpdateInvocation(context.Background(), "abc", map[string]interface{}{"dataset_id": 7})
	assert.Error(t, err)

	err = store.UpdateInvocation(context.Background(), "abc", map[string]interface{}{"parameters": map[string]interface{}{}})
	assert.Error(t, err, "parameters are set once at creation and never overwritten by sync")
}

func TestUpdateInvocation_EmptyFieldsIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)

	require.NoError(t, store.UpdateInvocation(context.Background(), "abc", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkResultsSynced_FlipsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)
	query := regexp.QuoteMeta("WHERE invocation_id = $1 AND results_synced = FALSE")

	mock.ExpectExec(query).
		WithArgs("abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	flipped, err := store.MarkResultsSynced(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, flipped)

	// a concurrent run already flipped the flag: the conditional update
	// matches zero rows and reports false instead of erroring
	mock.ExpectExec(query).
		WithArgs("abc").
		WillReturnResult(sqlmock.NewResult(0, 0))

	flipped, err = store.MarkResultsSynced(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInvocation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewDBServiceFromDB(db)
	started := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO workflow_invocations")).
		WithArgs("abc", int64(42), "Overviews", "new", []byte(`{"resolution":10}`), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	inv, err := store.CreateInvocation(context.Background(), &models.WorkflowInvocation{
		InvocationID: "abc",
		DatasetID:    42,
		WorkflowName: "Overviews",
		Status:       models.StatusNew,
		Parameters:   map[string]interface{}{"resolution": 10},
		StartedAt:    &started,
	})
	require.NoError(t, err)
	assert.False(t, inv.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
