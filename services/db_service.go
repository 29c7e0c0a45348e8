package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"workflow-sync-server/models"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a partial update targets a missing invocation.
var ErrNotFound = errors.New("invocation not found")

type DBService struct {
	db *sql.DB
}

func NewDBService(host string, port int, user, password, dbname string) (*DBService, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &DBService{db: db}, nil
}

// NewDBServiceFromDB wraps an existing connection, used by tests.
func NewDBServiceFromDB(db *sql.DB) *DBService {
	return &DBService{db: db}
}

func (s *DBService) Close() error {
	return s.db.Close()
}

// InitSchema creates tables if they don't exist
func (s *DBService) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS datasets (
		id BIGSERIAL PRIMARY KEY,
		uuid VARCHAR(36) NOT NULL UNIQUE,
		bucket_path TEXT NOT NULL,
		acquisition_date TIMESTAMPTZ NOT NULL,
		title TEXT,
		file_name TEXT,
		visibility VARCHAR(20),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS workflow_invocations (
		invocation_id TEXT PRIMARY KEY,
		dataset_id BIGINT NOT NULL REFERENCES datasets(id),
		workflow_name VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		steps JSONB,
		inputs JSONB,
		jobs JSONB,
		messages JSONB,
		outputs JSONB,
		output_collections JSONB,
		parameters JSONB,
		results_synced BOOLEAN NOT NULL DEFAULT FALSE,
		results_synced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_invocations_status ON workflow_invocations(status);
	CREATE INDEX IF NOT EXISTS idx_workflow_invocations_dataset_id ON workflow_invocations(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_workflow_invocations_results_synced ON workflow_invocations(results_synced) WHERE NOT results_synced;
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const invocationColumns = `invocation_id, dataset_id, workflow_name, status, steps, inputs, jobs, messages, outputs, output_collections, parameters, results_synced, results_synced_at, created_at, started_at, finished_at`

// jsonbColumns are the workflow_invocations columns stored as JSONB and
// marshalled on the way in.
var jsonbColumns = map[string]bool{
	"steps":              true,
	"inputs":             true,
	"jobs":               true,
	"messages":           true,
	"outputs":            true,
	"output_collections": true,
	"parameters":         true,
}

// updatableColumns are the columns a partial update may touch. invocation_id,
// dataset_id, workflow_name, parameters and created_at are immutable after
// creation.
var updatableColumns = map[string]bool{
	"status":             true,
	"steps":              true,
	"inputs":             true,
	"jobs":               true,
	"messages":           true,
	"outputs":            true,
	"output_collections": true,
	"results_synced":     true,
	"results_synced_at":  true,
	"started_at":         true,
	"finished_at":        true,
}

func scanInvocation(row interface{ Scan(...interface{}) error }) (*models.WorkflowInvocation, error) {
	inv := &models.WorkflowInvocation{}
	var stepsJSON, inputsJSON, jobsJSON, messagesJSON, outputsJSON, collectionsJSON, parametersJSON []byte
	var resultsSyncedAt, startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&inv.InvocationID, &inv.DatasetID, &inv.WorkflowName, &inv.Status,
		&stepsJSON, &inputsJSON, &jobsJSON, &messagesJSON, &outputsJSON, &collectionsJSON, &parametersJSON,
		&inv.ResultsSynced, &resultsSyncedAt, &inv.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if stepsJSON != nil {
		json.Unmarshal(stepsJSON, &inv.Steps)
	}
	if inputsJSON != nil {
		json.Unmarshal(inputsJSON, &inv.Inputs)
	}
	if jobsJSON != nil {
		json.Unmarshal(jobsJSON, &inv.Jobs)
	}
	if messagesJSON != nil {
		json.Unmarshal(messagesJSON, &inv.Messages)
	}
	if outputsJSON != nil {
		json.Unmarshal(outputsJSON, &inv.Outputs)
	}
	if collectionsJSON != nil {
		json.Unmarshal(collectionsJSON, &inv.OutputCollections)
	}
	if parametersJSON != nil {
		json.Unmarshal(parametersJSON, &inv.Parameters)
	}
	if resultsSyncedAt.Valid {
		inv.ResultsSyncedAt = &resultsSyncedAt.Time
	}
	if startedAt.Valid {
		inv.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		inv.FinishedAt = &finishedAt.Time
	}

	return inv, nil
}

// CreateInvocation inserts a new workflow invocation record
func (s *DBService) CreateInvocation(ctx context.Context, inv *models.WorkflowInvocation) (*models.WorkflowInvocation, error) {
	parametersJSON, _ := json.Marshal(inv.Parameters)

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workflow_invocations (invocation_id, dataset_id, workflow_name, status, parameters, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, inv.InvocationID, inv.DatasetID, inv.WorkflowName, inv.Status, parametersJSON, inv.StartedAt).Scan(&createdAt)
	if err != nil {
		return nil, err
	}

	inv.CreatedAt = createdAt
	return inv, nil
}

// GetInvocation retrieves an invocation by its Galaxy invocation ID
func (s *DBService) GetInvocation(ctx context.Context, invocationID string) (*models.WorkflowInvocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invocationColumns+`
		FROM workflow_invocations WHERE invocation_id = $1
	`, invocationID)

	inv, err := scanInvocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListUnfinishedInvocations returns invocations whose status is not terminal
func (s *DBService) ListUnfinishedInvocations(ctx context.Context) ([]models.WorkflowInvocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invocationColumns+`
		FROM workflow_invocations
		WHERE status NOT IN ('ok', 'success', 'error', 'failed', 'cancelled', 'deleted', 'discarded', 'warning')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectInvocations(rows)
}

// ListInvocationsByStatus returns invocations in a given status, optionally
// filtered by the results_synced flag.
func (s *DBService) ListInvocationsByStatus(ctx context.Context, status string, resultsSynced *bool) ([]models.WorkflowInvocation, error) {
	query := `
		SELECT ` + invocationColumns + `
		FROM workflow_invocations
		WHERE status = $1`
	args := []interface{}{status}

	if resultsSynced != nil {
		query += ` AND results_synced = $2`
		args = append(args, *resultsSynced)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectInvocations(rows)
}

// ListInvocations returns invocation records, optionally for a single dataset
func (s *DBService) ListInvocations(ctx context.Context, datasetID *int64, limit, offset int) ([]models.WorkflowInvocation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + invocationColumns + `
		FROM workflow_invocations`
	args := []interface{}{}

	if datasetID != nil {
		query += ` WHERE dataset_id = $1`
		args = append(args, *datasetID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectInvocations(rows)
}

func collectInvocations(rows *sql.Rows) ([]models.WorkflowInvocation, error) {
	var invocations []models.WorkflowInvocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, *inv)
	}
	return invocations, rows.Err()
}

// UpdateInvocation applies a partial update to one invocation row as a single
// atomic write. Field names are column names; JSONB columns accept any
// JSON-marshallable value. Returns ErrNotFound if the row does not exist.
func (s *DBService) UpdateInvocation(ctx context.Context, invocationID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	// Sorted for a deterministic statement
	columns := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	setClauses := make([]string, 0, len(columns))
	args := []interface{}{invocationID}
	for i, col := range columns {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i+2))
		value := fields[col]
		if jsonbColumns[col] {
			jsonValue, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", col, err)
			}
			value = jsonValue
		}
		args = append(args, value)
	}

	query := fmt.Sprintf(`
		UPDATE workflow_invocations
		SET %s
		WHERE invocation_id = $1
	`, strings.Join(setClauses, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update invocation %s: %w", invocationID, ErrNotFound)
	}
	return nil
}

// MarkResultsSynced flips the results_synced flag exactly once. The condition
// on the current flag value makes concurrent syncers race-safe: the loser
// sees false and skips its write.
func (s *DBService) MarkResultsSynced(ctx context.Context, invocationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_invocations
		SET results_synced = TRUE, results_synced_at = now()
		WHERE invocation_id = $1 AND results_synced = FALSE
	`, invocationID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateDataset registers a new dataset record
func (s *DBService) CreateDataset(ctx context.Context, ds *models.Dataset) (*models.Dataset, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO datasets (uuid, bucket_path, acquisition_date, title, file_name, visibility)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, ds.UUID, ds.BucketPath, ds.AcquisitionDate, ds.Title, ds.FileName, ds.Visibility).Scan(&ds.ID, &ds.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// GetDataset retrieves a dataset by ID
func (s *DBService) GetDataset(ctx context.Context, id int64) (*models.Dataset, error) {
	ds := &models.Dataset{}
	var title, fileName, visibility sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, bucket_path, acquisition_date, title, file_name, visibility, created_at
		FROM datasets WHERE id = $1
	`, id).Scan(&ds.ID, &ds.UUID, &ds.BucketPath, &ds.AcquisitionDate, &title, &fileName, &visibility, &ds.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if title.Valid {
		ds.Title = title.String
	}
	if fileName.Valid {
		ds.FileName = fileName.String
	}
	if visibility.Valid {
		ds.Visibility = visibility.String
	}

	return ds, nil
}
