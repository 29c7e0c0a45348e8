package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"workflow-sync-server/models"
)

const uploadWaitTimeout = 5 * time.Minute

// JobStore is the record-store surface the submission path needs.
type JobStore interface {
	GetDataset(ctx context.Context, id int64) (*models.Dataset, error)
	CreateDataset(ctx context.Context, ds *models.Dataset) (*models.Dataset, error)
	CreateInvocation(ctx context.Context, inv *models.WorkflowInvocation) (*models.WorkflowInvocation, error)
	GetInvocation(ctx context.Context, invocationID string) (*models.WorkflowInvocation, error)
	ListInvocations(ctx context.Context, datasetID *int64, limit, offset int) ([]models.WorkflowInvocation, error)
}

// WorkflowSubmitter is the engine surface the submission path needs.
type WorkflowSubmitter interface {
	FindWorkflow(ctx context.Context, name string) (*models.GalaxyWorkflow, error)
	CreateHistory(ctx context.Context, name string) (*models.GalaxyHistory, error)
	UploadFile(ctx context.Context, historyID, filePath string) (*models.HistoryDataset, error)
	WaitForDatasetOK(ctx context.Context, historyID, datasetID string, timeout time.Duration) error
	InvokeWorkflow(ctx context.Context, workflowID, historyID string, inputs map[string]interface{}) (string, error)
}

// JobService starts workflow runs and reads invocation records. It never
// mutates records after creation; that is the status service's job.
type JobService struct {
	store   JobStore
	engine  WorkflowSubmitter
	storage StorageService
}

func NewJobService(store JobStore, engine WorkflowSubmitter, storage StorageService) *JobService {
	return &JobService{
		store:   store,
		engine:  engine,
		storage: storage,
	}
}

// CreateJob stages an input dataset into a fresh Galaxy history, invokes the
// named workflow on it, and records the invocation with status "new".
func (s *JobService) CreateJob(ctx context.Context, req *models.CreateJobRequest) (*models.WorkflowInvocation, error) {
	workflowName := capitalize(req.WorkflowName)

	workflow, err := s.engine.FindWorkflow(ctx, workflowName)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s failed: %w", workflowName, err)
	}

	dataset, err := s.store.GetDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	if dataset == nil {
		return nil, fmt.Errorf("dataset %d not found", req.DatasetID)
	}

	historyName := fmt.Sprintf("%s - %d", workflowName, req.DatasetID)
	history, err := s.engine.CreateHistory(ctx, historyName)
	if err != nil {
		return nil, fmt.Errorf("creating history %s failed: %w", historyName, err)
	}

	// stage the input: pull it from the object store, push it into the history
	tempDir, err := os.MkdirTemp("", "jobinput-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	ext := filepath.Ext(dataset.FileName)
	if ext == "" {
		ext = ".laz"
	}
	localPath := filepath.Join(tempDir, "input"+ext)

	if err := s.storage.DownloadFile(ctx, dataset.BucketPath, localPath); err != nil {
		return nil, fmt.Errorf("downloading dataset %d failed: %w", req.DatasetID, err)
	}

	uploaded, err := s.engine.UploadFile(ctx, history.ID, localPath)
	if err != nil {
		return nil, fmt.Errorf("uploading dataset %d to galaxy failed: %w", req.DatasetID, err)
	}
	if err := s.engine.WaitForDatasetOK(ctx, history.ID, uploaded.ID, uploadWaitTimeout); err != nil {
		return nil, fmt.Errorf("waiting for upload of dataset %d failed: %w", req.DatasetID, err)
	}

	inputs := map[string]interface{}{
		"0": map[string]interface{}{"id": uploaded.ID, "src": "hda"},
	}
	invocationID, err := s.engine.InvokeWorkflow(ctx, workflow.ID, history.ID, inputs)
	if err != nil {
		return nil, fmt.Errorf("invoking workflow %s failed: %w", workflowName, err)
	}

	now := time.Now().UTC()
	inv := &models.WorkflowInvocation{
		InvocationID: invocationID,
		DatasetID:    req.DatasetID,
		WorkflowName: workflowName,
		Status:       models.StatusNew,
		Parameters:   req.Parameters,
		StartedAt:    &now,
	}
	return s.store.CreateInvocation(ctx, inv)
}

// GetJob retrieves one invocation record
func (s *JobService) GetJob(ctx context.Context, invocationID string) (*models.WorkflowInvocation, error) {
	inv, err := s.store.GetInvocation(ctx, invocationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("invocation not found: %s", invocationID)
	}
	return inv, nil
}

// ListJobs returns invocation records, optionally filtered by dataset
func (s *JobService) ListJobs(ctx context.Context, datasetID *int64, limit, offset int) ([]models.WorkflowInvocation, error) {
	return s.store.ListInvocations(ctx, datasetID, limit, offset)
}

// CreateDataset registers a dataset record with a fresh UUID
func (s *JobService) CreateDataset(ctx context.Context, req *models.CreateDatasetRequest) (*models.Dataset, error) {
	if req.BucketPath == "" {
		return nil, fmt.Errorf("bucket_path is required")
	}
	if req.AcquisitionDate.IsZero() {
		return nil, fmt.Errorf("acquisition_date is required")
	}

	return s.store.CreateDataset(ctx, &models.Dataset{
		UUID:            uuid.NewString(),
		BucketPath:      req.BucketPath,
		AcquisitionDate: req.AcquisitionDate,
		Title:           req.Title,
		FileName:        req.FileName,
		Visibility:      req.Visibility,
	})
}

// GetDataset retrieves a dataset record
func (s *JobService) GetDataset(ctx context.Context, id int64) (*models.Dataset, error) {
	ds, err := s.store.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, fmt.Errorf("dataset not found: %d", id)
	}
	return ds, nil
}

func capitalize(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + strings.ToLower(name[1:])
}
