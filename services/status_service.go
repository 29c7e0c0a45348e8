package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"workflow-sync-server/models"
)

// reconcileWorkers bounds the number of invocation records reconciled
// concurrently. Each record's update is scoped to its own row, so ordering
// across records does not matter.
const reconcileWorkers = 4

// InvocationStore is the persistent record of workflow invocations.
type InvocationStore interface {
	ListUnfinishedInvocations(ctx context.Context) ([]models.WorkflowInvocation, error)
	ListInvocationsByStatus(ctx context.Context, status string, resultsSynced *bool) ([]models.WorkflowInvocation, error)
	GetInvocation(ctx context.Context, invocationID string) (*models.WorkflowInvocation, error)
	UpdateInvocation(ctx context.Context, invocationID string, fields map[string]interface{}) error
	MarkResultsSynced(ctx context.Context, invocationID string) (bool, error)
}

// WorkflowEngine is the authoritative source of invocation state.
type WorkflowEngine interface {
	ListInvocations(ctx context.Context, invocationIDs []string) ([]models.GalaxyInvocation, error)
	GetInvocationDetail(ctx context.Context, invocationID string) (*models.GalaxyInvocation, error)
	ListHistoryDatasets(ctx context.Context, historyID string) ([]models.HistoryDataset, error)
	DownloadDataset(ctx context.Context, historyID, datasetID, destPath string) error
}

// StatusService keeps the invocation records consistent with Galaxy and
// transfers finished results to durable storage. All collaborators are
// injected once at construction; there are no lazy process-wide clients.
type StatusService struct {
	store   InvocationStore
	engine  WorkflowEngine
	storage StorageService
}

func NewStatusService(store InvocationStore, engine WorkflowEngine, storage StorageService) *StatusService {
	return &StatusService{
		store:   store,
		engine:  engine,
		storage: storage,
	}
}

// statusDelta is what one record's reconciliation contributes to the cycle
// stats. Deltas are merged under one lock so workers never share counters.
type statusDelta struct {
	statusUpdated   int
	jobsUpdated     int
	messagesUpdated int
	outputsUpdated  int
	errors          int
}

// SyncWorkflowStatuses runs one reconciliation cycle: pull unfinished
// invocations, fetch their live Galaxy state, apply field-level deltas.
// A store or engine failure before per-record work aborts the cycle;
// per-record errors are counted and never abort the batch.
func (s *StatusService) SyncWorkflowStatuses(ctx context.Context) (models.StatusSyncStats, error) {
	stats := models.StatusSyncStats{}

	unfinished, err := s.store.ListUnfinishedInvocations(ctx)
	if err != nil {
		return stats, fmt.Errorf("list unfinished invocations: %w", err)
	}
	if len(unfinished) == 0 {
		log.Println("statussync: no unfinished workflow invocations")
		return stats, nil
	}
	log.Printf("statussync: found %d unfinished workflow invocations", len(unfinished))

	invocationIDs := make([]string, len(unfinished))
	for i, inv := range unfinished {
		invocationIDs[i] = inv.InvocationID
	}

	galaxyInvocations, err := s.engine.ListInvocations(ctx, invocationIDs)
	if err != nil {
		return stats, fmt.Errorf("fetch galaxy invocations: %w", err)
	}

	lookup := make(map[string]*models.GalaxyInvocation, len(galaxyInvocations))
	for i := range galaxyInvocations {
		lookup[galaxyInvocations[i].ID] = &galaxyInvocations[i]
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, reconcileWorkers)

	for i := range unfinished {
		// cooperative cancellation checkpoint, never mid-record
		if ctx.Err() != nil {
			break
		}

		inv := unfinished[i]
		stats.TotalChecked++

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			delta := s.reconcileInvocation(ctx, &inv, lookup[inv.InvocationID])

			mu.Lock()
			stats.StatusUpdated += delta.statusUpdated
			stats.JobsUpdated += delta.jobsUpdated
			stats.MessagesUpdated += delta.messagesUpdated
			stats.OutputsUpdated += delta.outputsUpdated
			stats.Errors += delta.errors
			mu.Unlock()
		}()
	}
	wg.Wait()

	log.Printf("statussync: status sync completed: %+v", stats)
	return stats, nil
}

// reconcileInvocation diffs one record against its Galaxy state and applies
// a single atomic partial update when anything changed.
func (s *StatusService) reconcileInvocation(ctx context.Context, inv *models.WorkflowInvocation, galaxyInv *models.GalaxyInvocation) statusDelta {
	delta := statusDelta{}

	if galaxyInv == nil {
		// the engine record may not have propagated yet
		log.Printf("statussync: galaxy invocation %s not found", inv.InvocationID)
		return delta
	}

	updateData := map[string]interface{}{}
	galaxyStatus := galaxyInv.State

	if inv.Status != galaxyStatus {
		log.Printf("statussync: updating status for invocation %s: %s -> %s", inv.InvocationID, inv.Status, galaxyStatus)
		updateData["status"] = galaxyStatus
		if models.IsTerminalStatus(galaxyStatus) {
			updateData["finished_at"] = time.Now().UTC()
		}
		delta.statusUpdated++
	}

	if inv.HasJobsChanged(galaxyInv.Jobs) {
		log.Printf("statussync: updating jobs for invocation %s", inv.InvocationID)
		updateData["jobs"] = galaxyInv.Jobs
		delta.jobsUpdated++
	}

	if inv.HasMessagesChanged(galaxyInv.Messages) {
		log.Printf("statussync: updating messages for invocation %s", inv.InvocationID)
		updateData["messages"] = galaxyInv.Messages
		delta.messagesUpdated++
	}

	// outputs settle only once the run is over
	if models.IsTerminalStatus(galaxyStatus) {
		if inv.HasOutputsChanged(galaxyInv.Outputs) {
			log.Printf("statussync: updating outputs for invocation %s", inv.InvocationID)
			updateData["outputs"] = galaxyInv.Outputs
			delta.outputsUpdated++
		}
		if inv.HasOutputCollectionsChanged(galaxyInv.OutputCollections) {
			log.Printf("statussync: updating output collections for invocation %s", inv.InvocationID)
			updateData["output_collections"] = galaxyInv.OutputCollections
			delta.outputsUpdated++
		}
	}

	if len(updateData) > 0 {
		// steps and inputs ride along whenever anything else changed
		updateData["steps"] = galaxyInv.Steps
		updateData["inputs"] = galaxyInv.Inputs

		if err := s.store.UpdateInvocation(ctx, inv.InvocationID, updateData); err != nil {
			log.Printf("statussync: error updating invocation %s: %v", inv.InvocationID, err)
			delta = statusDelta{errors: 1}
		}
	}

	return delta
}

// SyncResults transfers the result datasets of one successfully finished
// invocation to durable storage. Idempotent: already-synced and not-yet-
// successful invocations are no-ops, and re-runs overwrite under the same
// deterministic keys. Per-artifact failures are skipped and implicitly
// retried on the next cycle.
func (s *StatusService) SyncResults(ctx context.Context, invocationID string) error {
	log.Printf("statussync: starting result sync for invocation %s", invocationID)

	inv, err := s.store.GetInvocation(ctx, invocationID)
	if err != nil {
		return fmt.Errorf("load invocation %s: %w", invocationID, err)
	}
	if inv == nil {
		return fmt.Errorf("invocation %s not found", invocationID)
	}

	if inv.ResultsSynced {
		log.Printf("statussync: invocation %s already synced, skipping", invocationID)
		return nil
	}
	if !models.IsSuccessStatus(inv.Status) {
		log.Printf("statussync: invocation %s status is %s, skipping result sync", invocationID, inv.Status)
		return nil
	}

	detail, err := s.engine.GetInvocationDetail(ctx, invocationID)
	if err != nil {
		return fmt.Errorf("galaxy invocation detail %s: %w", invocationID, err)
	}
	if detail.HistoryID == "" {
		return fmt.Errorf("no history id found for invocation %s", invocationID)
	}

	datasets, err := s.engine.ListHistoryDatasets(ctx, detail.HistoryID)
	if err != nil {
		return fmt.Errorf("list history datasets %s: %w", detail.HistoryID, err)
	}
	if len(datasets) == 0 {
		log.Printf("statussync: no datasets found in history %s", detail.HistoryID)
		return nil
	}

	tempDir, err := os.MkdirTemp("", "statussync-"+invocationID+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	for _, dataset := range datasets {
		if dataset.State != "ok" {
			log.Printf("statussync: skipping dataset %s with state %s", dataset.ID, dataset.State)
			continue
		}

		key := ResultKey(inv.DatasetID, inv.WorkflowName, invocationID, dataset.ID, dataset.FileExt)
		localPath := filepath.Join(tempDir, filepath.Base(key))

		log.Printf("statussync: downloading dataset %s from galaxy", dataset.ID)
		if err := s.engine.DownloadDataset(ctx, detail.HistoryID, dataset.ID, localPath); err != nil {
			log.Printf("statussync: error downloading dataset %s: %v", dataset.ID, err)
			continue
		}

		log.Printf("statussync: uploading dataset %s to storage as %s", dataset.ID, key)
		if err := s.storage.UploadFile(ctx, localPath, key); err != nil {
			log.Printf("statussync: error uploading dataset %s: %v", dataset.ID, err)
			continue
		}
	}

	log.Printf("statussync: result sync completed for invocation %s", invocationID)
	return nil
}

// SyncCompletedWorkflows syncs results for every successfully finished
// invocation whose results_synced flag is still false, then flips the flag
// via a conditional update so concurrent runs cannot double-mark.
func (s *StatusService) SyncCompletedWorkflows(ctx context.Context) (models.ResultSyncStats, error) {
	stats := models.ResultSyncStats{}

	notSynced := false
	var pending []models.WorkflowInvocation
	for _, status := range models.SuccessStatuses {
		invocations, err := s.store.ListInvocationsByStatus(ctx, status, &notSynced)
		if err != nil {
			return stats, fmt.Errorf("list invocations with status %s: %w", status, err)
		}
		pending = append(pending, invocations...)
	}

	log.Printf("statussync: found %d successful workflow invocations that need result sync", len(pending))

	for _, inv := range pending {
		// cooperative cancellation checkpoint, never mid-transfer
		if ctx.Err() != nil {
			break
		}

		stats.CompletedWorkflows++

		if err := s.SyncResults(ctx, inv.InvocationID); err != nil {
			log.Printf("statussync: result sync failed for invocation %s: %v", inv.InvocationID, err)
			stats.SyncErrors++
			continue
		}

		flipped, err := s.store.MarkResultsSynced(ctx, inv.InvocationID)
		if err != nil {
			log.Printf("statussync: error marking invocation %s as synced: %v", inv.InvocationID, err)
			stats.SyncErrors++
			continue
		}
		if !flipped {
			log.Printf("statussync: invocation %s was already marked synced", inv.InvocationID)
		}
		stats.SuccessfullySynced++
	}

	log.Printf("statussync: completed workflow sync: %+v", stats)
	return stats, nil
}

// RunCycle runs one full reconciliation + result-sync cycle.
func (s *StatusService) RunCycle(ctx context.Context) (models.StatusSyncStats, models.ResultSyncStats, error) {
	statusStats, err := s.SyncWorkflowStatuses(ctx)
	if err != nil {
		return statusStats, models.ResultSyncStats{}, err
	}

	resultStats, err := s.SyncCompletedWorkflows(ctx)
	if err != nil {
		return statusStats, resultStats, err
	}

	return statusStats, resultStats, nil
}
