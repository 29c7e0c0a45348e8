package models

import (
	"reflect"
	"time"
)

// WorkflowInvocation mirrors one Galaxy workflow run (workflow_invocations table).
// The status field and all snapshot fields (steps, inputs, jobs, messages,
// outputs, output_collections) are owned by Galaxy and replaced wholesale
// during sync, never merged.
type WorkflowInvocation struct {
	InvocationID      string                   `json:"invocation_id"`
	DatasetID         int64                    `json:"dataset_id"`
	WorkflowName      string                   `json:"workflow_name"`
	Status            string                   `json:"status"`
	Steps             []map[string]interface{} `json:"steps,omitempty"`
	Inputs            map[string]interface{}   `json:"inputs,omitempty"`
	Jobs              []map[string]interface{} `json:"jobs,omitempty"`
	Messages          []map[string]interface{} `json:"messages,omitempty"`
	Outputs           map[string]interface{}   `json:"outputs,omitempty"`
	OutputCollections map[string]interface{}   `json:"output_collections,omitempty"`
	Parameters        map[string]interface{}   `json:"parameters,omitempty"`
	ResultsSynced     bool                     `json:"results_synced"`
	ResultsSyncedAt   *time.Time               `json:"results_synced_at,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	StartedAt         *time.Time               `json:"started_at,omitempty"`
	FinishedAt        *time.Time               `json:"finished_at,omitempty"`
}

// Galaxy invocation states, used verbatim as the persisted status.
// The column is an open string: Galaxy may introduce states outside this
// list, and any unknown state is treated as non-terminal.
const (
	StatusNew       = "new"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusOK        = "ok"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusDeleted   = "deleted"
	StatusDiscarded = "discarded"
	StatusWarning   = "warning"
)

// TerminalStatuses are the states Galaxy guarantees no further transitions from.
var TerminalStatuses = map[string]bool{
	StatusOK:        true,
	StatusSuccess:   true,
	StatusError:     true,
	StatusFailed:    true,
	StatusCancelled: true,
	StatusDeleted:   true,
	StatusDiscarded: true,
	StatusWarning:   true,
}

// SuccessStatuses are the terminal states whose results get synced to storage.
var SuccessStatuses = []string{StatusOK, StatusSuccess}

// IsTerminalStatus reports whether a Galaxy state is terminal.
func IsTerminalStatus(status string) bool {
	return TerminalStatuses[status]
}

// IsSuccessStatus reports whether a Galaxy state is a successful terminal state.
func IsSuccessStatus(status string) bool {
	return status == StatusOK || status == StatusSuccess
}

// HasJobsChanged reports whether the Galaxy job list differs from the stored
// snapshot, by length or by any per-index state change.
func (w *WorkflowInvocation) HasJobsChanged(galaxyJobs []map[string]interface{}) bool {
	if len(w.Jobs) != len(galaxyJobs) {
		return true
	}
	for i, job := range galaxyJobs {
		if w.Jobs[i]["state"] != job["state"] {
			return true
		}
	}
	return false
}

// HasMessagesChanged reports whether Galaxy has produced new messages.
// Messages are append-only on the Galaxy side, so length is enough.
func (w *WorkflowInvocation) HasMessagesChanged(galaxyMessages []map[string]interface{}) bool {
	return len(w.Messages) != len(galaxyMessages)
}

// HasOutputsChanged reports whether the output mapping differs structurally.
func (w *WorkflowInvocation) HasOutputsChanged(galaxyOutputs map[string]interface{}) bool {
	return !reflect.DeepEqual(w.Outputs, galaxyOutputs)
}

// HasOutputCollectionsChanged reports whether the output collection mapping
// differs structurally.
func (w *WorkflowInvocation) HasOutputCollectionsChanged(galaxyCollections map[string]interface{}) bool {
	return !reflect.DeepEqual(w.OutputCollections, galaxyCollections)
}

// CreateJobRequest is the request body for starting a workflow run.
type CreateJobRequest struct {
	DatasetID    int64                  `json:"dataset_id"`
	WorkflowName string                 `json:"workflow_name"`
	Parameters   map[string]interface{} `json:"parameters"`
}
