package models

// StatusSyncStats summarizes one reconciliation cycle. A monitoring caller
// relies on these exact counters.
type StatusSyncStats struct {
	TotalChecked    int `json:"total_checked"`
	StatusUpdated   int `json:"status_updated"`
	JobsUpdated     int `json:"jobs_updated"`
	MessagesUpdated int `json:"messages_updated"`
	OutputsUpdated  int `json:"outputs_updated"`
	Errors          int `json:"errors"`
}

// ResultSyncStats summarizes one result-sync cycle.
type ResultSyncStats struct {
	CompletedWorkflows int `json:"completed_workflows"`
	SuccessfullySynced int `json:"successfully_synced"`
	SyncErrors         int `json:"sync_errors"`
}
