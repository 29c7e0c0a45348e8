package models

// GalaxyInvocation is the state Galaxy reports for one workflow invocation
// (GET /api/invocations/{id}, extended view). The snapshot fields are kept
// as loosely typed JSON since Galaxy owns their shape.
type GalaxyInvocation struct {
	ID                string                   `json:"id"`
	State             string                   `json:"state"`
	HistoryID         string                   `json:"history_id"`
	WorkflowID        string                   `json:"workflow_id"`
	Steps             []map[string]interface{} `json:"steps"`
	Inputs            map[string]interface{}   `json:"inputs"`
	Jobs              []map[string]interface{} `json:"jobs"`
	Messages          []map[string]interface{} `json:"messages"`
	Outputs           map[string]interface{}   `json:"outputs"`
	OutputCollections map[string]interface{}   `json:"output_collections"`
}

// HistoryDataset is one dataset inside a Galaxy history
// (GET /api/histories/{id}/contents).
type HistoryDataset struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	FileExt string `json:"file_ext"`
}

// GalaxyWorkflow is a workflow definition visible to the authenticated user.
type GalaxyWorkflow struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	LatestWorkflowUUID string `json:"latest_workflow_uuid"`
}

// GalaxyHistory is a Galaxy history, the container grouping the datasets of
// one invocation.
type GalaxyHistory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
