package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"workflow-sync-server/middleware"
	"workflow-sync-server/models"
)

const (
	galaxyRequestTimeout  = 30 * time.Second
	galaxyDownloadTimeout = 10 * time.Minute
	uploadPollInterval    = 2 * time.Second
)

// GalaxyService is the gateway to the Galaxy workflow engine REST API.
type GalaxyService struct {
	baseURL string
	apiKey  string

	client *http.Client
	// downloads stream large result files and get a longer deadline
	downloadClient *http.Client
}

func NewGalaxyService(baseURL, apiKey string) *GalaxyService {
	return &GalaxyService{
		baseURL:        baseURL,
		apiKey:         apiKey,
		client:         middleware.GetCustomXRayHTTPClient(&http.Client{Timeout: galaxyRequestTimeout}),
		downloadClient: middleware.GetCustomXRayHTTPClient(&http.Client{Timeout: galaxyDownloadTimeout}),
	}
}

// Authenticate exchanges email/password for an API key via Galaxy baseauth.
// A key configured up front is kept as-is.
func (g *GalaxyService) Authenticate(ctx context.Context, email, password string) error {
	if g.apiKey != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/authenticate/baseauth", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(email, password)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("galaxy baseauth: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("galaxy baseauth failed with status %d", resp.StatusCode)
	}

	var payload struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if payload.APIKey == "" {
		return fmt.Errorf("galaxy baseauth returned no api key")
	}

	g.apiKey = payload.APIKey
	return nil
}

// Ping verifies connectivity and credentials against the version endpoint.
func (g *GalaxyService) Ping(ctx context.Context) error {
	var version struct {
		VersionMajor string `json:"version_major"`
	}
	return g.getJSON(ctx, "/api/version", nil, &version)
}

// ListInvocations fetches the current engine state for the given invocation
// IDs. IDs unknown to Galaxy are skipped, not errors: the engine record may
// not have propagated yet.
func (g *GalaxyService) ListInvocations(ctx context.Context, invocationIDs []string) ([]models.GalaxyInvocation, error) {
	query := url.Values{}
	query.Set("view", "element")
	query.Set("step_details", "true")

	invocations := make([]models.GalaxyInvocation, 0, len(invocationIDs))
	for _, id := range invocationIDs {
		var inv models.GalaxyInvocation
		err := g.getJSON(ctx, "/api/invocations/"+id, query, &inv)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get invocation %s: %w", id, err)
		}
		invocations = append(invocations, inv)
	}
	return invocations, nil
}

// GetInvocationDetail fetches a single invocation including its history
// (container) ID.
func (g *GalaxyService) GetInvocationDetail(ctx context.Context, invocationID string) (*models.GalaxyInvocation, error) {
	var inv models.GalaxyInvocation
	if err := g.getJSON(ctx, "/api/invocations/"+invocationID, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListHistoryDatasets lists the datasets in a history.
func (g *GalaxyService) ListHistoryDatasets(ctx context.Context, historyID string) ([]models.HistoryDataset, error) {
	query := url.Values{}
	query.Set("type", "dataset")
	query.Set("v", "dev")

	var datasets []models.HistoryDataset
	if err := g.getJSON(ctx, "/api/histories/"+historyID+"/contents", query, &datasets); err != nil {
		return nil, err
	}
	return datasets, nil
}

// GetHistoryDataset fetches one dataset's current state.
func (g *GalaxyService) GetHistoryDataset(ctx context.Context, historyID, datasetID string) (*models.HistoryDataset, error) {
	var ds models.HistoryDataset
	if err := g.getJSON(ctx, "/api/histories/"+historyID+"/contents/"+datasetID, nil, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// DownloadDataset streams a dataset's content to a local file.
func (g *GalaxyService) DownloadDataset(ctx context.Context, historyID, datasetID, destPath string) error {
	req, err := g.newRequest(ctx, http.MethodGet, "/api/histories/"+historyID+"/contents/"+datasetID+"/display", nil, nil)
	if err != nil {
		return err
	}

	resp, err := g.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("download dataset %s: %w", datasetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download dataset %s: status %d", datasetID, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("download dataset %s: %w", datasetID, err)
	}
	return nil
}

// FindWorkflow looks up a workflow by name among the workflows visible to the
// authenticated user.
func (g *GalaxyService) FindWorkflow(ctx context.Context, name string) (*models.GalaxyWorkflow, error) {
	query := url.Values{}
	query.Set("show_published", "true")

	var workflows []models.GalaxyWorkflow
	if err := g.getJSON(ctx, "/api/workflows", query, &workflows); err != nil {
		return nil, err
	}

	for i := range workflows {
		if workflows[i].Name == name {
			return &workflows[i], nil
		}
	}
	return nil, fmt.Errorf("workflow %q not found in galaxy", name)
}

// CreateHistory creates a new history to run a workflow in.
func (g *GalaxyService) CreateHistory(ctx context.Context, name string) (*models.GalaxyHistory, error) {
	var history models.GalaxyHistory
	if err := g.postJSON(ctx, "/api/histories", map[string]interface{}{"name": name}, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// UploadFile uploads a local file into a history and returns the created
// dataset.
func (g *GalaxyService) UploadFile(ctx context.Context, historyID, filePath string) (*models.HistoryDataset, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	inputs, _ := json.Marshal(map[string]interface{}{
		"file_type": "auto",
		"dbkey":     "?",
	})
	writer.WriteField("tool_id", "upload1")
	writer.WriteField("history_id", historyID)
	writer.WriteField("inputs", string(inputs))

	part, err := writer.CreateFormFile("files_0|file_data", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/api/tools", nil, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload file: status %d", resp.StatusCode)
	}

	var result struct {
		Outputs []models.HistoryDataset `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Outputs) == 0 {
		return nil, fmt.Errorf("upload file: no dataset returned")
	}
	return &result.Outputs[0], nil
}

// WaitForDatasetOK polls a dataset until it reaches the ok state or fails.
func (g *GalaxyService) WaitForDatasetOK(ctx context.Context, historyID, datasetID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		ds, err := g.GetHistoryDataset(ctx, historyID, datasetID)
		if err != nil {
			return err
		}
		switch ds.State {
		case "ok":
			return nil
		case "error", "failed_metadata":
			return fmt.Errorf("dataset %s failed with state %s", datasetID, ds.State)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(uploadPollInterval):
		}
	}
	return fmt.Errorf("dataset %s not ready after %s", datasetID, timeout)
}

// InvokeWorkflow starts a workflow run and returns the invocation ID.
func (g *GalaxyService) InvokeWorkflow(ctx context.Context, workflowID, historyID string, inputs map[string]interface{}) (string, error) {
	payload := map[string]interface{}{
		"history_id": historyID,
	}
	if inputs != nil {
		payload["inputs"] = inputs
	}

	var invocation struct {
		ID string `json:"id"`
	}
	if err := g.postJSON(ctx, "/api/workflows/"+workflowID+"/invocations", payload, &invocation); err != nil {
		return "", err
	}
	if invocation.ID == "" {
		return "", fmt.Errorf("invoke workflow %s: no invocation id returned", workflowID)
	}
	return invocation.ID, nil
}

func (g *GalaxyService) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", g.apiKey)
	return req, nil
}

func (g *GalaxyService) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := g.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return g.doJSON(req, out)
}

func (g *GalaxyService) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := g.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.doJSON(req, out)
}

func (g *GalaxyService) doJSON(req *http.Request, out interface{}) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("galaxy request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errGalaxyNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("galaxy request %s: status %d", req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errGalaxyNotFound = fmt.Errorf("galaxy: not found")

func isNotFound(err error) bool {
	return err == errGalaxyNotFound
}
