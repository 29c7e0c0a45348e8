package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"workflow-sync-server/middleware"
	"workflow-sync-server/models"
	"workflow-sync-server/services"
)

type JobHandler struct {
	jobService    *services.JobService
	statusService *services.StatusService
}

func NewJobHandler(jobService *services.JobService, statusService *services.StatusService) *JobHandler {
	return &JobHandler{jobService: jobService, statusService: statusService}
}

// CreateJob godoc
// @Summary Start a workflow run
// @Description Stage a dataset into Galaxy and invoke the named workflow on it
// @Tags jobs
// @Accept json
// @Produce json
// @Param job body models.CreateJobRequest true "Job to start"
// @Success 200 {object} models.WorkflowInvocation
// @Failure 400 {object} map[string]string
// @Router /jobs [post]
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req models.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// Validation
	if req.DatasetID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "dataset_id is required",
		})
	}
	if req.WorkflowName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "workflow_name is required",
		})
	}

	inv, err := h.jobService.CreateJob(middleware.GetXRayContext(c), &req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(inv)
}

// ListJobs godoc
// @Summary List workflow invocations
// @Description Get invocation records, optionally filtered by dataset
// @Tags jobs
// @Produce json
// @Param dataset_id query int false "Filter by dataset ID"
// @Param limit query int false "Number of results to return" default(100)
// @Param offset query int false "Offset into the result set" default(0)
// @Success 200 {array} models.WorkflowInvocation
// @Router /jobs [get]
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	var datasetID *int64
	if idStr := c.Query("dataset_id"); idStr != "" {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid dataset ID",
			})
		}
		datasetID = &id
	}

	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	jobs, err := h.jobService.ListJobs(middleware.GetXRayContext(c), datasetID, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if jobs == nil {
		jobs = []models.WorkflowInvocation{}
	}

	return c.JSON(jobs)
}

// GetJob godoc
// @Summary Get one workflow invocation
// @Description Get the mirrored record of a single invocation
// @Tags jobs
// @Produce json
// @Param invocationId path string true "Invocation ID"
// @Success 200 {object} models.WorkflowInvocation
// @Failure 404 {object} map[string]string
// @Router /jobs/{invocationId} [get]
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	invocationID := c.Params("invocationId")

	inv, err := h.jobService.GetJob(middleware.GetXRayContext(c), invocationID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(inv)
}

// SyncJobResults godoc
// @Summary Sync results of one invocation
// @Description Transfer the finished results of one invocation to storage
// @Tags jobs
// @Produce json
// @Param invocationId path string true "Invocation ID"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]string
// @Router /jobs/{invocationId}/sync [post]
func (h *JobHandler) SyncJobResults(c *fiber.Ctx) error {
	invocationID := c.Params("invocationId")

	if err := h.statusService.SyncResults(middleware.GetXRayContext(c), invocationID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"invocation_id": invocationID,
		"synced":        true,
	})
}
