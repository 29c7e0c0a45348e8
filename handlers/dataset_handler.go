package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"workflow-sync-server/middleware"
	"workflow-sync-server/models"
	"workflow-sync-server/services"
)

type DatasetHandler struct {
	jobService *services.JobService
}

func NewDatasetHandler(jobService *services.JobService) *DatasetHandler {
	return &DatasetHandler{jobService: jobService}
}

// CreateDataset godoc
// @Summary Register a dataset
// @Description Register an input dataset already present in the object store
// @Tags datasets
// @Accept json
// @Produce json
// @Param dataset body models.CreateDatasetRequest true "Dataset to register"
// @Success 200 {object} models.Dataset
// @Failure 400 {object} map[string]string
// @Router /datasets [post]
func (h *DatasetHandler) CreateDataset(c *fiber.Ctx) error {
	var req models.CreateDatasetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ds, err := h.jobService.CreateDataset(middleware.GetXRayContext(c), &req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(ds)
}

// GetDataset godoc
// @Summary Get dataset details
// @Description Get a registered dataset by ID
// @Tags datasets
// @Produce json
// @Param id path int true "Dataset ID"
// @Success 200 {object} models.Dataset
// @Failure 404 {object} map[string]string
// @Router /datasets/{id} [get]
func (h *DatasetHandler) GetDataset(c *fiber.Ctx) error {
	idStr := c.Params("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid dataset ID",
		})
	}

	ds, err := h.jobService.GetDataset(middleware.GetXRayContext(c), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(ds)
}
