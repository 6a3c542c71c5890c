package web

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/corpacademy/coursegen/pkg/agent"
	"github.com/corpacademy/coursegen/pkg/config"
	"github.com/corpacademy/coursegen/pkg/models"
	"github.com/corpacademy/coursegen/pkg/orchestrator"
	"github.com/corpacademy/coursegen/pkg/store"
)

type APIHandlers struct {
	orchestrator *orchestrator.Orchestrator
	agents       *agent.Client
	store        store.Store
	cfg          config.Config
	validator    *validator.Validate
}

func NewAPIHandlers(
	orch *orchestrator.Orchestrator,
	agents *agent.Client,
	workflowStore store.Store,
	cfg config.Config,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		orchestrator: orch,
		agents:       agents,
		store:        workflowStore,
		cfg:          cfg,
		validator:    validate,
	}
}

// OrchestrateCourse runs a full generation workflow synchronously and
// returns its terminal record.
func (h *APIHandlers) OrchestrateCourse(c fiber.Ctx) error {
	req, err := h.parseRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.orchestrator.Orchestrate(c.Context(), *req)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(OrchestrateResponse{
		Success:  result.Status == models.WorkflowStatusCompleted,
		Workflow: result,
	})
}

// OrchestrateCourseAsync registers the workflow and returns immediately.
func (h *APIHandlers) OrchestrateCourseAsync(c fiber.Ctx) error {
	req, err := h.parseRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflowID, err := h.orchestrator.OrchestrateAsync(c.Context(), *req)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AsyncResponse{
		WorkflowID: workflowID,
		Status:     "queued",
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	result, err := h.orchestrator.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(result)
}

// CancelWorkflow requests cooperative cancellation. An unknown workflow
// is a 404, a terminal one a 409; the record itself is left untouched in
// both cases.
func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	record, err := h.store.Get(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	if record.Status.Terminal() {
		return conflict(c, "workflow is already "+string(record.Status))
	}

	if !h.orchestrator.Cancel(c.Context(), id) {
		return conflict(c, "workflow is no longer cancellable")
	}

	return c.Status(fiber.StatusAccepted).JSON(AsyncResponse{
		WorkflowID: id,
		Status:     "cancelling",
	})
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	limit := h.cfg.CompletedRetention

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	active, err := h.store.ListActive(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	completed, err := h.store.ListCompleted(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(ListResponse{
		Active:    summarize(active),
		Completed: summarize(completed),
	})
}

func (h *APIHandlers) AgentsHealth(c fiber.Ctx) error {
	return c.JSON(h.agents.CheckAll(c.Context()))
}

func (h *APIHandlers) AgentsPing(c fiber.Ctx) error {
	return c.JSON(h.agents.PingAll(c.Context()))
}

func (h *APIHandlers) AgentsCapabilities(c fiber.Ctx) error {
	return c.JSON(h.agents.CapabilitiesAll(c.Context()))
}

func (h *APIHandlers) Metrics(c fiber.Ctx) error {
	active, completed, processed, err := h.store.Counts(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(MetricsResponse{
		WorkflowsActive:    active,
		WorkflowsCompleted: completed,
		WorkflowsProcessed: processed,
		Agents:             h.agents.Metrics(),
	})
}

func (h *APIHandlers) GetConfig(c fiber.Ctx) error {
	return c.JSON(newConfigResponse(h.cfg))
}

func (h *APIHandlers) parseRequest(c fiber.Ctx) (*models.WorkflowRequest, error) {
	var req models.WorkflowRequest

	if err := c.Bind().JSON(&req); err != nil {
		return nil, err
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}
