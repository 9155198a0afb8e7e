package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rune-org/rtes/cmd/rtes/middleware"
	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/models"
)

// ExecutionHandler serves the execution read endpoints
type ExecutionHandler struct {
	state *state.AppState
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(appState *state.AppState) *ExecutionHandler {
	return &ExecutionHandler{state: appState}
}

// GetExecution returns a single hydrated execution document.
// GET /executions/:execution_id
//
// Authenticated requests are checked against the user's grants; anonymous
// requests fall back to the execution's own grant index, which needs the
// document's workflow id first.
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()
	executionID := c.Param("execution_id")

	if userID := middleware.GetUserID(c); userID != "" {
		ok, err := h.state.Tokens.ValidateAccessForExecution(ctx, userID, executionID)
		if err != nil {
			h.state.Log.Error("grant lookup failed", "execution_id", executionID, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
		}
		if !ok {
			return c.JSON(http.StatusForbidden, map[string]any{"error": "access denied"})
		}

		doc, err := h.state.Executions.GetExecutionDocument(ctx, executionID)
		if err != nil {
			h.state.Log.Error("execution fetch failed", "execution_id", executionID, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
		}
		if doc == nil {
			return c.JSON(http.StatusNotFound, map[string]any{"error": "execution not found"})
		}
		return c.JSON(http.StatusOK, doc)
	}

	doc, err := h.state.Executions.GetExecutionDocument(ctx, executionID)
	if err != nil {
		h.state.Log.Error("execution fetch failed", "execution_id", executionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
	if doc == nil {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "execution not found"})
	}

	ok, err := h.state.Tokens.ValidateExecutionAccess(ctx, executionID, doc.WorkflowID)
	if err != nil {
		h.state.Log.Error("grant lookup failed", "execution_id", executionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
	if !ok {
		h.state.Log.Warn("unauthorized execution read", "execution_id", executionID)
		return c.JSON(http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, doc)
}

// ListWorkflowExecutions returns every execution document for a workflow.
// GET /workflows/:workflow_id/executions
func (h *ExecutionHandler) ListWorkflowExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("workflow_id")

	if userID := middleware.GetUserID(c); userID != "" {
		ok, err := h.state.Tokens.ValidateAccess(ctx, userID, nil, workflowID)
		if err != nil {
			h.state.Log.Error("grant lookup failed", "workflow_id", workflowID, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
		}
		if !ok {
			return c.JSON(http.StatusForbidden, map[string]any{"error": "access denied"})
		}
	} else {
		ok, err := h.state.Tokens.ValidateWorkflowAccess(ctx, workflowID)
		if err != nil {
			h.state.Log.Error("grant lookup failed", "workflow_id", workflowID, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
		}
		if !ok {
			h.state.Log.Warn("unauthorized workflow listing", "workflow_id", workflowID)
			return c.JSON(http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		}
	}

	docs, err := h.state.Executions.GetExecutionsForWorkflow(ctx, workflowID)
	if err != nil {
		h.state.Log.Error("workflow executions fetch failed", "workflow_id", workflowID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
	if docs == nil {
		docs = []models.ExecutionDocument{}
	}
	return c.JSON(http.StatusOK, docs)
}
