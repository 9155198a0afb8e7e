package state

import (
	"context"

	"github.com/rune-org/rtes/common/bus"
	"github.com/rune-org/rtes/common/config"
	"github.com/rune-org/rtes/common/logger"
	"github.com/rune-org/rtes/common/models"
)

// TokenStore is the authorization grant surface consumed by the HTTP and
// WebSocket layers.
type TokenStore interface {
	AddToken(ctx context.Context, grant models.ExecutionToken) error
	ValidateAccess(ctx context.Context, userID string, executionID *string, workflowID string) (bool, error)
	ValidateAccessForExecution(ctx context.Context, userID, executionID string) (bool, error)
	ValidateExecutionAccess(ctx context.Context, executionID, workflowID string) (bool, error)
	ValidateWorkflowAccess(ctx context.Context, workflowID string) (bool, error)
}

// ExecutionStore is the hydrated document surface consumed by consumers,
// handlers and WebSocket sessions. Reads return nil when no document
// exists.
type ExecutionStore interface {
	UpsertExecutionDefinition(ctx context.Context, msg *models.NodeExecutionMessage) error
	GetExecutionDocument(ctx context.Context, executionID string) (*models.ExecutionDocument, error)
	GetExecutionsForWorkflow(ctx context.Context, workflowID string) ([]models.ExecutionDocument, error)
	UpdateNodeStatus(ctx context.Context, msg *models.NodeStatusMessage) error
	CompleteExecution(ctx context.Context, msg *models.CompletionMessage) error
}

// AppState bundles the shared dependencies handed to every handler,
// consumer and session.
type AppState struct {
	Config     *config.Config
	Log        *logger.Logger
	Tokens     TokenStore
	Executions ExecutionStore
	Bus        *bus.Bus
}
