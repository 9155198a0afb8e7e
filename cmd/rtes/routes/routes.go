package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/rune-org/rtes/cmd/rtes/container"
	"github.com/rune-org/rtes/cmd/rtes/handlers"
	"github.com/rune-org/rtes/cmd/rtes/middleware"
	"github.com/rune-org/rtes/cmd/rtes/ws"
)

// Register wires all HTTP and WebSocket routes onto the echo instance
func Register(e *echo.Echo, c *container.Container) {
	cfg := c.Components.Config

	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{cfg.Service.CORSOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType},
		AllowCredentials: true,
	}))
	e.Use(middleware.ExtractUser(cfg.Auth.JWTSecret))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	// Execution read endpoints
	h := handlers.NewExecutionHandler(c.State)
	e.GET("/executions/:execution_id", h.GetExecution)                 // GET /executions/{execution_id}
	e.GET("/workflows/:workflow_id/executions", h.ListWorkflowExecutions) // GET /workflows/{workflow_id}/executions

	// Real-time stream
	wsHandler := ws.NewHandler(c.State)
	e.GET("/rt", wsHandler.Serve) // GET /rt?execution_id=...&workflow_id=...
}
