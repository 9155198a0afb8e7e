package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/rune-org/rtes/cmd/rtes/consumer"
	"github.com/rune-org/rtes/cmd/rtes/container"
	"github.com/rune-org/rtes/cmd/rtes/routes"
	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (config, logger, redis, mongo, telemetry)
	components, err := bootstrap.Setup(ctx, "rtes")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap rtes: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = components.Shutdown(context.Background())
	}()

	// Initialize service container (singleton pattern - all stores created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}
	defer serviceContainer.Bus.Close()

	// Start the four broker consumers under supervision
	startConsumers(ctx, serviceContainer.State)

	// Initialize Echo server
	e := setupEcho()
	routes.Register(e, serviceContainer)

	startServer(ctx, e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	return e
}

// startConsumers spawns one supervised loop per queue. Each loop reconnects
// after the configured delay until the context is cancelled.
func startConsumers(ctx context.Context, appState *state.AppState) {
	delay := appState.Config.Broker.RetryDelay

	go consumer.Supervise(ctx, "token", delay, appState.Log, func(ctx context.Context) error {
		return consumer.RunTokenConsumer(ctx, appState)
	})
	go consumer.Supervise(ctx, "execution", delay, appState.Log, func(ctx context.Context) error {
		return consumer.RunExecutionConsumer(ctx, appState)
	})
	go consumer.Supervise(ctx, "status", delay, appState.Log, func(ctx context.Context) error {
		return consumer.RunStatusConsumer(ctx, appState)
	})
	go consumer.Supervise(ctx, "completion", delay, appState.Log, func(ctx context.Context) error {
		return consumer.RunCompletionConsumer(ctx, appState)
	})
}

// startServer runs the Echo server until a shutdown signal arrives, then
// drains in-flight requests.
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting rtes", "port", port)

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			components.Logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	components.Logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		components.Logger.Error("Server shutdown error", "error", err)
	}
}
