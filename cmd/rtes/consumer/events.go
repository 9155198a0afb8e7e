package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/models"
	"github.com/rune-org/rtes/common/queue"
)

// The three event queues bind to the workflows exchange and process
// deliveries one at a time so persistence keeps arrival order.

// RunExecutionConsumer persists node activations (the workflow definition
// upsert) and fans them out.
func RunExecutionConsumer(ctx context.Context, appState *state.AppState) error {
	return runEventConsumer(ctx, appState, appState.Config.Broker.ExecutionQueue,
		func(ctx context.Context, msg models.WorkerMessage) error {
			if msg.NodeExecution == nil {
				return fmt.Errorf("expected node execution message")
			}
			return appState.Executions.UpsertExecutionDefinition(ctx, msg.NodeExecution)
		})
}

// RunStatusConsumer persists node status transitions and fans them out.
func RunStatusConsumer(ctx context.Context, appState *state.AppState) error {
	return runEventConsumer(ctx, appState, appState.Config.Broker.StatusQueue,
		func(ctx context.Context, msg models.WorkerMessage) error {
			if msg.NodeStatus == nil {
				return fmt.Errorf("expected node status message")
			}
			return appState.Executions.UpdateNodeStatus(ctx, msg.NodeStatus)
		})
}

// RunCompletionConsumer persists terminal statuses and fans them out.
func RunCompletionConsumer(ctx context.Context, appState *state.AppState) error {
	return runEventConsumer(ctx, appState, appState.Config.Broker.CompletionQueue,
		func(ctx context.Context, msg models.WorkerMessage) error {
			if msg.WorkflowCompletion == nil {
				return fmt.Errorf("expected workflow completion message")
			}
			return appState.Executions.CompleteExecution(ctx, msg.WorkflowCompletion)
		})
}

// runEventConsumer wires one event queue to a persist function. The message
// is acked only after persistence succeeds; publication to the bus happens
// after persistence so sessions never see an event the document missed.
func runEventConsumer(ctx context.Context, appState *state.AppState, queueName string, persist func(context.Context, models.WorkerMessage) error) error {
	cfg := appState.Config.Broker

	c, err := queue.NewRabbitMQConsumer(queue.Options{
		URL:          cfg.URL,
		QueueName:    queueName,
		ConsumerTag:  queueName + ".consumer",
		Durable:      cfg.QueueDurable,
		BindExchange: true,
		Concurrency:  1,
	}, appState.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	return c.Consume(ctx, func(ctx context.Context, body []byte) error {
		var msg models.WorkerMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("decode worker message on %s: %w", queueName, err)
		}

		if err := persist(ctx, msg); err != nil {
			return err
		}

		appState.Bus.Publish(msg)
		return nil
	})
}
