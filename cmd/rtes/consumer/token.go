package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/models"
	"github.com/rune-org/rtes/common/queue"
)

// RunTokenConsumer drains the token queue, expanding each payload into
// grants and storing every one of them. Any failure nacks the delivery to
// the queue's DLQ.
func RunTokenConsumer(ctx context.Context, appState *state.AppState) error {
	cfg := appState.Config.Broker

	c, err := queue.NewRabbitMQConsumer(queue.Options{
		URL:         cfg.URL,
		QueueName:   cfg.TokenQueue,
		ConsumerTag: cfg.ConsumerTag,
		Durable:     cfg.QueueDurable,
		WithDLQ:     true,
		Prefetch:    cfg.PrefetchCount,
		Concurrency: cfg.ConcurrentMessages,
	}, appState.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	return c.Consume(ctx, handleToken(appState))
}

func handleToken(appState *state.AppState) queue.MessageHandler {
	return func(ctx context.Context, body []byte) error {
		var payload models.ExecutionTokenPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode token payload: %w", err)
		}

		grants, err := payload.Expand()
		if err != nil {
			return err
		}

		for _, grant := range grants {
			if err := appState.Tokens.AddToken(ctx, grant); err != nil {
				return fmt.Errorf("store grant for workflow %s: %w", grant.WorkflowID, err)
			}
		}

		appState.Log.Info("stored execution grants", "count", len(grants), "user_id", payload.UserID)
		return nil
	}
}
