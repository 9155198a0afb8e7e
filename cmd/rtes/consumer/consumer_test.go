package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/config"
	"github.com/rune-org/rtes/common/logger"
	"github.com/rune-org/rtes/common/models"
)

type recordingTokens struct {
	err   error
	added []models.ExecutionToken
}

func (r *recordingTokens) AddToken(_ context.Context, grant models.ExecutionToken) error {
	if r.err != nil {
		return r.err
	}
	r.added = append(r.added, grant)
	return nil
}

func (r *recordingTokens) ValidateAccess(context.Context, string, *string, string) (bool, error) {
	return false, nil
}

func (r *recordingTokens) ValidateAccessForExecution(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *recordingTokens) ValidateExecutionAccess(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *recordingTokens) ValidateWorkflowAccess(context.Context, string) (bool, error) {
	return false, nil
}

func tokenTestState(tokens state.TokenStore) *state.AppState {
	return &state.AppState{
		Config: &config.Config{},
		Log:    logger.New("error", "text"),
		Tokens: tokens,
	}
}

func TestHandleTokenStoresAllGrants(t *testing.T) {
	tokens := &recordingTokens{}
	handler := handleToken(tokenTestState(tokens))

	body := []byte(`{
		"user_id": "user-1",
		"workflow_ids": ["wf-1", "wf-2"],
		"execution_id": "exec-1",
		"iat": 100,
		"exp": 200
	}`)
	require.NoError(t, handler(context.Background(), body))

	require.Len(t, tokens.added, 2)
	assert.Equal(t, "wf-1", tokens.added[0].WorkflowID)
	assert.Equal(t, "wf-2", tokens.added[1].WorkflowID)
	require.NotNil(t, tokens.added[0].ExecutionID)
	assert.Equal(t, "exec-1", *tokens.added[0].ExecutionID)
	assert.Equal(t, "user-1", tokens.added[0].UserID)
	assert.Equal(t, int64(200), tokens.added[0].Exp)
}

func TestHandleTokenRejectsBadJSON(t *testing.T) {
	handler := handleToken(tokenTestState(&recordingTokens{}))
	assert.Error(t, handler(context.Background(), []byte("not json")))
}

func TestHandleTokenRejectsMissingWorkflow(t *testing.T) {
	handler := handleToken(tokenTestState(&recordingTokens{}))
	err := handler(context.Background(), []byte(`{"user_id": "user-1", "execution_id": "exec-1"}`))
	assert.Error(t, err)
}

func TestHandleTokenPropagatesStoreFailure(t *testing.T) {
	tokens := &recordingTokens{err: errors.New("redis down")}
	handler := handleToken(tokenTestState(tokens))

	err := handler(context.Background(), []byte(`{"user_id": "user-1", "workflow_id": "wf-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestSuperviseRestartsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, "test", time.Millisecond, logger.New("error", "text"), func(context.Context) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("broker unreachable")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestSuperviseStopsImmediatelyWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	Supervise(ctx, "test", time.Millisecond, logger.New("error", "text"), func(context.Context) error {
		calls.Add(1)
		return nil
	})
	assert.Zero(t, calls.Load())
}
