package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rune-org/rtes/common/models"
)

// Logger interface for logging
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Store keeps authorization grants in Redis sorted sets scored by grant
// expiry. A grant is indexed under up to three keys so every access path is
// a single key lookup: always under the user, under the execution for
// specific grants, and under the workflow for wildcard grants.
type Store struct {
	client *redis.Client
	log    Logger
}

func New(client *redis.Client, log Logger) *Store {
	return &Store{client: client, log: log}
}

func userKey(userID string) string {
	return "user_id_" + userID
}

func executionKey(executionID string) string {
	return "execution_id_" + executionID
}

func workflowKey(workflowID string) string {
	return "workflow_id_" + workflowID
}

// AddToken writes the grant to every applicable index with score = exp and
// raises each key's TTL to cover the grant lifetime.
func (s *Store) AddToken(ctx context.Context, grant models.ExecutionToken) error {
	member, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}

	keys := []string{userKey(grant.UserID)}
	if grant.ExecutionID != nil {
		keys = append(keys, executionKey(*grant.ExecutionID))
	} else {
		keys = append(keys, workflowKey(grant.WorkflowID))
	}

	for _, key := range keys {
		if err := s.client.ZAdd(ctx, key, redis.Z{
			Score:  float64(grant.Exp),
			Member: string(member),
		}).Err(); err != nil {
			return fmt.Errorf("store grant under %s: %w", key, err)
		}
		if err := s.ensureKeyTTL(ctx, key, grant.Exp); err != nil {
			return err
		}
	}

	s.log.Debug("stored grant", "user_id", grant.UserID, "workflow_id", grant.WorkflowID, "wildcard", grant.ExecutionID == nil)
	return nil
}

// ValidateAccess reports whether the user holds a grant for the workflow
// and, when executionID is non-nil, for that specific execution. A nil
// executionID is a wildcard query that only wildcard grants satisfy.
func (s *Store) ValidateAccess(ctx context.Context, userID string, executionID *string, workflowID string) (bool, error) {
	grants, err := s.activeGrants(ctx, userKey(userID))
	if err != nil {
		return false, err
	}
	for _, grant := range grants {
		if grant.WorkflowID != workflowID {
			continue
		}
		if matchExecution(executionID, grant.ExecutionID) {
			return true, nil
		}
	}
	return false, nil
}

// ValidateAccessForExecution reports whether the user holds any grant
// covering the execution, regardless of workflow.
func (s *Store) ValidateAccessForExecution(ctx context.Context, userID, executionID string) (bool, error) {
	grants, err := s.activeGrants(ctx, userKey(userID))
	if err != nil {
		return false, err
	}
	for _, grant := range grants {
		if grant.ExecutionID == nil || *grant.ExecutionID == executionID {
			return true, nil
		}
	}
	return false, nil
}

// ValidateExecutionAccess reports whether any grant issued for the
// execution also names the workflow. Serves WebSocket clients that carry no
// user identity.
func (s *Store) ValidateExecutionAccess(ctx context.Context, executionID, workflowID string) (bool, error) {
	grants, err := s.activeGrants(ctx, executionKey(executionID))
	if err != nil {
		return false, err
	}
	for _, grant := range grants {
		if grant.WorkflowID == workflowID {
			return true, nil
		}
	}
	return false, nil
}

// ValidateWorkflowAccess reports whether any active wildcard grant exists
// for the workflow. Serves HTTP listing without a user identity.
func (s *Store) ValidateWorkflowAccess(ctx context.Context, workflowID string) (bool, error) {
	grants, err := s.activeGrants(ctx, workflowKey(workflowID))
	if err != nil {
		return false, err
	}
	return len(grants) > 0, nil
}

// activeGrants sweeps expired members off the key, then decodes the
// remainder. Grants that fail to decode are skipped.
func (s *Store) activeGrants(ctx context.Context, key string) ([]models.ExecutionToken, error) {
	now := time.Now().Unix()
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now)).Err(); err != nil {
		return nil, fmt.Errorf("sweep expired grants on %s: %w", key, err)
	}

	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read grants on %s: %w", key, err)
	}

	grants := make([]models.ExecutionToken, 0, len(members))
	for _, member := range members {
		var grant models.ExecutionToken
		if err := json.Unmarshal([]byte(member), &grant); err != nil {
			s.log.Warn("skipping undecodable grant", "key", key, "error", err)
			continue
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

// ensureKeyTTL raises the key's TTL to at least the grant's remaining
// lifetime. Keys whose grants are all expired are left to their current TTL.
func (s *Store) ensureKeyTTL(ctx context.Context, key string, exp int64) error {
	expireIn := exp - time.Now().Unix()
	if expireIn <= 0 {
		return nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read ttl on %s: %w", key, err)
	}
	want := time.Duration(expireIn) * time.Second
	if ttl < 0 || ttl < want {
		if err := s.client.Expire(ctx, key, want).Err(); err != nil {
			return fmt.Errorf("set ttl on %s: %w", key, err)
		}
	}
	return nil
}

// matchExecution applies the grant match rule: wildcard grants satisfy any
// query, specific grants satisfy only the equal execution id, and a
// wildcard query is never satisfied by a specific grant.
func matchExecution(query, grant *string) bool {
	if grant == nil {
		return true
	}
	if query == nil {
		return false
	}
	return *query == *grant
}
