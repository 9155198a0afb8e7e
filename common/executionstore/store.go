package executionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rune-org/rtes/common/models"
	"github.com/rune-org/rtes/common/retry"
)

const collectionName = "executions"

// Sentinel lineage key used when neither the stack nor the message supplies
// a hash.
const defaultLineage = "default"

// Logger interface for logging
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Store maintains the hydrated execution documents under the worker event
// stream. Writes are fine-grained subpath updates so concurrent status
// events for different nodes of the same execution never clobber each
// other.
type Store struct {
	collection *mongo.Collection
	log        Logger
}

func New(client *mongo.Client, database string, log Logger) *Store {
	return &Store{
		collection: client.Database(database).Collection(collectionName),
		log:        log,
	}
}

// UpsertExecutionDefinition boots or refreshes the execution document from
// a node activation. The workflow definition is normalized and flattened
// into top-level nodes/edges fields; a legacy workflow_definition field is
// removed. created_at is written once, on insert.
func (s *Store) UpsertExecutionDefinition(ctx context.Context, msg *models.NodeExecutionMessage) error {
	s.log.Info("upserting execution definition",
		"execution_id", msg.ExecutionID,
		"workflow_id", msg.WorkflowID,
	)

	now := bson.NewDateTimeFromTime(time.Now())
	normalized := NormalizeWorkflowDefinition(msg.WorkflowDefinition)

	nodesDoc := bson.M{}
	if nodes, ok := normalized["nodes"].([]map[string]any); ok {
		for _, node := range nodes {
			if id, ok := node["id"].(string); ok {
				nodesDoc[id] = node
			}
		}
	}

	update := bson.M{
		"$set": bson.M{
			"nodes":               nodesDoc,
			"edges":               normalized["edges"],
			"accumulated_context": msg.AccumulatedContext,
			"workflow_id":         msg.WorkflowID,
			"execution_id":        msg.ExecutionID,
			"updated_at":          now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
		"$unset": bson.M{"workflow_definition": ""},
	}

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"execution_id": msg.ExecutionID},
		update,
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", msg.ExecutionID, err)
	}
	return nil
}

// GetExecutionDocument returns the document for the execution id, or nil
// when none exists.
func (s *Store) GetExecutionDocument(ctx context.Context, executionID string) (*models.ExecutionDocument, error) {
	var doc models.ExecutionDocument
	err := s.collection.FindOne(ctx, bson.M{"execution_id": executionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch execution %s: %w", executionID, err)
	}
	return &doc, nil
}

// GetExecutionsForWorkflow returns every execution document for the
// workflow.
func (s *Store) GetExecutionsForWorkflow(ctx context.Context, workflowID string) ([]models.ExecutionDocument, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"workflow_id": workflowID})
	if err != nil {
		return nil, fmt.Errorf("fetch executions for workflow %s: %w", workflowID, err)
	}

	var docs []models.ExecutionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode executions for workflow %s: %w", workflowID, err)
	}
	return docs, nil
}

// UpdateNodeStatus is the hottest write path. It folds a status message
// into the node's latest pointer and its per-lineage history in a single
// atomic $set. A missing document is tolerated: the event raced ahead of
// the node activation that will backfill it.
func (s *Store) UpdateNodeStatus(ctx context.Context, msg *models.NodeStatusMessage) error {
	lineageHash := effectiveLineageHash(msg)

	s.log.Info("updating node status",
		"execution_id", msg.ExecutionID,
		"node_id", msg.NodeID,
		"status", msg.Status,
		"lineage_hash", lineageHash,
	)

	doc, err := retry.WithBackoff(ctx, "get_execution_document", s.log, func(ctx context.Context) (*models.ExecutionDocument, error) {
		return s.GetExecutionDocument(ctx, msg.ExecutionID)
	})
	if err != nil {
		return err
	}
	if doc == nil {
		s.log.Warn("execution document not found, cannot update node status",
			"execution_id", msg.ExecutionID,
			"node_id", msg.NodeID,
		)
		return nil
	}

	instance := s.buildInstance(doc, msg, lineageHash)

	basePath := "nodes." + msg.NodeID
	setFields := bson.M{
		basePath + ".latest": instance,
		"updated_at":         bson.NewDateTimeFromTime(time.Now()),
	}
	if lineageHash != defaultLineage {
		setFields[basePath+".lineages."+lineageHash] = instance
	}

	filter := bson.M{"execution_id": msg.ExecutionID}

	// Some producers historically wrote nodes as an array; flip it back to
	// a mapping before the subpath update or the $set would fail.
	repairPipeline := mongo.Pipeline{bson.D{{Key: "$set", Value: bson.D{
		{Key: "nodes", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$isArray", Value: "$nodes"}},
			bson.D{},
			"$nodes",
		}}}},
	}}}}

	const maxRetries = 5
	backoff := 250 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if _, err := s.collection.UpdateOne(ctx, filter, repairPipeline); err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("repair nodes field for %s: %w", msg.ExecutionID, err)
			}
			s.log.Warn("node status repair failed, will retry with backoff",
				"execution_id", msg.ExecutionID,
				"attempt", attempt+1,
				"backoff_ms", backoff.Milliseconds(),
			)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			continue
		}

		if _, err := s.collection.UpdateOne(ctx, filter, bson.M{"$set": setFields}); err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("update node status for %s: %w", msg.ExecutionID, err)
			}
			s.log.Warn("node status update failed, will retry with backoff",
				"execution_id", msg.ExecutionID,
				"node_id", msg.NodeID,
				"attempt", attempt+1,
				"backoff_ms", backoff.Milliseconds(),
			)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			continue
		}
		break
	}

	return nil
}

// effectiveLineageHash resolves the lineage key for a status message: the
// stack hash when the stack is non-empty, else the hash the message
// carries, else the sentinel.
func effectiveLineageHash(msg *models.NodeStatusMessage) string {
	if computed := models.ComputeLineageHash(msg.LineageStack); computed != nil {
		return *computed
	}
	if msg.LineageHash != nil {
		return *msg.LineageHash
	}
	return defaultLineage
}

// buildInstance assembles the persisted per-lineage payload, carrying name
// and node type over from what the document already knows about the node.
func (s *Store) buildInstance(doc *models.ExecutionDocument, msg *models.NodeStatusMessage, lineageHash string) models.NodeExecutionInstance {
	var name, nodeType *string
	if node, ok := doc.Nodes[msg.NodeID]; ok {
		if node.Latest != nil {
			name = node.Latest.Name
			nodeType = node.Latest.NodeType
		}
		if name == nil {
			if v, ok := node.Extra["name"].(string); ok {
				name = &v
			}
		}
		if nodeType == nil {
			if v, ok := node.Extra["type"].(string); ok {
				nodeType = &v
			}
		}
	}

	var hash *string
	if lineageHash != defaultLineage {
		h := lineageHash
		hash = &h
	}

	status := msg.Status
	executedAt := msg.ExecutedAt
	durationMs := msg.DurationMs
	return models.NodeExecutionInstance{
		Name:            name,
		NodeType:        nodeType,
		Input:           msg.Input,
		Parameters:      msg.Parameters,
		Output:          msg.Output,
		Status:          &status,
		Error:           msg.Error,
		ExecutedAt:      &executedAt,
		DurationMs:      &durationMs,
		BranchID:        msg.BranchID,
		SplitNodeID:     msg.SplitNodeID,
		ItemIndex:       msg.ItemIndex,
		TotalItems:      msg.TotalItems,
		ProcessedCount:  msg.ProcessedCount,
		AggregatorState: msg.AggregatorState,
		LineageHash:     hash,
		LineageStack:    msg.LineageStack,
		UsedInputs:      msg.UsedInputs,
	}
}

// CompleteExecution records the terminal status. Completions can race
// ahead of the first node activation, so a missing document is retried on
// a slower clock and finally dropped as benign.
func (s *Store) CompleteExecution(ctx context.Context, msg *models.CompletionMessage) error {
	s.log.Info("completing execution",
		"execution_id", msg.ExecutionID,
		"workflow_id", msg.WorkflowID,
		"status", msg.Status,
	)

	filter := bson.M{"execution_id": msg.ExecutionID}

	const maxRetries = 5
	backoff := time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		update := bson.M{"$set": bson.M{
			"status":     msg.Status,
			"updated_at": bson.NewDateTimeFromTime(time.Now()),
		}}

		result, err := s.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("complete execution %s: %w", msg.ExecutionID, err)
		}
		if result.MatchedCount > 0 {
			break
		}

		if attempt == maxRetries {
			s.log.Warn("completion received for missing execution document, retries exhausted",
				"execution_id", msg.ExecutionID,
				"workflow_id", msg.WorkflowID,
			)
			return nil
		}

		s.log.Warn("completion received for missing execution document, will retry with backoff",
			"execution_id", msg.ExecutionID,
			"workflow_id", msg.WorkflowID,
			"attempt", attempt+1,
			"backoff_ms", backoff.Milliseconds(),
		)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
