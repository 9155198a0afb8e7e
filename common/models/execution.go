package models

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Node status values carried on NodeStatusMessage.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusWaiting = "waiting"
)

// Terminal execution status values carried on CompletionMessage.
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionHalted    = "halted"
)

// StackFrame is one level of nested split/branch context. Field order is
// load-bearing: the lineage hash is computed over the canonical JSON
// encoding of a frame slice.
type StackFrame struct {
	SplitNodeID string `json:"split_node_id" bson:"split_node_id"`
	BranchID    string `json:"branch_id" bson:"branch_id"`
	ItemIndex   int    `json:"item_index" bson:"item_index"`
	TotalItems  int    `json:"total_items" bson:"total_items"`
}

// NodeError describes a node-level failure.
type NodeError struct {
	Message string `json:"message" bson:"message"`
	Code    string `json:"code" bson:"code"`
	Details any    `json:"details,omitempty" bson:"details,omitempty"`
}

// NodeExecutionInstance is the per-lineage payload persisted for a node.
type NodeExecutionInstance struct {
	Name            *string      `json:"name,omitempty" bson:"name,omitempty"`
	NodeType        *string      `json:"node_type,omitempty" bson:"node_type,omitempty"`
	Input           any          `json:"input,omitempty" bson:"input,omitempty"`
	Parameters      any          `json:"parameters,omitempty" bson:"parameters,omitempty"`
	Output          any          `json:"output,omitempty" bson:"output,omitempty"`
	Status          *string      `json:"status,omitempty" bson:"status,omitempty"`
	Error           *NodeError   `json:"error,omitempty" bson:"error,omitempty"`
	ExecutedAt      *string      `json:"executed_at,omitempty" bson:"executed_at,omitempty"`
	DurationMs      *int64       `json:"duration_ms,omitempty" bson:"duration_ms,omitempty"`
	BranchID        *string      `json:"branch_id,omitempty" bson:"branch_id,omitempty"`
	SplitNodeID     *string      `json:"split_node_id,omitempty" bson:"split_node_id,omitempty"`
	ItemIndex       *int         `json:"item_index,omitempty" bson:"item_index,omitempty"`
	TotalItems      *int         `json:"total_items,omitempty" bson:"total_items,omitempty"`
	ProcessedCount  *int         `json:"processed_count,omitempty" bson:"processed_count,omitempty"`
	AggregatorState *string      `json:"aggregator_state,omitempty" bson:"aggregator_state,omitempty"`
	LineageHash     *string      `json:"lineage_hash,omitempty" bson:"lineage_hash,omitempty"`
	LineageStack    []StackFrame `json:"lineage_stack,omitempty" bson:"lineage_stack,omitempty"`
	UsedInputs      any          `json:"used_inputs,omitempty" bson:"used_inputs,omitempty"`
}

// HydratedNode is the per-node materialized view inside an execution
// document. Latest tracks the most recent instance regardless of lineage;
// Lineages keys historical instances by lineage hash. Fields coming from the
// normalized workflow definition (name, type, parameters and anything else a
// producer attaches) are preserved in Extra rather than rejected.
type HydratedNode struct {
	Latest   *NodeExecutionInstance           `bson:"latest,omitempty"`
	Lineages map[string]NodeExecutionInstance `bson:"lineages,omitempty"`
	Extra    map[string]any                   `bson:",inline"`
}

func (n HydratedNode) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Extra)+2)
	for k, v := range n.Extra {
		out[k] = v
	}
	if n.Latest != nil {
		out["latest"] = n.Latest
	}
	if len(n.Lineages) > 0 {
		out["lineages"] = n.Lineages
	}
	return json.Marshal(out)
}

func (n *HydratedNode) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["latest"]; ok {
		if err := json.Unmarshal(v, &n.Latest); err != nil {
			return fmt.Errorf("decode node latest: %w", err)
		}
		delete(raw, "latest")
	}
	if v, ok := raw["lineages"]; ok {
		if err := json.Unmarshal(v, &n.Lineages); err != nil {
			return fmt.Errorf("decode node lineages: %w", err)
		}
		delete(raw, "lineages")
	}
	if len(raw) > 0 {
		n.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var value any
			if err := json.Unmarshal(v, &value); err != nil {
				return err
			}
			n.Extra[k] = value
		}
	}
	return nil
}

// NodeMap maps node id to its hydrated view. Legacy documents written by
// misbehaved producers stored nodes as an array; those and explicit nulls
// decode to an empty map so reads succeed before the repair step rewrites
// the field.
type NodeMap map[string]HydratedNode

func (m *NodeMap) UnmarshalBSONValue(typ byte, data []byte) error {
	raw := bson.RawValue{Type: bson.Type(typ), Value: data}
	switch bson.Type(typ) {
	case bson.TypeEmbeddedDocument:
		var plain map[string]HydratedNode
		if err := raw.Unmarshal(&plain); err != nil {
			return fmt.Errorf("decode nodes map: %w", err)
		}
		*m = plain
		return nil
	case bson.TypeArray, bson.TypeNull:
		*m = NodeMap{}
		return nil
	default:
		return fmt.Errorf("cannot decode bson %s into nodes map", bson.Type(typ))
	}
}

// ExecutionDocument is the root persisted entity, keyed by execution id.
// Nodes carries both the normalized workflow definition and the hydrated
// execution data; Edges is the normalized edge list.
type ExecutionDocument struct {
	ExecutionID        string           `json:"execution_id" bson:"execution_id"`
	WorkflowID         string           `json:"workflow_id" bson:"workflow_id"`
	Nodes              NodeMap          `json:"nodes" bson:"nodes"`
	Edges              []map[string]any `json:"edges" bson:"edges"`
	AccumulatedContext any              `json:"accumulated_context" bson:"accumulated_context"`
	Status             *string          `json:"status,omitempty" bson:"status,omitempty"`
	CreatedAt          *Time            `json:"created_at,omitempty" bson:"created_at,omitempty"`
	UpdatedAt          *Time            `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}
