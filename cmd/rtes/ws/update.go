package ws

import (
	"github.com/rune-org/rtes/common/models"
)

// WsNodeUpdate is the frame shipped to WebSocket clients. Every field is
// nullable and serialized even when absent, so clients see a stable shape.
type WsNodeUpdate struct {
	NodeID          *string             `json:"node_id"`
	Input           any                 `json:"input"`
	Params          any                 `json:"params"`
	Output          any                 `json:"output"`
	Status          *string             `json:"status"`
	LineageHash     *string             `json:"lineage_hash"`
	LineageStack    []models.StackFrame `json:"lineage_stack"`
	SplitNodeID     *string             `json:"split_node_id"`
	BranchID        *string             `json:"branch_id"`
	ItemIndex       *int                `json:"item_index"`
	TotalItems      *int                `json:"total_items"`
	ProcessedCount  *int                `json:"processed_count"`
	AggregatorState *string             `json:"aggregator_state"`
	UsedInputs      any                 `json:"used_inputs"`
}

// FromWorkerMessage translates a bus message into a client frame. Node
// activations are not meant for clients; they are filtered out by the
// session before translation, so the sentinel status only surfaces if that
// filter is bypassed.
func FromWorkerMessage(msg models.WorkerMessage) WsNodeUpdate {
	switch {
	case msg.NodeStatus != nil:
		s := msg.NodeStatus
		nodeID := s.NodeID
		status := s.Status
		return WsNodeUpdate{
			NodeID:          &nodeID,
			Input:           s.Input,
			Params:          s.Parameters,
			Output:          s.Output,
			Status:          &status,
			LineageHash:     s.LineageHash,
			LineageStack:    s.LineageStack,
			SplitNodeID:     s.SplitNodeID,
			BranchID:        s.BranchID,
			ItemIndex:       s.ItemIndex,
			TotalItems:      s.TotalItems,
			ProcessedCount:  s.ProcessedCount,
			AggregatorState: s.AggregatorState,
			UsedInputs:      s.UsedInputs,
		}
	case msg.WorkflowCompletion != nil:
		status := models.ExecutionCompleted
		return WsNodeUpdate{Status: &status}
	default:
		status := "unknown error"
		return WsNodeUpdate{Status: &status}
	}
}

// FromInstance builds a history frame from a persisted node execution
// instance.
func FromInstance(nodeID string, inst models.NodeExecutionInstance) WsNodeUpdate {
	id := nodeID
	return WsNodeUpdate{
		NodeID:          &id,
		Input:           inst.Input,
		Params:          inst.Parameters,
		Output:          inst.Output,
		Status:          inst.Status,
		LineageHash:     inst.LineageHash,
		LineageStack:    inst.LineageStack,
		SplitNodeID:     inst.SplitNodeID,
		BranchID:        inst.BranchID,
		ItemIndex:       inst.ItemIndex,
		TotalItems:      inst.TotalItems,
		ProcessedCount:  inst.ProcessedCount,
		AggregatorState: inst.AggregatorState,
		UsedInputs:      inst.UsedInputs,
	}
}
