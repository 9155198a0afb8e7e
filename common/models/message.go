package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeStatusMessage reports a node state change on the status queue.
type NodeStatusMessage struct {
	WorkflowID      string       `json:"workflow_id"`
	ExecutionID     string       `json:"execution_id"`
	NodeID          string       `json:"node_id"`
	NodeName        string       `json:"node_name"`
	Status          string       `json:"status"`
	Input           any          `json:"input,omitempty"`
	Parameters      any          `json:"parameters,omitempty"`
	Output          any          `json:"output,omitempty"`
	Error           *NodeError   `json:"error,omitempty"`
	ExecutedAt      string       `json:"executed_at"`
	DurationMs      int64        `json:"duration_ms"`
	BranchID        *string      `json:"branch_id,omitempty"`
	SplitNodeID     *string      `json:"split_node_id,omitempty"`
	ItemIndex       *int         `json:"item_index,omitempty"`
	TotalItems      *int         `json:"total_items,omitempty"`
	ProcessedCount  *int         `json:"processed_count,omitempty"`
	AggregatorState *string      `json:"aggregator_state,omitempty"`
	LineageStack    []StackFrame `json:"lineage_stack,omitempty"`
	LineageHash     *string      `json:"lineage_hash,omitempty"`
	UsedInputs      any          `json:"used_inputs,omitempty"`
}

// CompletionMessage is the terminal event for an execution.
type CompletionMessage struct {
	WorkflowID      string  `json:"workflow_id"`
	ExecutionID     string  `json:"execution_id"`
	Status          string  `json:"status"`
	FinalContext    any     `json:"final_context"`
	CompletedAt     string  `json:"completed_at"`
	TotalDurationMs int64   `json:"total_duration_ms"`
	FailureReason   *string `json:"failure_reason,omitempty"`
}

// NodeExecutionMessage announces a node activation. It carries the full
// workflow definition and boots or refreshes the execution document.
type NodeExecutionMessage struct {
	WorkflowID         string       `json:"workflow_id"`
	ExecutionID        string       `json:"execution_id"`
	CurrentNode        string       `json:"current_node"`
	WorkflowDefinition any          `json:"workflow_definition"`
	AccumulatedContext any          `json:"accumulated_context"`
	LineageStack       []StackFrame `json:"lineage_stack,omitempty"`
	FromNode           *string      `json:"from_node,omitempty"`
	IsWorkerInitiated  *bool        `json:"is_worker_initiated,omitempty"`
}

// Worker message type tags as they appear on the wire.
const (
	tagNodeStatus          = "NodeStatus"
	tagWorkflowCompletion  = "WorkflowCompletion"
	tagNodeExecution       = "NodeExecution"
	tagWorkerNodeExecution = "WorkerNodeExecution"
)

// WorkerMessage is the tagged union carried on the three event queues.
// Exactly one variant is set. The legacy WorkerNodeExecution tag decodes to
// the NodeExecution variant and is never re-emitted.
type WorkerMessage struct {
	NodeStatus         *NodeStatusMessage
	WorkflowCompletion *CompletionMessage
	NodeExecution      *NodeExecutionMessage
}

// ExecutionID returns the execution id of whichever variant is set.
func (m WorkerMessage) ExecutionID() string {
	switch {
	case m.NodeStatus != nil:
		return m.NodeStatus.ExecutionID
	case m.WorkflowCompletion != nil:
		return m.WorkflowCompletion.ExecutionID
	case m.NodeExecution != nil:
		return m.NodeExecution.ExecutionID
	}
	return ""
}

func (m WorkerMessage) MarshalJSON() ([]byte, error) {
	var (
		tag     string
		payload any
	)
	switch {
	case m.NodeStatus != nil:
		tag, payload = tagNodeStatus, m.NodeStatus
	case m.WorkflowCompletion != nil:
		tag, payload = tagWorkflowCompletion, m.WorkflowCompletion
	case m.NodeExecution != nil:
		tag, payload = tagNodeExecution, m.NodeExecution
	default:
		return nil, errors.New("worker message has no variant set")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(`"` + tag + `"`)
	return json.Marshal(fields)
}

func (m *WorkerMessage) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decode worker message tag: %w", err)
	}

	*m = WorkerMessage{}
	switch probe.Type {
	case tagNodeStatus:
		m.NodeStatus = &NodeStatusMessage{}
		return json.Unmarshal(data, m.NodeStatus)
	case tagWorkflowCompletion:
		m.WorkflowCompletion = &CompletionMessage{}
		return json.Unmarshal(data, m.WorkflowCompletion)
	case tagNodeExecution, tagWorkerNodeExecution:
		m.NodeExecution = &NodeExecutionMessage{}
		return json.Unmarshal(data, m.NodeExecution)
	case "":
		return errors.New("worker message missing type tag")
	default:
		return fmt.Errorf("unknown worker message type %q", probe.Type)
	}
}
