package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestComputeLineageHashDeterministic(t *testing.T) {
	stack := []StackFrame{
		{SplitNodeID: "split-1", BranchID: "branch-a", ItemIndex: 0, TotalItems: 3},
		{SplitNodeID: "split-2", BranchID: "branch-b", ItemIndex: 2, TotalItems: 5},
	}

	first := ComputeLineageHash(stack)
	second := ComputeLineageHash(stack)
	if first == nil || second == nil {
		t.Fatal("expected hash for non-empty stack")
	}
	if *first != *second {
		t.Fatalf("hash not deterministic: %s vs %s", *first, *second)
	}
}

func TestComputeLineageHashDistinguishesFields(t *testing.T) {
	base := []StackFrame{{SplitNodeID: "split-1", BranchID: "branch-a", ItemIndex: 0, TotalItems: 3}}
	variants := [][]StackFrame{
		{{SplitNodeID: "split-2", BranchID: "branch-a", ItemIndex: 0, TotalItems: 3}},
		{{SplitNodeID: "split-1", BranchID: "branch-b", ItemIndex: 0, TotalItems: 3}},
		{{SplitNodeID: "split-1", BranchID: "branch-a", ItemIndex: 1, TotalItems: 3}},
		{{SplitNodeID: "split-1", BranchID: "branch-a", ItemIndex: 0, TotalItems: 4}},
	}

	baseHash := ComputeLineageHash(base)
	for i, variant := range variants {
		got := ComputeLineageHash(variant)
		if *got == *baseHash {
			t.Fatalf("variant %d collides with base hash", i)
		}
	}
}

func TestComputeLineageHashEmptyStack(t *testing.T) {
	if got := ComputeLineageHash(nil); got != nil {
		t.Fatalf("expected nil hash for empty stack, got %s", *got)
	}
	if got := ComputeLineageHash([]StackFrame{}); got != nil {
		t.Fatalf("expected nil hash for empty slice, got %s", *got)
	}
}

func TestTokenPayloadExpandSingleIDs(t *testing.T) {
	payload := ExecutionTokenPayload{
		UserID:      "user-1",
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Iat:         100,
		Exp:         200,
	}

	grants, err := payload.Expand()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(grants))
	}
	g := grants[0]
	if g.ExecutionID == nil || *g.ExecutionID != "exec-1" {
		t.Fatalf("unexpected execution id: %v", g.ExecutionID)
	}
	if g.WorkflowID != "wf-1" || g.UserID != "user-1" || g.Iat != 100 || g.Exp != 200 {
		t.Fatalf("unexpected grant: %+v", g)
	}
}

func TestTokenPayloadExpandCrossProduct(t *testing.T) {
	payload := ExecutionTokenPayload{
		UserID:       "user-1",
		ExecutionIDs: []string{"exec-1", " exec-2 ", "exec-1"},
		WorkflowIDs:  []string{"wf-1", "wf-2"},
	}

	grants, err := payload.Expand()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 4 {
		t.Fatalf("expected 4 grants, got %d", len(grants))
	}

	got := make(map[string]bool)
	for _, g := range grants {
		if g.ExecutionID == nil {
			t.Fatal("expected specific grants only")
		}
		got[g.WorkflowID+"/"+*g.ExecutionID] = true
	}
	for _, want := range []string{"wf-1/exec-1", "wf-1/exec-2", "wf-2/exec-1", "wf-2/exec-2"} {
		if !got[want] {
			t.Fatalf("missing grant %s", want)
		}
	}
}

func TestTokenPayloadExpandWildcardPerWorkflow(t *testing.T) {
	payload := ExecutionTokenPayload{
		UserID:      "user-1",
		WorkflowIDs: []string{"wf-1", "wf-2"},
	}

	grants, err := payload.Expand()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 wildcard grants, got %d", len(grants))
	}
	for _, g := range grants {
		if g.ExecutionID != nil {
			t.Fatalf("expected wildcard grant, got execution id %s", *g.ExecutionID)
		}
	}
}

func TestTokenPayloadExpandMissingWorkflow(t *testing.T) {
	payload := ExecutionTokenPayload{
		UserID:      "user-1",
		ExecutionID: "exec-1",
	}
	if _, err := payload.Expand(); err == nil {
		t.Fatal("expected error for payload without workflow id")
	}
}

func TestTokenPayloadCamelCaseAliases(t *testing.T) {
	raw := `{"userId":"user-1","executionIds":["exec-1"],"workflowId":"wf-1","iat":1,"exp":2}`

	var payload ExecutionTokenPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.UserID != "user-1" || payload.WorkflowID != "wf-1" {
		t.Fatalf("aliases not applied: %+v", payload)
	}
	if len(payload.ExecutionIDs) != 1 || payload.ExecutionIDs[0] != "exec-1" {
		t.Fatalf("execution ids not applied: %+v", payload)
	}
}

func TestNodeStatusMessageRoundTrip(t *testing.T) {
	hash := "0c39d1e9-936f-5b9f-b573-f734428cea2a"
	branch := "branch-a"
	split := "split-1"
	idx := 1
	total := 4
	msg := NodeStatusMessage{
		WorkflowID:   "wf-1",
		ExecutionID:  "exec-1",
		NodeID:       "node-1",
		NodeName:     "Fetch",
		Status:       StatusSuccess,
		Input:        map[string]any{"url": "https://example.com"},
		Output:       map[string]any{"code": float64(200)},
		ExecutedAt:   "2024-01-01T00:00:00Z",
		DurationMs:   42,
		BranchID:     &branch,
		SplitNodeID:  &split,
		ItemIndex:    &idx,
		TotalItems:   &total,
		LineageStack: []StackFrame{{SplitNodeID: "split-1", BranchID: "branch-a", ItemIndex: 1, TotalItems: 4}},
		LineageHash:  &hash,
		UsedInputs:   map[string]any{"node-0": "value"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded NodeStatusMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(msg, decoded) {
		t.Fatalf("round-trip mismatch:\n%+v\n%+v", msg, decoded)
	}
}

func TestWorkerMessageTagDispatch(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want func(m WorkerMessage) bool
	}{
		{
			name: "node status",
			raw:  `{"type":"NodeStatus","workflow_id":"wf-1","execution_id":"exec-1","node_id":"n1","node_name":"N","status":"running","executed_at":"t","duration_ms":1}`,
			want: func(m WorkerMessage) bool { return m.NodeStatus != nil && m.NodeStatus.NodeID == "n1" },
		},
		{
			name: "workflow completion",
			raw:  `{"type":"WorkflowCompletion","workflow_id":"wf-1","execution_id":"exec-1","status":"completed","final_context":{},"completed_at":"t","total_duration_ms":5}`,
			want: func(m WorkerMessage) bool { return m.WorkflowCompletion != nil && m.WorkflowCompletion.Status == ExecutionCompleted },
		},
		{
			name: "node execution",
			raw:  `{"type":"NodeExecution","workflow_id":"wf-1","execution_id":"exec-1","current_node":"n1","workflow_definition":{},"accumulated_context":{}}`,
			want: func(m WorkerMessage) bool { return m.NodeExecution != nil && m.NodeExecution.CurrentNode == "n1" },
		},
		{
			name: "worker initiated alias",
			raw:  `{"type":"WorkerNodeExecution","workflow_id":"wf-1","execution_id":"exec-1","current_node":"n1","workflow_definition":{},"accumulated_context":{}}`,
			want: func(m WorkerMessage) bool { return m.NodeExecution != nil },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg WorkerMessage
			if err := json.Unmarshal([]byte(tc.raw), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !tc.want(msg) {
				t.Fatalf("unexpected variant: %+v", msg)
			}
			if msg.ExecutionID() != "exec-1" {
				t.Fatalf("unexpected execution id %q", msg.ExecutionID())
			}
		})
	}
}

func TestWorkerMessageUnknownTag(t *testing.T) {
	var msg WorkerMessage
	if err := json.Unmarshal([]byte(`{"type":"Mystery"}`), &msg); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestWorkerMessageMarshalInjectsTag(t *testing.T) {
	msg := WorkerMessage{WorkflowCompletion: &CompletionMessage{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		Status:      ExecutionCompleted,
	}}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["type"] != "WorkflowCompletion" {
		t.Fatalf("missing type tag: %v", fields)
	}
}

func TestHydratedNodePreservesUnknownFields(t *testing.T) {
	raw := `{"name":"Fetch","type":"http","custom":{"a":1},"latest":{"status":"success"}}`

	var node HydratedNode
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if node.Latest == nil || node.Latest.Status == nil || *node.Latest.Status != StatusSuccess {
		t.Fatalf("latest not decoded: %+v", node.Latest)
	}
	if node.Extra["name"] != "Fetch" || node.Extra["type"] != "http" {
		t.Fatalf("extra fields not preserved: %+v", node.Extra)
	}

	out, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("unmarshal round: %v", err)
	}
	if round["custom"] == nil {
		t.Fatalf("unknown field dropped on output: %v", round)
	}
}

func TestTimeJSONRoundTrip(t *testing.T) {
	var ts Time
	if err := json.Unmarshal([]byte(`"2024-06-01T12:30:00Z"`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"2024-06-01T12:30:00Z"` {
		t.Fatalf("unexpected output %s", out)
	}
}
