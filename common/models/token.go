package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// ExecutionToken is one ephemeral authorization grant. A nil ExecutionID is
// a wildcard grant covering all executions of the workflow.
type ExecutionToken struct {
	ExecutionID *string `json:"execution_id"`
	WorkflowID  string  `json:"workflow_id"`
	Iat         int64   `json:"iat"`
	Exp         int64   `json:"exp"`
	UserID      string  `json:"user_id"`
}

// ExecutionTokenPayload is the wire form admitted on the token queue.
// Producers send single ids or id lists, in snake_case or camelCase.
type ExecutionTokenPayload struct {
	UserID       string
	ExecutionID  string
	ExecutionIDs []string
	WorkflowID   string
	WorkflowIDs  []string
	Iat          int64
	Exp          int64
}

func (p *ExecutionTokenPayload) UnmarshalJSON(data []byte) error {
	var aux struct {
		UserID            string   `json:"user_id"`
		UserIDCamel       string   `json:"userId"`
		ExecutionID       string   `json:"execution_id"`
		ExecutionIDCamel  string   `json:"executionId"`
		ExecutionIDs      []string `json:"execution_ids"`
		ExecutionIDsCamel []string `json:"executionIds"`
		WorkflowID        string   `json:"workflow_id"`
		WorkflowIDCamel   string   `json:"workflowId"`
		WorkflowIDs       []string `json:"workflow_ids"`
		WorkflowIDsCamel  []string `json:"workflowIds"`
		Iat               int64    `json:"iat"`
		Exp               int64    `json:"exp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.UserID = firstNonEmpty(aux.UserID, aux.UserIDCamel)
	p.ExecutionID = firstNonEmpty(aux.ExecutionID, aux.ExecutionIDCamel)
	p.WorkflowID = firstNonEmpty(aux.WorkflowID, aux.WorkflowIDCamel)
	p.ExecutionIDs = aux.ExecutionIDs
	if len(p.ExecutionIDs) == 0 {
		p.ExecutionIDs = aux.ExecutionIDsCamel
	}
	p.WorkflowIDs = aux.WorkflowIDs
	if len(p.WorkflowIDs) == 0 {
		p.WorkflowIDs = aux.WorkflowIDsCamel
	}
	p.Iat = aux.Iat
	p.Exp = aux.Exp
	return nil
}

// Expand turns the payload into concrete grants: the cross-product of
// workflow and execution ids, or one wildcard grant per workflow when no
// execution ids are present. A payload without a workflow id is rejected.
func (p *ExecutionTokenPayload) Expand() ([]ExecutionToken, error) {
	workflows := collectIDs(p.WorkflowIDs, p.WorkflowID)
	if len(workflows) == 0 {
		return nil, errors.New("token payload missing workflow id")
	}
	executions := collectIDs(p.ExecutionIDs, p.ExecutionID)

	grants := make([]ExecutionToken, 0, len(workflows)*max(len(executions), 1))
	for _, wf := range workflows {
		if len(executions) == 0 {
			grants = append(grants, ExecutionToken{
				WorkflowID: wf,
				Iat:        p.Iat,
				Exp:        p.Exp,
				UserID:     p.UserID,
			})
			continue
		}
		for _, exec := range executions {
			id := exec
			grants = append(grants, ExecutionToken{
				ExecutionID: &id,
				WorkflowID:  wf,
				Iat:         p.Iat,
				Exp:         p.Exp,
				UserID:      p.UserID,
			})
		}
	}
	return grants, nil
}

// collectIDs merges a list and a single id, trimming whitespace and
// deduplicating while preserving first-seen order.
func collectIDs(ids []string, single string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]struct{}, len(ids)+1)
	for _, id := range append(append([]string{}, ids...), single) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
