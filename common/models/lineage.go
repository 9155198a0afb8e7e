package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ComputeLineageHash deterministically hashes a lineage stack for use as a
// stable map key: a UUIDv5 in the OID namespace over the canonical JSON
// encoding of the stack. Returns nil for an empty stack so callers can fall
// back to the message-provided hash.
func ComputeLineageHash(stack []StackFrame) *string {
	if len(stack) == 0 {
		return nil
	}
	data, err := json.Marshal(stack)
	if err != nil {
		return nil
	}
	hash := uuid.NewSHA1(uuid.NameSpaceOID, data).String()
	return &hash
}
