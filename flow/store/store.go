package store

import (
	"encoding/json"

	"github.com/smogili1/agentflow/flow"
)

// copySummary detaches an execution summary via JSON round-trip. Both the
// memory store and the SQL stores hand out independent copies.
func copySummary(sum *flow.ExecutionSummary) (*flow.ExecutionSummary, error) {
	data, err := json.Marshal(sum)
	if err != nil {
		return nil, err
	}
	var out flow.ExecutionSummary
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
