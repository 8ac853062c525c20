package models

import (
	"encoding/json"
)

// RankedCandidate is one entry of the tool ranker's output.
//
// FinalScore = max(0, Similarity - Demotion) * QualityScore. A tool
// demoted to quality 0 therefore can never be selected, whatever its
// similarity.
type RankedCandidate struct {
	ToolID     string  `json:"tool_id"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
	Demotion   float64 `json:"demotion"`
	Quality    float64 `json:"quality"`
	FinalScore float64 `json:"final_score"`
}

// AttemptRecord is one row of the invocation audit trail.
type AttemptRecord struct {
	Attempt int     `json:"attempt"`
	ToolID  string  `json:"tool_id"`
	Score   float64 `json:"score"`
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
}

// InvocationResult is the terminal outcome of a resilient tool call.
// Attempts is a complete audit trail for post-mortem debugging, not
// just a failure flag.
type InvocationResult struct {
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result,omitempty"`
	ToolID      string          `json:"tool_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    []AttemptRecord `json:"attempts"`
	FailedTools []string        `json:"failed_tools,omitempty"`
}

// DuplicateCheckResult reports whether a proposed tool already has a
// close-enough match in the registry.
type DuplicateCheckResult struct {
	HasDuplicates bool             `json:"has_duplicates"`
	BestMatch     *RankedCandidate `json:"best_match,omitempty"`
	Matches       []RankedCandidate `json:"matches"`
	Threshold     float64          `json:"threshold"`
}
