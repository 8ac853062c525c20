// Package models defines the domain models for the code-evolver registry.
package models

import (
	"time"
)

// ArtifactType classifies a stored unit of reusable knowledge.
type ArtifactType string

const (
	ArtifactTypeFunction ArtifactType = "function"
	ArtifactTypeWorkflow ArtifactType = "workflow"
	ArtifactTypePlan     ArtifactType = "plan"
	ArtifactTypePattern  ArtifactType = "pattern"
	ArtifactTypeFailure  ArtifactType = "failure"
	ArtifactTypeTool     ArtifactType = "tool"
)

// Severity grades how bad a recorded tool failure was.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DemotionMultiplier returns the quality-score demotion applied per
// failure of this severity. Unknown severities demote like medium.
func (s Severity) DemotionMultiplier() float64 {
	switch s {
	case SeverityLow:
		return 0.01
	case SeverityHigh:
		return 0.10
	default:
		return 0.05
	}
}

// Artifact is any stored unit of reusable knowledge: a generated
// function, a workflow, a plan, a fix pattern, or a failure report.
// artifact IDs are globally unique within a store; re-storing the same
// ID overwrites in place (versioning is a naming convention, e.g.
// tool_v1_2_3, not a store concern).
type Artifact struct {
	ID          string                 `json:"id"`
	Type        ArtifactType           `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Content     string                 `json:"content"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// QualityScore starts at 1.0 and only ever moves down, via the
	// failure demotion rules. There is no promotion path back up.
	QualityScore float64 `json:"quality_score"`
	UsageCount   int     `json:"usage_count"`

	// Embedding is derived from Description+Content. It may be absent
	// when the embedding sidecar was unavailable at store time; such
	// artifacts are reachable only through tag search.
	Embedding []float32 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the artifact carries the given tag.
func (a *Artifact) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the artifact carries every given tag.
func (a *Artifact) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if !a.HasTag(t) {
			return false
		}
	}
	return true
}

// ScoredArtifact is a similarity-search hit. Similarity is normalized
// cosine similarity in [0,1].
type ScoredArtifact struct {
	Artifact   *Artifact `json:"artifact"`
	Similarity float64   `json:"similarity"`
}

// FailureRecord is the typed view of a FAILURE artifact capturing one
// failed invocation attempt. Records are never mutated after creation.
type FailureRecord struct {
	ID           string    `json:"id"`
	ToolID       string    `json:"tool_id"`
	Scenario     string    `json:"scenario"`
	ErrorMessage string    `json:"error_message"`
	Severity     Severity  `json:"severity"`
	Timestamp    time.Time `json:"timestamp"`
}

// FixPattern captures a proven code transformation tied to an error
// signature. Competing fixes for the same error are stored as separate
// artifacts so usage-based ranking can tell them apart.
type FixPattern struct {
	ErrorType      string `json:"error_type"`
	Language       string `json:"language"`
	BrokenCode     string `json:"broken_code"`
	FixedCode      string `json:"fixed_code"`
	FixDescription string `json:"fix_description"`
	DebugInfo      string `json:"debug_info,omitempty"`
	Context        string `json:"context,omitempty"`
}

// FixPatternMatch is a ranked fix-pattern search hit.
type FixPatternMatch struct {
	ArtifactID string     `json:"artifact_id"`
	Pattern    FixPattern `json:"pattern"`
	Similarity float64    `json:"similarity"`
	Score      float64    `json:"score"`
	UsageCount int        `json:"usage_count"`
}

// ToolMetadata is the catalog view of a tool artifact used when
// resolving the current version for pinning.
type ToolMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// HealthStatus represents service health.
type HealthStatus struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
