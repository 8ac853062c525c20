package models

import (
	"time"
)

// Pin locks a (tool, version) pair against trimming and auto-update,
// optionally scoped to a single workflow. The version-trimming utility
// consults pins before deleting old tool versions.
type Pin struct {
	ToolID     string    `json:"tool_id"`
	Version    string    `json:"version"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	PinnedAt   time.Time `json:"pinned_at"`
	Reason     string    `json:"reason,omitempty"`
	PinnedBy   string    `json:"pinned_by,omitempty"`
}

// Key returns the pin-file key: "tool@version", prefixed with
// "workflow:" when the pin is workflow-scoped.
func (p *Pin) Key() string {
	if p.WorkflowID != "" {
		return p.WorkflowID + ":" + p.ToolID + "@" + p.Version
	}
	return p.ToolID + "@" + p.Version
}

// PinTag returns the tag mirrored onto the pinned tool artifact so the
// trimming utility can see pins without reading the pin file.
func (p *Pin) PinTag() string {
	tag := "pinned:" + p.ToolID + "@" + p.Version
	if p.WorkflowID != "" {
		tag += ":workflow:" + p.WorkflowID
	}
	return tag
}
