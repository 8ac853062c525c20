package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ToolExecutor is the interface to the tool-runner collaborator. Any
// error returned from Invoke is treated as a failure signal by the
// resilient invoker; the payload and result are opaque JSON.
type ToolExecutor interface {
	Invoke(ctx context.Context, toolID string, input json.RawMessage) (json.RawMessage, error)
}

// HTTPToolRunner is an HTTP implementation of the ToolExecutor
// interface talking to a tool-runner sidecar. Timeout enforcement
// lives here, at the execution boundary, not in the invoker loop.
type HTTPToolRunner struct {
	url    string
	client *http.Client
}

// NewHTTPToolRunner creates a new HTTPToolRunner. timeoutMs <= 0
// disables the client timeout.
func NewHTTPToolRunner(url string, timeoutMs int) *HTTPToolRunner {
	client := &http.Client{}
	if timeoutMs > 0 {
		client.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &HTTPToolRunner{url: url, client: client}
}

type toolRunnerRequest struct {
	ToolID string          `json:"tool_id"`
	Input  json.RawMessage `json:"input"`
}

type toolRunnerResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Invoke executes the tool through the sidecar.
func (r *HTTPToolRunner) Invoke(ctx context.Context, toolID string, input json.RawMessage) (json.RawMessage, error) {
	requestBody, err := json.Marshal(toolRunnerRequest{ToolID: toolID, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.url+"/invoke", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke tool %s: %w", toolID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool runner returned status %d for tool %s", resp.StatusCode, toolID)
	}

	var body toolRunnerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode tool runner response: %w", err)
	}
	if !body.Success {
		if body.Error == "" {
			body.Error = "tool execution failed"
		}
		return nil, fmt.Errorf("tool %s failed: %s", toolID, body.Error)
	}
	return body.Result, nil
}
