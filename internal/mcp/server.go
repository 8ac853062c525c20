package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"code-evolver/internal/services"
	"code-evolver/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	mcpServer *server.MCPServer
	artifacts *services.ArtifactService
	ranker    *services.ToolRanker
	quality   *services.QualityTracker
	invoker   *services.ResilientInvoker
	fixes     *services.FixPatternService
	pins      *services.PinService
}

func NewServer(
	artifacts *services.ArtifactService,
	ranker *services.ToolRanker,
	quality *services.QualityTracker,
	invoker *services.ResilientInvoker,
	fixes *services.FixPatternService,
	pins *services.PinService,
) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Code Evolver Registry",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		artifacts: artifacts,
		ranker:    ranker,
		quality:   quality,
		invoker:   invoker,
		fixes:     fixes,
		pins:      pins,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"store_artifact",
			mcp.WithDescription("Store a reusable artifact (function, workflow, plan, pattern or tool) in the registry"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Unique artifact ID; re-storing an ID overwrites it")),
			mcp.WithString("type", mcp.Required(), mcp.Description("Artifact type: function, workflow, plan, pattern or tool")),
			mcp.WithString("name", mcp.Description("Human-readable name")),
			mcp.WithString("description", mcp.Description("What the artifact does; used for semantic search")),
			mcp.WithString("content", mcp.Description("The artifact body, e.g. source code")),
			mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		),
		s.handleStoreArtifact,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"search_artifacts",
			mcp.WithDescription("Search stored artifacts by semantic similarity"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Natural language description of what you need")),
			mcp.WithString("type", mcp.Description("Restrict to one artifact type")),
			mcp.WithString("tags", mcp.Description("Comma-separated tags; matches artifacts carrying any of them")),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results (default 5)")),
		),
		s.handleSearchArtifacts,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resilient_call",
			mcp.WithDescription("Rank tools for a scenario and invoke them with automatic fallback on failure"),
			mcp.WithString("scenario", mcp.Required(), mcp.Description("Natural language description of the task")),
			mcp.WithString("input", mcp.Description("JSON input passed to the selected tool")),
			mcp.WithString("required_tags", mcp.Description("Comma-separated tags every candidate tool must carry")),
		),
		s.handleResilientCall,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"mark_failure",
			mcp.WithDescription("Record a tool failure, demoting its quality score and tagging it with negative scenario tags"),
			mcp.WithString("tool_id", mcp.Required(), mcp.Description("The tool that failed")),
			mcp.WithString("scenario", mcp.Description("The scenario in which it failed")),
			mcp.WithString("error", mcp.Description("The error message")),
			mcp.WithString("severity", mcp.Description("low, medium or high (default medium)")),
		),
		s.handleMarkFailure,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"check_duplicate",
			mcp.WithDescription("Check whether a proposed tool duplicates an existing one before building it"),
			mcp.WithString("description", mcp.Required(), mcp.Description("What the proposed tool would do")),
			mcp.WithString("tags", mcp.Description("Comma-separated tags of the proposed tool")),
			mcp.WithNumber("threshold", mcp.Description("Similarity treated as duplicate (default 0.85)")),
		),
		s.handleCheckDuplicate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"find_fix_pattern",
			mcp.WithDescription("Find stored fixes for an error signature"),
			mcp.WithString("query", mcp.Required(), mcp.Description("The error message or a description of the problem")),
			mcp.WithString("error_type", mcp.Description("Error class, e.g. TypeError")),
			mcp.WithString("language", mcp.Description("Programming language of the broken code")),
		),
		s.handleFindFixPattern,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"pin_tool",
			mcp.WithDescription("Pin a tool version against trimming; omit version to pin the current one"),
			mcp.WithString("tool_id", mcp.Required(), mcp.Description("The tool to pin")),
			mcp.WithString("version", mcp.Description("Version to pin; defaults to the tool's current version")),
			mcp.WithString("workflow_id", mcp.Description("Scope the pin to one workflow")),
			mcp.WithString("reason", mcp.Description("Why this version is pinned")),
		),
		s.handlePinTool,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"unpin_tool",
			mcp.WithDescription("Remove a version pin"),
			mcp.WithString("tool_id", mcp.Required(), mcp.Description("The pinned tool")),
			mcp.WithString("version", mcp.Required(), mcp.Description("The pinned version")),
			mcp.WithString("workflow_id", mcp.Description("Workflow scope of the pin, if any")),
		),
		s.handleUnpinTool,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_pins",
			mcp.WithDescription("List every pinned tool version"),
		),
		s.handleListPins,
	)
}

func (s *Server) handleStoreArtifact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	artifactType, ok := args["type"].(string)
	if !ok || artifactType == "" {
		return mcp.NewToolResultError("Missing required parameter: type"), nil
	}

	artifact, err := s.artifacts.StoreArtifact(ctx, services.StoreArtifactParams{
		ID:          id,
		Type:        models.ArtifactType(artifactType),
		Name:        stringArg(args, "name"),
		Description: stringArg(args, "description"),
		Content:     stringArg(args, "content"),
		Tags:        tagsArg(args, "tags"),
	}, true)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to store artifact: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(artifact)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSearchArtifacts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}
	topK := 5
	if v, ok := args["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	matches, err := s.artifacts.FindSimilar(ctx, query,
		models.ArtifactType(stringArg(args, "type")), tagsArg(args, "tags"), topK)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(matches)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleResilientCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	scenario, ok := args["scenario"].(string)
	if !ok || scenario == "" {
		return mcp.NewToolResultError("Missing required parameter: scenario"), nil
	}
	var input json.RawMessage
	if raw := stringArg(args, "input"); raw != "" {
		input = json.RawMessage(raw)
	}

	result := s.invoker.Call(ctx, scenario, input, services.CallOptions{
		RequiredTags: tagsArg(args, "required_tags"),
	})

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleMarkFailure(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	toolID, ok := args["tool_id"].(string)
	if !ok || toolID == "" {
		return mcp.NewToolResultError("Missing required parameter: tool_id"), nil
	}
	severity := models.Severity(stringArg(args, "severity"))
	if severity == "" {
		severity = models.SeverityMedium
	}

	report, err := s.quality.RecordFailure(ctx, toolID,
		stringArg(args, "scenario"), stringArg(args, "error"), severity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record failure: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(report)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCheckDuplicate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	description, ok := args["description"].(string)
	if !ok || description == "" {
		return mcp.NewToolResultError("Missing required parameter: description"), nil
	}
	threshold := 0.0
	if v, ok := args["threshold"].(float64); ok {
		threshold = v
	}

	result, err := s.ranker.CheckDuplicate(ctx, description, tagsArg(args, "tags"), threshold)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Duplicate check failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleFindFixPattern(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	matches, err := s.fixes.FindFixPatterns(ctx,
		stringArg(args, "error_type"), stringArg(args, "language"), query, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Fix pattern search failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(matches)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handlePinTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	toolID, ok := args["tool_id"].(string)
	if !ok || toolID == "" {
		return mcp.NewToolResultError("Missing required parameter: tool_id"), nil
	}

	pin, err := s.pins.Pin(ctx, services.PinRequest{
		ToolID:     toolID,
		Version:    stringArg(args, "version"),
		WorkflowID: stringArg(args, "workflow_id"),
		Reason:     stringArg(args, "reason"),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to pin: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(pin)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleUnpinTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	toolID, ok := args["tool_id"].(string)
	if !ok || toolID == "" {
		return mcp.NewToolResultError("Missing required parameter: tool_id"), nil
	}
	version, ok := args["version"].(string)
	if !ok || version == "" {
		return mcp.NewToolResultError("Missing required parameter: version"), nil
	}

	removed, err := s.pins.Unpin(ctx, toolID, version, stringArg(args, "workflow_id"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to unpin: %v", err)), nil
	}
	if !removed {
		return mcp.NewToolResultError("Pin not found"), nil
	}

	return mcp.NewToolResultText("Pin removed"), nil
}

func (s *Server) handleListPins(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pins, err := s.pins.ListPins(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pins: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(pins)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// tagsArg parses a comma-separated tag argument.
func tagsArg(args map[string]interface{}, key string) []string {
	raw, _ := args[key].(string)
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
