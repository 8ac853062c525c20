// Package api contains the HTTP handlers for the code-evolver registry.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"code-evolver/internal/auth"
	"code-evolver/internal/services"
	"code-evolver/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Artifacts *services.ArtifactService
	Ranker    *services.ToolRanker
	Quality   *services.QualityTracker
	Ledger    *services.FailureLedger
	Invoker   *services.ResilientInvoker
	Fixes     *services.FixPatternService
	Pins      *services.PinService
}

// RegisterHandlers mounts every registry route on the given group.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.GET("/artifacts", s.ListArtifacts)
	g.PUT("/artifacts", s.PutArtifact)
	g.GET("/artifacts/:id", s.GetArtifact)
	g.POST("/artifacts/search", s.SearchArtifacts)

	g.POST("/tools/rank", s.RankTools)
	g.POST("/tools/invoke", s.InvokeTool)
	g.POST("/tools/check-duplicate", s.CheckDuplicate)
	g.POST("/tools/:id/failures", s.RecordFailure)
	g.GET("/tools/:id/failures", s.ListFailures)

	g.PUT("/fix-patterns", s.PutFixPattern)
	g.POST("/fix-patterns/search", s.FindFixPatterns)
	g.POST("/fix-patterns/:id/applied", s.MarkFixApplied)

	g.GET("/pins", s.ListPins)
	g.PUT("/pins", s.PutPin)
	g.DELETE("/pins", s.DeletePin)
}

// ListArtifacts returns stored artifacts, optionally filtered by tags.
// (GET /api/v1/artifacts?tags=a,b&limit=n)
func (s *Server) ListArtifacts(c echo.Context) error {
	ctx := c.Request().Context()
	params := c.QueryParams()

	var tags []string
	if params.Has("tags") {
		if err := runtime.BindQueryParameter("form", false, false, "tags", params, &tags); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid tags parameter: "+err.Error())
		}
	}
	limit := 0
	if params.Has("limit") {
		if err := runtime.BindQueryParameter("form", true, false, "limit", params, &limit); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid limit parameter: "+err.Error())
		}
	}

	store := s.Artifacts.Store()
	var (
		artifacts []*models.Artifact
		err       error
	)
	if len(tags) > 0 {
		artifacts, err = store.FindByTags(ctx, tags, limit)
	} else {
		artifacts, err = store.ListAll(ctx)
		if err == nil && limit > 0 && len(artifacts) > limit {
			artifacts = artifacts[:limit]
		}
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, artifacts)
}

// PutArtifact creates or updates an artifact. Re-storing an existing ID
// overwrites it in place.
// (PUT /api/v1/artifacts)
func (s *Server) PutArtifact(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		services.StoreArtifactParams
		AutoEmbed *bool `json:"auto_embed,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	autoEmbed := true
	if req.AutoEmbed != nil {
		autoEmbed = *req.AutoEmbed
	}

	artifact, err := s.Artifacts.StoreArtifact(ctx, req.StoreArtifactParams, autoEmbed)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to store artifact: "+err.Error())
	}
	return c.JSON(http.StatusOK, artifact)
}

// GetArtifact returns a single artifact by ID.
// (GET /api/v1/artifacts/:id)
func (s *Server) GetArtifact(c echo.Context) error {
	ctx := c.Request().Context()

	artifact, err := s.Artifacts.Store().Get(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if artifact == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Artifact not found: "+c.Param("id"))
	}
	return c.JSON(http.StatusOK, artifact)
}

// SearchArtifacts runs a semantic similarity search over the registry.
// (POST /api/v1/artifacts/search)
func (s *Server) SearchArtifacts(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Query string              `json:"query"`
		Type  models.ArtifactType `json:"type,omitempty"`
		Tags  []string            `json:"tags,omitempty"`
		TopK  int                 `json:"top_k,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	matches, err := s.Artifacts.FindSimilar(ctx, req.Query, req.Type, req.Tags, req.TopK)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Search failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, matches)
}

// RankTools returns tools ranked for a scenario, quality and failure
// history applied.
// (POST /api/v1/tools/rank)
func (s *Server) RankTools(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Scenario      string   `json:"scenario"`
		RequiredTags  []string `json:"required_tags,omitempty"`
		MaxCandidates int      `json:"max_candidates,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Scenario == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scenario is required")
	}

	candidates, err := s.Ranker.Rank(ctx, req.Scenario, services.RankOptions{
		MaxCandidates: req.MaxCandidates,
		RequiredTags:  req.RequiredTags,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Ranking failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, candidates)
}

// InvokeTool runs the resilient invocation loop: rank, try, demote on
// failure, fall back. The HTTP status is 200 whether or not any tool
// succeeded; the result carries the outcome and the full attempt trail.
// (POST /api/v1/tools/invoke)
func (s *Server) InvokeTool(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Scenario     string          `json:"scenario"`
		Input        json.RawMessage `json:"input,omitempty"`
		RequiredTags []string        `json:"required_tags,omitempty"`
		MaxAttempts  int             `json:"max_attempts,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Scenario == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scenario is required")
	}

	result := s.Invoker.Call(ctx, req.Scenario, req.Input, services.CallOptions{
		RequiredTags: req.RequiredTags,
		MaxAttempts:  req.MaxAttempts,
	})
	return c.JSON(http.StatusOK, result)
}

// CheckDuplicate looks for existing tools similar to a proposed one.
// (POST /api/v1/tools/check-duplicate)
func (s *Server) CheckDuplicate(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Description string   `json:"description"`
		Tags        []string `json:"tags,omitempty"`
		Threshold   float64  `json:"threshold,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Description == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	}

	result, err := s.Ranker.CheckDuplicate(ctx, req.Description, req.Tags, req.Threshold)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Duplicate check failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// RecordFailure records a failed invocation against a tool and applies
// the quality demotion.
// (POST /api/v1/tools/:id/failures)
func (s *Server) RecordFailure(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Scenario     string          `json:"scenario"`
		ErrorMessage string          `json:"error_message"`
		Severity     models.Severity `json:"severity,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Severity == "" {
		req.Severity = models.SeverityMedium
	}

	report, err := s.Quality.RecordFailure(ctx, c.Param("id"), req.Scenario, req.ErrorMessage, req.Severity)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to record failure: "+err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

// ListFailures returns the recorded failure history of a tool.
// (GET /api/v1/tools/:id/failures)
func (s *Server) ListFailures(c echo.Context) error {
	ctx := c.Request().Context()

	failures, err := s.Ledger.FailuresFor(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, failures)
}

// PutFixPattern stores a proven fix for an error signature.
// (PUT /api/v1/fix-patterns)
func (s *Server) PutFixPattern(c echo.Context) error {
	ctx := c.Request().Context()

	var pattern models.FixPattern
	if err := c.Bind(&pattern); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if pattern.ErrorType == "" || pattern.FixedCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "error_type and fixed_code are required")
	}

	artifact, err := s.Fixes.StoreFixPattern(ctx, pattern)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store fix pattern: "+err.Error())
	}
	return c.JSON(http.StatusOK, artifact)
}

// FindFixPatterns searches stored fixes for an error signature.
// (POST /api/v1/fix-patterns/search)
func (s *Server) FindFixPatterns(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ErrorType string `json:"error_type,omitempty"`
		Language  string `json:"language,omitempty"`
		Query     string `json:"query"`
		TopK      int    `json:"top_k,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	matches, err := s.Fixes.FindFixPatterns(ctx, req.ErrorType, req.Language, req.Query, req.TopK)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Fix pattern search failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, matches)
}

// MarkFixApplied bumps the usage counter of a fix pattern after it
// resolved an error.
// (POST /api/v1/fix-patterns/:id/applied)
func (s *Server) MarkFixApplied(c echo.Context) error {
	ctx := c.Request().Context()

	found, err := s.Fixes.MarkFixApplied(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "Fix pattern not found: "+c.Param("id"))
	}
	return c.JSON(http.StatusOK, map[string]bool{"applied": true})
}

// ListPins returns every pinned tool version.
// (GET /api/v1/pins)
func (s *Server) ListPins(c echo.Context) error {
	pins, err := s.Pins.ListPins(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pins)
}

// PutPin pins a tool version against trimming. An omitted version pins
// the tool's current catalog version.
// (PUT /api/v1/pins)
func (s *Server) PutPin(c echo.Context) error {
	ctx := c.Request().Context()

	var req services.PinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if email, ok := auth.UserEmail(ctx); ok && req.PinnedBy == "" {
		req.PinnedBy = email
	}

	pin, err := s.Pins.Pin(ctx, req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to pin: "+err.Error())
	}
	return c.JSON(http.StatusOK, pin)
}

// DeletePin removes a pin.
// (DELETE /api/v1/pins)
func (s *Server) DeletePin(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ToolID     string `json:"tool_id"`
		Version    string `json:"version"`
		WorkflowID string `json:"workflow_id,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	removed, err := s.Pins.Unpin(ctx, req.ToolID, req.Version, req.WorkflowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to unpin: "+err.Error())
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, "Pin not found")
	}
	return c.JSON(http.StatusOK, map[string]bool{"removed": true})
}
