// Package api binds the service's components to HTTP handlers following the
// response/error conventions established in internal/apierror and the
// echo.Context idioms from the teacher's http package.
package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ronkoch2-code/code-standards-auditor/internal/apierror"
	"github.com/ronkoch2-code/code-standards-auditor/internal/batch"
	"github.com/ronkoch2-code/code-standards-auditor/internal/cache"
	"github.com/ronkoch2-code/code-standards-auditor/internal/graphstore"
	"github.com/ronkoch2-code/code-standards-auditor/internal/llm"
	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
	"github.com/ronkoch2-code/code-standards-auditor/internal/syncengine"
	"github.com/ronkoch2-code/code-standards-auditor/internal/workflow"
)

// Handlers bundles every component the HTTP surface delegates to.
type Handlers struct {
	Store        graphstore.Store
	Cache        cache.Cache
	Manager      *llm.Manager
	Dispatcher   *batch.Dispatcher
	Sync         *syncengine.Engine
	Orchestrator *workflow.Orchestrator
	Recommender  workflow.Recommender
	Validators   []workflow.Validator
	Logger       *logging.ContextLogger

	ServiceName string
	Version     string
}

// severityRank orders Severity from least to most urgent for thresholding
// and prioritized sorting.
func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 4
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	default:
		return 1
	}
}

// standardContext returns the first standard matching language as a
// *model.StandardDraft for use as recommender context, or nil if none match.
func standardContext(standards []model.Standard) *model.StandardDraft {
	if len(standards) == 0 {
		return nil
	}
	s := standards[0]
	return &model.StandardDraft{
		Name: s.Name, Language: s.Language, Category: s.Category,
		Severity: s.Severity, Description: s.Description, Version: s.Version,
	}
}

func requestID(c echo.Context) string {
	if v, ok := c.Get("request_id").(string); ok {
		return v
	}
	return ""
}

func writeAPIError(c echo.Context, err *apierror.Error) error {
	err.Path = c.Request().URL.Path
	err.RequestID = requestID(c)
	return c.JSON(err.Status, err)
}

// Identity handles GET /.
func (h *Handlers) Identity(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"service": h.ServiceName,
		"version": h.Version,
	})
}

// CollaboratorStatus is one dependency's readiness as reported by Health.
type CollaboratorStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// Health handles GET /api/v1/health.
func (h *Handlers) Health(c echo.Context) error {
	collaborators := []CollaboratorStatus{}
	overall := "healthy"

	if h.Manager != nil {
		for _, snap := range h.Manager.HealthSnapshot() {
			collaborators = append(collaborators, CollaboratorStatus{
				Name: "llm:" + snap.Name, Available: snap.Available, Detail: snap.LastError,
			})
			if !snap.Available {
				overall = "degraded"
			}
		}
	}

	if h.Store != nil {
		ctx := c.Request().Context()
		if _, err := h.Store.CountStandards(ctx); err != nil {
			collaborators = append(collaborators, CollaboratorStatus{Name: "graphstore", Available: false, Detail: err.Error()})
			overall = "degraded"
		} else {
			collaborators = append(collaborators, CollaboratorStatus{Name: "graphstore", Available: true})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        overall,
		"collaborators": collaborators,
	})
}

// ListStandards handles GET /api/v1/standards/list.
func (h *Handlers) ListStandards(c echo.Context) error {
	criteria := graphstore.Criteria{Language: c.QueryParam("language")}
	if cat := c.QueryParam("category"); cat != "" {
		criteria.Category = model.Category(cat)
	}
	if activeParam := c.QueryParam("active"); activeParam != "" {
		active := activeParam == "true"
		criteria.Active = &active
	}

	standards, err := h.Store.FindByCriteria(c.Request().Context(), criteria)
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}

	limit, offset := paginationParams(c)
	total := len(standards)
	standards = paginate(standards, limit, offset)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"standards": standards,
		"total":     total,
	})
}

func paginationParams(c echo.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func paginate(standards []model.Standard, limit, offset int) []model.Standard {
	if offset >= len(standards) {
		return []model.Standard{}
	}
	end := offset + limit
	if end > len(standards) {
		end = len(standards)
	}
	return standards[offset:end]
}

// GetStandard handles GET /api/v1/standards/{id}.
func (h *Handlers) GetStandard(c echo.Context) error {
	id := c.Param("id")
	standards, err := h.Store.FindByCriteria(c.Request().Context(), graphstore.Criteria{})
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}
	for _, s := range standards {
		if s.ID == id {
			return c.JSON(http.StatusOK, s)
		}
	}
	return writeAPIError(c, apierror.NotFound("standard not found: "+id))
}

// SearchStandardsRequest is the body for agent-facing search.
type SearchStandardsRequest struct {
	Query     string  `json:"query"`
	Language  string  `json:"language,omitempty"`
	Category  string  `json:"category,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// SearchStandards handles POST /api/v1/agent/search-standards.
func (h *Handlers) SearchStandards(c echo.Context) error {
	var req SearchStandardsRequest
	if err := c.Bind(&req); err != nil {
		return writeAPIError(c, apierror.BadRequest("invalid request body"))
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	results, err := h.Store.SemanticSearch(c.Request().Context(), req.Query, req.Limit, req.Threshold)
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

// AnalyzeCodeRequest is the body for code analysis / recommendations.
type AnalyzeCodeRequest struct {
	Code              string `json:"code"`
	Language          string `json:"language"`
	FocusArea         string `json:"focus_area,omitempty"`
	PriorityThreshold string `json:"priority_threshold,omitempty"`
}

// analyzeCode runs req.Code through the recommender against whatever
// standards match req.Language, returning the raw recommendation list in
// priority order (most severe first).
func (h *Handlers) analyzeCode(c echo.Context, req AnalyzeCodeRequest) ([]workflow.Recommendation, error) {
	ctx := c.Request().Context()
	standards, err := h.Store.FindByCriteria(ctx, graphstore.Criteria{Language: req.Language})
	if err != nil {
		return nil, err
	}

	sample := model.CodeSample{Language: req.Language, Content: req.Code}
	recs, err := h.Recommender.Recommend(ctx, sample, standardContext(standards))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return severityRank(recs[i].Severity) > severityRank(recs[j].Severity)
	})
	return recs, nil
}

// AnalyzeCode handles POST /api/v1/agent/analyze-code: returns violations
// (the critical/high-severity subset) and the full prioritized
// recommendation list.
func (h *Handlers) AnalyzeCode(c echo.Context) error {
	var req AnalyzeCodeRequest
	if err := c.Bind(&req); err != nil {
		return writeAPIError(c, apierror.BadRequest("invalid request body"))
	}
	if strings.TrimSpace(req.Code) == "" {
		return writeAPIError(c, apierror.BadRequest("code must not be empty"))
	}

	recs, err := h.analyzeCode(c, req)
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}

	violations := make([]workflow.Recommendation, 0, len(recs))
	for _, r := range recs {
		if severityRank(r.Severity) >= severityRank(model.SeverityHigh) {
			violations = append(violations, r)
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"violations":      violations,
		"recommendations": recs,
	})
}

// GetRecommendations handles POST /api/v1/standards/recommendations: returns
// recommendations ranked by severity and filtered at or above
// req.PriorityThreshold.
func (h *Handlers) GetRecommendations(c echo.Context) error {
	var req AnalyzeCodeRequest
	if err := c.Bind(&req); err != nil {
		return writeAPIError(c, apierror.BadRequest("invalid request body"))
	}
	if strings.TrimSpace(req.Code) == "" {
		return writeAPIError(c, apierror.BadRequest("code must not be empty"))
	}

	recs, err := h.analyzeCode(c, req)
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}

	threshold := severityRank(model.SeverityLow)
	if req.PriorityThreshold != "" {
		threshold = severityRank(model.Severity(req.PriorityThreshold))
	}
	filtered := make([]workflow.Recommendation, 0, len(recs))
	for _, r := range recs {
		if severityRank(r.Severity) >= threshold {
			filtered = append(filtered, r)
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"recommendations": filtered})
}

// ValidateStandardRequest is the body for POST /api/v1/standards/validate.
type ValidateStandardRequest struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description"`
	Version     string `json:"version,omitempty"`
}

// ValidateStandard handles POST /api/v1/standards/validate: runs the five
// quality validators against a supplied (not-yet-persisted) Standard and
// returns their scores.
func (h *Handlers) ValidateStandard(c echo.Context) error {
	var req ValidateStandardRequest
	if err := c.Bind(&req); err != nil {
		return writeAPIError(c, apierror.BadRequest("invalid request body"))
	}
	if strings.TrimSpace(req.Name) == "" {
		return writeAPIError(c, apierror.BadRequest("name must not be empty"))
	}

	draft := model.StandardDraft{
		Name: req.Name, Language: req.Language, Category: model.Category(req.Category),
		Description: req.Description, Version: req.Version,
	}
	doc := workflow.Documentation{Guide: req.Description, QuickReference: req.Description}
	report := workflow.RunValidators(c.Request().Context(), h.Validators, draft, doc)
	return c.JSON(http.StatusOK, report)
}

// CreateStandardRequest triggers the research pipeline.
type CreateStandardRequest struct {
	Topic       string `json:"topic"`
	Category    string `json:"category,omitempty"`
	Language    string `json:"language,omitempty"`
	AutoApprove bool   `json:"auto_approve,omitempty"`
}

// CreateStandard handles POST /api/v1/standards/research.
func (h *Handlers) CreateStandard(c echo.Context) error {
	var req CreateStandardRequest
	if err := c.Bind(&req); err != nil {
		return writeAPIError(c, apierror.BadRequest("invalid request body"))
	}
	if strings.TrimSpace(req.Topic) == "" {
		return writeAPIError(c, apierror.BadRequest("topic must not be empty"))
	}

	id := h.Orchestrator.Start(workflow.Request{Requirements: req.Topic})
	return c.JSON(http.StatusAccepted, map[string]interface{}{"workflow_id": id})
}

// UpdateStandardRequest carries the fields PUT accepts. Description and
// Version are applied; Active is decoded but not applied, since the upsert
// always stores the standard as active.
type UpdateStandardRequest struct {
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

// UpdateStandard handles PUT /api/v1/standards/{id}.
func (h *Handlers) UpdateStandard(c echo.Context) error {
	id := c.Param("id")
	var req UpdateStandardRequest
	if err := c.Bind(&req); err != nil {
		return writeAPIError(c, apierror.BadRequest("invalid request body"))
	}

	standards, err := h.Store.FindByCriteria(c.Request().Context(), graphstore.Criteria{})
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}
	var existing *model.Standard
	for i := range standards {
		if standards[i].ID == id {
			existing = &standards[i]
			break
		}
	}
	if existing == nil {
		return writeAPIError(c, apierror.NotFound("standard not found: "+id))
	}

	draft := model.StandardDraft{
		Name: existing.Name, Language: existing.Language, Category: existing.Category,
		Severity: existing.Severity, Description: existing.Description, Version: req.Version,
	}
	if req.Description != "" {
		draft.Description = req.Description
	}
	updated, err := h.Store.UpsertStandard(c.Request().Context(), draft, existing.FileSource)
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteStandard handles DELETE /api/v1/standards/{id}: it answers 204 when
// a standard with that id exists and 404 otherwise. The stored standard is
// left unchanged; it is neither removed nor marked inactive.
func (h *Handlers) DeleteStandard(c echo.Context) error {
	id := c.Param("id")
	standards, err := h.Store.FindByCriteria(c.Request().Context(), graphstore.Criteria{})
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}
	for _, s := range standards {
		if s.ID == id {
			return c.NoContent(http.StatusNoContent)
		}
	}
	return writeAPIError(c, apierror.NotFound("standard not found: "+id))
}

// StartWorkflowRequest is the body for POST /api/v1/workflow/start.
type StartWorkflowRequest struct {
	Requirements   string                 `json:"requirements"`
	CodeSamples    []model.CodeSample     `json:"code_samples,omitempty"`
	ProjectContext map[string]interface{} `json:"project_context,omitempty"`
	Preferences    map[string]interface{} `json:"preferences,omitempty"`
}

// StartWorkflow handles POST /api/v1/workflow/start.
func (h *Handlers) StartWorkflow(c echo.Context) error {
	var req StartWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return writeAPIError(c, apierror.BadRequest("invalid request body"))
	}
	if strings.TrimSpace(req.Requirements) == "" {
		return writeAPIError(c, apierror.BadRequest("requirements must not be empty"))
	}

	id := h.Orchestrator.Start(workflow.Request{
		Requirements:   req.Requirements,
		CodeSamples:    req.CodeSamples,
		ProjectContext: req.ProjectContext,
		Preferences:    req.Preferences,
	})
	return c.JSON(http.StatusAccepted, map[string]interface{}{"workflow_id": id})
}

// WorkflowStatus handles GET /api/v1/workflow/{id}/status.
func (h *Handlers) WorkflowStatus(c echo.Context) error {
	id := c.Param("id")
	result, ok := h.Orchestrator.Status(id)
	if !ok {
		return writeAPIError(c, apierror.NotFound("workflow not found: "+id))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflow_id": result.WorkflowID,
		"status":      result.Status,
		"phase":       result.Phase,
	})
}

// WorkflowResults handles GET /api/v1/workflow/{id}/results.
func (h *Handlers) WorkflowResults(c echo.Context) error {
	id := c.Param("id")
	result, ok := h.Orchestrator.Status(id)
	if !ok {
		return writeAPIError(c, apierror.NotFound("workflow not found: "+id))
	}
	return c.JSON(http.StatusOK, result)
}

// WorkflowReport handles GET /api/v1/workflow/{id}/report?format=json|markdown.
func (h *Handlers) WorkflowReport(c echo.Context) error {
	id := c.Param("id")
	result, ok := h.Orchestrator.Status(id)
	if !ok {
		return writeAPIError(c, apierror.NotFound("workflow not found: "+id))
	}

	format := c.QueryParam("format")
	if format == "markdown" {
		var b strings.Builder
		b.WriteString("# Workflow Report\n\n")
		b.WriteString("- ID: " + result.WorkflowID + "\n")
		b.WriteString("- Status: " + string(result.Status) + "\n")
		b.WriteString("- Phase: " + string(result.Phase) + "\n")
		if feedback, ok := result.Results[model.PhaseFeedback].(string); ok {
			b.WriteString("\n" + feedback + "\n")
		}
		return c.String(http.StatusOK, b.String())
	}
	return c.JSON(http.StatusOK, result)
}

// CancelWorkflow handles DELETE /api/v1/workflow/{id}/cancel.
func (h *Handlers) CancelWorkflow(c echo.Context) error {
	id := c.Param("id")
	if !h.Orchestrator.Cancel(id) {
		return writeAPIError(c, apierror.NotFound("workflow not found: "+id))
	}
	return c.NoContent(http.StatusAccepted)
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handlers) SyncStatus(c echo.Context) error {
	status, err := h.Sync.Status(c.Request().Context())
	if err != nil {
		return writeAPIError(c, apierror.Unavailable(err.Error()))
	}
	return c.JSON(http.StatusOK, status)
}

// TriggerSync handles POST /api/v1/sync/trigger?force=bool.
func (h *Handlers) TriggerSync(c echo.Context) error {
	force := c.QueryParam("force") == "true"
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Minute)
	defer cancel()

	stats, err := h.Sync.SyncAll(ctx, force)
	if err != nil {
		return writeAPIError(c, apierror.Internal(err.Error()))
	}
	return c.JSON(http.StatusOK, stats)
}

// RegisterRoutes binds every HTTP surface operation in spec.md §6 to e.
func RegisterRoutes(e *echo.Echo, h *Handlers) {
	e.GET("/", h.Identity)
	e.GET("/api/v1/health", h.Health)

	e.POST("/api/v1/standards/research", h.CreateStandard)
	e.POST("/api/v1/standards/recommendations", h.GetRecommendations)
	e.POST("/api/v1/standards/validate", h.ValidateStandard)
	e.GET("/api/v1/standards/list", h.ListStandards)
	e.GET("/api/v1/standards/:id", h.GetStandard)
	e.PUT("/api/v1/standards/:id", h.UpdateStandard)
	e.DELETE("/api/v1/standards/:id", h.DeleteStandard)

	e.POST("/api/v1/agent/search-standards", h.SearchStandards)
	e.POST("/api/v1/agent/analyze-code", h.AnalyzeCode)

	e.POST("/api/v1/workflow/start", h.StartWorkflow)
	e.GET("/api/v1/workflow/:id/status", h.WorkflowStatus)
	e.GET("/api/v1/workflow/:id/results", h.WorkflowResults)
	e.GET("/api/v1/workflow/:id/report", h.WorkflowReport)
	e.DELETE("/api/v1/workflow/:id/cancel", h.CancelWorkflow)

	e.GET("/api/v1/sync/status", h.SyncStatus)
	e.POST("/api/v1/sync/trigger", h.TriggerSync)
}
