package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/extraction"
	"github.com/papercomputeco/engram/pkg/jobs"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/store"
)

// ErrorResponse is the JSON error envelope for all failing requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestRequest is the body of POST /ingest.
type IngestRequest struct {
	Content  string            `json:"content"`
	Source   string            `json:"source,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Extract runs extraction synchronously instead of leaving the
	// resource for the pending backlog.
	Extract bool `json:"extract,omitempty"`
}

// FactRequest is the body of POST /facts: a structured fact written
// directly without going through extraction.
type FactRequest struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     *string `json:"object,omitempty"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ProcessRequest is the body of POST /process.
type ProcessRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ContextResponse is the body returned by POST /context.
type ContextResponse struct {
	Context string `json:"context"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleIngest stores raw content as a resource, optionally extracting
// facts from it immediately.
func (s *Server) handleIngest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "content is required"})
	}

	out, err := s.engine.Ingest(c.Context(), req.Content, req.Source, req.Metadata, req.Extract)
	if err != nil {
		var ve memory.ValidationError
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: ve.Error()})
		}
		s.logger.Error("ingest failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "ingest failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(out)
}

// handleExtract runs extraction on an already-stored resource.
func (s *Server) handleExtract(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid resource id"})
	}

	res, err := s.engine.Driver().GetResource(c.Context(), id)
	if err != nil {
		var nf memory.NotFoundError
		if errors.As(err, &nf) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "resource not found"})
		}
		s.logger.Error("loading resource failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "loading resource failed"})
	}

	results, err := s.engine.Extract(c.Context(), res)
	if err != nil {
		s.logger.Error("extraction failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "extraction failed"})
	}

	return c.JSON(map[string]any{
		"resource_id": res.ID,
		"results":     results,
	})
}

// handleProcess works through the pending-resource backlog.
func (s *Server) handleProcess(c *fiber.Ctx) error {
	var req ProcessRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	n, err := s.engine.ProcessPending(c.Context(), req.Limit)
	if err != nil {
		s.logger.Error("processing backlog failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "processing backlog failed"})
	}

	return c.JSON(map[string]int{"processed": n})
}

// handleRetrieve assembles a structured context response.
func (s *Server) handleRetrieve(c *fiber.Ctx) error {
	var req retrieval.Request
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	resp, err := s.engine.Retrieve(c.Context(), req)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "retrieval failed"})
	}

	return c.JSON(resp)
}

// handleContext assembles a context response rendered as markdown.
func (s *Server) handleContext(c *fiber.Ctx) error {
	var req retrieval.Request
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	text, err := s.engine.Context(c.Context(), req)
	if err != nil {
		s.logger.Error("context assembly failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "context assembly failed"})
	}

	return c.JSON(ContextResponse{Context: text})
}

// handleCreateFact writes one structured fact directly, bypassing extraction.
func (s *Server) handleCreateFact(c *fiber.Ctx) error {
	var req FactRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.engine.Remember(c.Context(), extraction.Candidate{
		Subject:    req.Subject,
		Predicate:  req.Predicate,
		Object:     req.Object,
		Category:   req.Category,
		Confidence: req.Confidence,
	})
	if err != nil {
		var ve memory.ValidationError
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: ve.Error()})
		}
		s.logger.Error("storing fact failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "storing fact failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// handleListFacts lists facts filtered by query parameters.
func (s *Server) handleListFacts(c *fiber.Ctx) error {
	filter := store.FactFilter{
		Category: c.Query("category"),
		Subject:  c.Query("subject"),
		Limit:    c.QueryInt("limit", 0),
		Offset:   c.QueryInt("offset", 0),
	}

	if status := c.Query("status"); status != "" {
		st := memory.Status(status)
		if !st.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid status"})
		}
		filter.Status = st
	}

	facts, err := s.engine.Driver().ListFacts(c.Context(), filter)
	if err != nil {
		s.logger.Error("listing facts failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "listing facts failed"})
	}

	return c.JSON(map[string]any{
		"count": len(facts),
		"facts": facts,
	})
}

// handleGetFact returns a single fact by id.
func (s *Server) handleGetFact(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid fact id"})
	}

	fact, err := s.engine.Driver().GetFact(c.Context(), id)
	if err != nil {
		var nf memory.NotFoundError
		if errors.As(err, &nf) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "fact not found"})
		}
		s.logger.Error("loading fact failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "loading fact failed"})
	}

	return c.JSON(fact)
}

// handleListCategories returns the authoritative category set with counts
// and cached summaries.
func (s *Server) handleListCategories(c *fiber.Ctx) error {
	ctx := c.Context()
	driver := s.engine.Driver()

	stats, err := driver.CategoryFactStats(ctx)
	if err != nil {
		s.logger.Error("listing categories failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "listing categories failed"})
	}

	cached, err := driver.ListCategories(ctx)
	if err != nil {
		s.logger.Error("listing summaries failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "listing summaries failed"})
	}
	summaries := make(map[string]*memory.Category, len(cached))
	for _, cat := range cached {
		summaries[cat.Name] = cat
	}

	type categoryInfo struct {
		Name    string `json:"name"`
		Count   int    `json:"count"`
		Summary string `json:"summary,omitempty"`
		Stale   bool   `json:"stale,omitempty"`
	}

	out := make([]categoryInfo, 0, len(stats))
	for name, st := range stats {
		info := categoryInfo{Name: name, Count: st.Count}
		if cat, ok := summaries[name]; ok {
			info.Summary = cat.Summary
			info.Stale = cat.Stale
		}
		out = append(out, info)
	}

	return c.JSON(map[string]any{
		"count":      len(out),
		"categories": out,
	})
}

// handleListResources lists ingested resources.
func (s *Server) handleListResources(c *fiber.Ctx) error {
	resources, err := s.engine.Driver().ListResources(c.Context(), store.ResourceFilter{
		Source: c.Query("source"),
		Limit:  c.QueryInt("limit", 0),
	})
	if err != nil {
		s.logger.Error("listing resources failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "listing resources failed"})
	}

	return c.JSON(map[string]any{
		"count":     len(resources),
		"resources": resources,
	})
}

// handleGetResource returns a single resource by id.
func (s *Server) handleGetResource(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid resource id"})
	}

	res, err := s.engine.Driver().GetResource(c.Context(), id)
	if err != nil {
		var nf memory.NotFoundError
		if errors.As(err, &nf) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "resource not found"})
		}
		s.logger.Error("loading resource failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "loading resource failed"})
	}

	return c.JSON(res)
}

// handleGraphNeighbors returns the knowledge graph edges touching an entity.
func (s *Server) handleGraphNeighbors(c *fiber.Ctx) error {
	entity := c.Params("entity")
	if entity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "entity parameter required"})
	}

	edges, err := s.engine.Driver().NeighborEdges(c.Context(), entity)
	if err != nil {
		s.logger.Error("listing neighbor edges failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "listing neighbor edges failed"})
	}

	return c.JSON(map[string]any{
		"entity": entity,
		"count":  len(edges),
		"edges":  edges,
	})
}

// handleListJobs returns the registered maintenance job names.
func (s *Server) handleListJobs(c *fiber.Ctx) error {
	return c.JSON(map[string]any{"jobs": s.engine.JobNames()})
}

// handleRunJob runs a maintenance job synchronously and returns its report.
func (s *Server) handleRunJob(c *fiber.Ctx) error {
	name := c.Params("name")

	report, err := s.engine.RunJob(c.Context(), name)
	if err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
		}
		s.logger.Error("job run failed", zap.String("job", name), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(report)
}

// handleStats returns store-level counts.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.engine.Stat(c.Context())
	if err != nil {
		s.logger.Error("gathering stats failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "gathering stats failed"})
	}

	return c.JSON(stats)
}
