package api

import (
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
)

// Server is the API server for managing and querying the engram memory store
type Server struct {
	config Config
	engine *engine.Engine
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server over an engine. The optional mcpHandler
// is mounted at /mcp when Config.EnableMCP is set.
func NewServer(config Config, eng *engine.Engine, mcpHandler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		engine: eng,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/ingest", s.handleIngest)
	app.Post("/resources/:id/extract", s.handleExtract)
	app.Post("/process", s.handleProcess)

	app.Post("/retrieve", s.handleRetrieve)
	app.Post("/context", s.handleContext)

	app.Post("/facts", s.handleCreateFact)
	app.Get("/facts", s.handleListFacts)
	app.Get("/facts/:id", s.handleGetFact)
	app.Get("/categories", s.handleListCategories)
	app.Get("/resources", s.handleListResources)
	app.Get("/resources/:id", s.handleGetResource)
	app.Get("/graph/:entity", s.handleGraphNeighbors)

	app.Get("/jobs", s.handleListJobs)
	app.Post("/jobs/:name", s.handleRunJob)

	app.Get("/stats", s.handleStats)

	if config.EnableMCP && mcpHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(mcpHandler))
	}

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
