package server

import (
	"net/http"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/config"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/handlers"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/middleware"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/streaming"
)

// Server represents the loan consolidation API server
type Server struct {
	store store.Store
	runs  store.RunStore
	mux   *http.ServeMux
}

// New creates a new server instance over an already-opened store. The store
// must also implement store.RunStore (all backends in this module do).
func New(st store.Store, runs store.RunStore, cfg *config.Config) *Server {
	s := &Server{
		store: st,
		runs:  runs,
		mux:   http.NewServeMux(),
	}
	s.setupRoutes(cfg)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg *config.Config) {
	// Health check
	s.mux.HandleFunc("GET /health", handlers.HealthCheck)

	apiHandler := handlers.NewAPIHandler(s.store, s.runs)

	// Import handlers with streaming hub
	hub := streaming.NewStreamHub()
	importHandler := handlers.NewImportHandlers(s.store, s.runs, hub, cfg)

	// Read-only API routes
	s.mux.HandleFunc("GET /api/clients/stats", apiHandler.GetStats)
	s.mux.HandleFunc("GET /api/clients/{key}", apiHandler.GetClient)
	s.mux.HandleFunc("GET /api/import", apiHandler.ListRuns)
	s.mux.HandleFunc("GET /api/import/{id}", apiHandler.GetRun)

	// Import endpoints
	s.mux.HandleFunc("POST /api/import/start", importHandler.StartImport)
	s.mux.HandleFunc("GET /api/import/{id}/events", importHandler.StreamEvents)
	s.mux.HandleFunc("POST /api/rebuild", importHandler.Rebuild)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return middleware.CORS(middleware.Logging(s.mux))
}

// Close closes the server resources
func (s *Server) Close() error {
	return s.store.Close()
}
