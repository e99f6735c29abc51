package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
)

// APIHandler handles the read-only API requests
type APIHandler struct {
	store store.Store
	runs  store.RunStore
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(st store.Store, runs store.RunStore) *APIHandler {
	return &APIHandler{store: st, runs: runs}
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// GetStats handles GET /api/clients/stats
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ClientStats(r.Context())
	if err != nil {
		log.Printf("ERROR: Failed to compute client stats: %v", err)
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Printf("ERROR: Failed to encode stats: %v", err)
	}
}

// GetClient handles GET /api/clients/{key}
func (h *APIHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	client, err := h.store.GetClient(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ERROR: Failed to fetch client %s: %v", key, err)
		http.Error(w, "Failed to fetch client", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(client); err != nil {
		log.Printf("ERROR: Failed to encode client %s: %v", key, err)
	}
}

// ListRuns handles GET /api/import
func (h *APIHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns(r.Context(), 50)
	if err != nil {
		log.Printf("ERROR: Failed to list runs: %v", err)
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*store.ImportRun{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runs); err != nil {
		log.Printf("ERROR: Failed to encode runs: %v", err)
	}
}

// GetRun handles GET /api/import/{id}
func (h *APIHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ERROR: Failed to fetch run %s: %v", id, err)
		http.Error(w, "Failed to fetch run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(run); err != nil {
		log.Printf("ERROR: Failed to encode run %s: %v", id, err)
	}
}
