package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/config"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/ingest"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/normalize"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/rebuild"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/registry"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/source"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/streaming"
)

// ImportHandlers handles import-related requests
type ImportHandlers struct {
	store    store.Store
	runs     store.RunStore
	hub      *streaming.StreamHub
	registry *registry.Registry
	cfg      *config.Config
}

// NewImportHandlers creates a new import handlers instance
func NewImportHandlers(st store.Store, runs store.RunStore, hub *streaming.StreamHub, cfg *config.Config) *ImportHandlers {
	return &ImportHandlers{
		store:    st,
		runs:     runs,
		hub:      hub,
		registry: registry.New(),
		cfg:      cfg,
	}
}

// StartImport handles POST /api/import/start. The upload is copied to a
// temp file and processed in the background; the response carries the run
// id to poll or stream.
func (h *ImportHandlers) StartImport(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form (max 100MB)
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		http.Error(w, "No files uploaded", http.StatusBadRequest)
		return
	}
	branchID := r.FormValue("branch")

	runID := uuid.New().String()
	run := &store.ImportRun{
		ID:        runID,
		FileName:  files[0].Filename,
		BranchID:  branchID,
		Status:    store.RunStatusPending,
		CreatedAt: time.Now(),
	}
	if err := h.runs.CreateRun(r.Context(), run); err != nil {
		log.Printf("ERROR: Failed to create import run: %v", err)
		http.Error(w, "Failed to create run", http.StatusInternalServerError)
		return
	}

	paths, err := saveUploads(runID, files)
	if err != nil {
		log.Printf("ERROR: Failed to store upload: %v", err)
		http.Error(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}

	go h.processFiles(context.Background(), run, paths, branchID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"runId":%q}`, runID)
}

// saveUploads copies each uploaded file to a temp path named after the run.
func saveUploads(runID string, files []*multipart.FileHeader) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open uploaded file %s: %w", fh.Filename, err)
		}

		dstPath := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s", runID, filepath.Base(fh.Filename)))
		dst, err := os.Create(dstPath)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}

		_, err = io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", fh.Filename, err)
		}
		paths = append(paths, dstPath)
	}
	return paths, nil
}

// processFiles runs the import pipeline over the saved uploads, updating
// the run record and streaming progress as it goes.
func (h *ImportHandlers) processFiles(ctx context.Context, run *store.ImportRun, paths []string, branchID string) {
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()

	run.Status = store.RunStatusProcessing
	if err := h.runs.UpdateRun(ctx, run); err != nil {
		log.Printf("ERROR: Failed to update run %s: %v", run.ID, err)
	}
	h.broadcastRun(run)

	norm := normalize.New(normalize.Options{
		DefaultBranchID:  firstNonEmpty(branchID, h.cfg.DefaultBranchID),
		PhoneCountryCode: h.cfg.PhoneCountryCode,
	})

	for _, path := range paths {
		res, err := h.importFile(ctx, run, path, norm)
		if err != nil {
			h.finishRun(ctx, run, err)
			return
		}
		run.TotalMerged += res.Merged
		run.TotalErrors += res.Errors
	}
	h.finishRun(ctx, run, nil)
}

func (h *ImportHandlers) importFile(ctx context.Context, run *store.ImportRun, path string, norm *normalize.Normalizer) (*ingest.Result, error) {
	reader, err := h.registry.FindReader(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	meta, err := source.NewMetadata(path, time.Now())
	if err != nil {
		return nil, err
	}
	meta.SetBranchID(run.BranchID)

	src, err := reader.Open(ctx, f, meta)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	imp := ingest.New(h.store, ingest.Options{
		BatchSize: h.cfg.BatchSize,
		OnProgress: func(p ingest.Progress) {
			h.hub.Broadcast(run.ID, streaming.SSEEvent{
				Type:      streaming.EventTypeProgress,
				Timestamp: time.Now(),
				Data: streaming.ProgressEvent{
					RunID:     run.ID,
					FileName:  filepath.Base(path),
					Processed: p.Processed,
					Merged:    run.TotalMerged + p.Merged,
					Errors:    run.TotalErrors + p.Errors,
				},
			})
		},
	})

	return imp.Run(ctx, src, norm)
}

// finishRun records the terminal state and broadcasts the final event.
func (h *ImportHandlers) finishRun(ctx context.Context, run *store.ImportRun, runErr error) {
	now := time.Now()
	run.CompletedAt = &now
	if runErr != nil {
		run.Status = store.RunStatusError
		run.Error = runErr.Error()
	} else {
		run.Status = store.RunStatusCompleted
	}
	if err := h.runs.UpdateRun(ctx, run); err != nil {
		log.Printf("ERROR: Failed to update run %s: %v", run.ID, err)
	}

	if runErr != nil {
		log.Printf("ERROR: Import run %s failed: %v", run.ID, runErr)
		h.hub.Broadcast(run.ID, streaming.SSEEvent{
			Type:      streaming.EventTypeError,
			Timestamp: now,
			Data:      streaming.ErrorEvent{RunID: run.ID, Message: runErr.Error()},
		})
		return
	}

	h.hub.Broadcast(run.ID, streaming.SSEEvent{
		Type:      streaming.EventTypeComplete,
		Timestamp: now,
		Data: streaming.CompleteEvent{
			RunID:   run.ID,
			Merged:  run.TotalMerged,
			Errors:  run.TotalErrors,
			Success: run.TotalErrors == 0,
		},
	})
}

func (h *ImportHandlers) broadcastRun(run *store.ImportRun) {
	h.hub.Broadcast(run.ID, streaming.SSEEvent{
		Type:      streaming.EventTypeRun,
		Timestamp: time.Now(),
		Data: streaming.RunEvent{
			ID:          run.ID,
			FileName:    run.FileName,
			BranchID:    run.BranchID,
			Status:      string(run.Status),
			CompletedAt: run.CompletedAt,
			Error:       run.Error,
		},
	})
}

// StreamEvents handles GET /api/import/{id}/events as Server-Sent Events.
func (h *ImportHandlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	if _, err := h.runs.GetRun(r.Context(), runID); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.hub.Register(r.Context(), runID)
	defer h.hub.Unregister(runID, client)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", streaming.EventTypeHeartbeat)
			flusher.Flush()
		case ev, ok := <-client.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				log.Printf("ERROR: Failed to encode %s event for run %s: %v", ev.Type, runID, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()

			if ev.Type == streaming.EventTypeComplete || ev.Type == streaming.EventTypeError {
				return
			}
		}
	}
}

// Rebuild handles POST /api/rebuild
func (h *ImportHandlers) Rebuild(w http.ResponseWriter, r *http.Request) {
	rb := rebuild.New(h.store, rebuild.Options{
		FlushSize:      h.cfg.Rebuild.FlushSize,
		PurgeMalformed: h.cfg.Rebuild.PurgeMalformed,
	})

	res, err := rb.Run(r.Context())
	if err != nil {
		log.Printf("ERROR: Rebuild failed: %v", err)
		http.Error(w, "Rebuild failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Printf("ERROR: Failed to encode rebuild result: %v", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
