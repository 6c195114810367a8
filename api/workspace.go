// Package api serves the REST endpoints next to the websocket transport.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/roboleague/collab/export"
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/metrics"
	"github.com/roboleague/collab/session"
)

// FileSource returns the records of a team workspace.
type FileSource interface {
	Files(ctx context.Context, teamID string) ([]files.Record, bool, error)
}

// Uploader stores an archive and returns a link to download it.
type Uploader interface {
	Upload(ctx context.Context, teamID string, records []files.Record) (string, error)
}

// WorkspaceHandler handles workspace REST endpoints.
type WorkspaceHandler struct {
	registry *session.Registry
	files    FileSource
	uploader Uploader
}

// NewWorkspaceHandler creates a workspace handler. uploader may be nil, in
// which case POST exports answer 501.
func NewWorkspaceHandler(registry *session.Registry, files FileSource, uploader Uploader) *WorkspaceHandler {
	return &WorkspaceHandler{registry: registry, files: files, uploader: uploader}
}

// HandleList handles GET /api/workspaces
func (h *WorkspaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"workspaces": h.registry.List(),
	})
}

// HandleFiles handles GET /api/workspaces/{team}/files
func (h *WorkspaceHandler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	records, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files":        records,
		"participants": h.registry.Participants(r.PathValue("team")),
	})
}

// HandleDownload handles GET /api/workspaces/{team}/export
func (h *WorkspaceHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	records, ok := h.lookup(w, r)
	if !ok {
		return
	}
	teamID := r.PathValue("team")

	// Build in memory so a failure can still become a 500.
	var buf bytes.Buffer
	if err := export.WriteArchive(&buf, records); err != nil {
		metrics.RecordExport("download", false)
		slog.Error("failed to build archive", "teamId", teamID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	metrics.RecordExport("download", true)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.ArchiveName(teamID)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HandleUpload handles POST /api/workspaces/{team}/export
func (h *WorkspaceHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		http.Error(w, "Export storage not configured", http.StatusNotImplemented)
		return
	}
	records, ok := h.lookup(w, r)
	if !ok {
		return
	}
	teamID := r.PathValue("team")

	url, err := h.uploader.Upload(r.Context(), teamID, records)
	if err != nil {
		slog.Error("failed to upload archive", "teamId", teamID, "error", err)
		http.Error(w, "Upload failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"url":  url,
		"name": export.ArchiveName(teamID),
	})
}

func (h *WorkspaceHandler) lookup(w http.ResponseWriter, r *http.Request) ([]files.Record, bool) {
	teamID := r.PathValue("team")
	if teamID == "" {
		http.Error(w, "Team ID required", http.StatusBadRequest)
		return nil, false
	}

	records, found, err := h.files.Files(r.Context(), teamID)
	if err != nil {
		slog.Error("failed to load workspace", "teamId", teamID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !found {
		http.Error(w, "Workspace not found", http.StatusNotFound)
		return nil, false
	}
	return records, true
}

// Register registers workspace handlers to the given mux.
func (h *WorkspaceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workspaces", h.HandleList)
	mux.HandleFunc("GET /api/workspaces/{team}/files", h.HandleFiles)
	mux.HandleFunc("GET /api/workspaces/{team}/export", h.HandleDownload)
	mux.HandleFunc("POST /api/workspaces/{team}/export", h.HandleUpload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
