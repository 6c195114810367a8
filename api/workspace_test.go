package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/session"
)

type fakeFiles map[string][]files.Record

func (f fakeFiles) Files(_ context.Context, teamID string) ([]files.Record, bool, error) {
	if teamID == "broken" {
		return nil, false, errors.New("database down")
	}
	records, ok := f[teamID]
	return records, ok, nil
}

type fakeUploader struct {
	teamID  string
	records []files.Record
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, teamID string, records []files.Record) (string, error) {
	u.teamID, u.records = teamID, records
	if u.err != nil {
		return "", u.err
	}
	return "https://s3.example.com/" + teamID + ".zip?sig=1", nil
}

func newTestMux(uploader Uploader) (*http.ServeMux, *session.Registry) {
	registry := session.NewRegistry()
	source := fakeFiles{
		"42": {
			{ID: "1", Path: "src", Kind: files.KindFolder},
			{ID: "2", Path: "src/main.py", Kind: files.KindFile, Content: "print(2)"},
		},
	}
	mux := http.NewServeMux()
	NewWorkspaceHandler(registry, source, uploader).Register(mux)
	return mux, registry
}

func TestWorkspaceHandler_List(t *testing.T) {
	mux, registry := newTestMux(nil)
	registry.Join("42", session.Participant{ConnID: "a", Name: "Ann"})
	registry.Join("7", session.Participant{ConnID: "b", Name: "Bob"})

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp struct {
		Workspaces []session.Summary `json:"workspaces"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Workspaces) != 2 {
		t.Errorf("expected 2 workspaces, got %d", len(resp.Workspaces))
	}
}

func TestWorkspaceHandler_Files(t *testing.T) {
	mux, registry := newTestMux(nil)
	registry.Join("42", session.Participant{ConnID: "a", Name: "Ann"})

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/42/files", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp struct {
		Files        []files.Record        `json:"files"`
		Participants []session.Participant `json:"participants"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Files) != 2 || len(resp.Participants) != 1 {
		t.Errorf("expected 2 files and 1 participant, got %d and %d", len(resp.Files), len(resp.Participants))
	}
}

func TestWorkspaceHandler_Download(t *testing.T) {
	mux, _ := newTestMux(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/42/export", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("expected application/zip, got %q", ct)
	}
	want := `attachment; filename="team-42.zip"`
	if cd := rec.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("expected %q, got %q", want, cd)
	}

	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "src/" || zr.File[1].Name != "src/main.py" {
		t.Errorf("unexpected archive entries %v", zr.File)
	}
}

func TestWorkspaceHandler_Errors(t *testing.T) {
	mux, _ := newTestMux(nil)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown team", http.MethodGet, "/api/workspaces/99/export", http.StatusNotFound},
		{"store failure", http.MethodGet, "/api/workspaces/broken/files", http.StatusInternalServerError},
		{"upload not configured", http.MethodPost, "/api/workspaces/42/export", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestWorkspaceHandler_Upload(t *testing.T) {
	uploader := &fakeUploader{}
	mux, _ := newTestMux(uploader)

	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/42/export", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	var resp struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.URL == "" || resp.Name != "team-42.zip" {
		t.Errorf("unexpected response %+v", resp)
	}
	if uploader.teamID != "42" || len(uploader.records) != 2 {
		t.Errorf("expected team 42 records uploaded, got %q with %d records", uploader.teamID, len(uploader.records))
	}
}

func TestWorkspaceHandler_UploadFailure(t *testing.T) {
	mux, _ := newTestMux(&fakeUploader{err: errors.New("bucket missing")})

	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/42/export", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rec.Code)
	}
}
