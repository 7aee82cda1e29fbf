package web

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/export"
	"github.com/JonMunkholm/fieldexport/internal/store"
)

// ExportFileResponse describes one table file of an archive.
type ExportFileResponse struct {
	Name    string `json:"name"`
	Rows    int    `json:"rows"`
	Skipped int    `json:"skipped"`
}

// ExportResponse summarises a finished run.
type ExportResponse struct {
	RunID      string               `json:"run_id"`
	Archive    string               `json:"archive"`
	MapIndex   int                  `json:"map_index"`
	Rows       int                  `json:"rows"`
	Skipped    int                  `json:"skipped"`
	DurationMS int64                `json:"duration_ms"`
	Files      []ExportFileResponse `json:"files"`
}

func toExportResponse(res *export.Result) ExportResponse {
	resp := ExportResponse{
		RunID:      res.RunID,
		Archive:    filepath.Base(res.ArchivePath),
		MapIndex:   res.MapIndex,
		Rows:       res.Rows(),
		Skipped:    res.Skipped(),
		DurationMS: res.Duration.Milliseconds(),
		Files:      make([]ExportFileResponse, 0, len(res.Files)),
	}
	for _, f := range res.Files {
		resp.Files = append(resp.Files, ExportFileResponse{Name: f.Name, Rows: f.Rows, Skipped: f.Skipped})
	}
	return resp
}

// handleExport builds a fresh archive and streams it back. With
// download=false only the run summary is returned; the archive can be
// fetched later from /exports/{format}.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	req := core.ExportRequest{
		Slug:   chi.URLParam(r, "slug"),
		UserID: userID,
		Format: r.URL.Query().Get("format"),
	}
	if req.MapIndex, err = parseIntParam(r, "map_index", 0); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.From, err = parseTimeParam(r, "from"); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.To, err = parseTimeParam(r, "to"); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.api.Export(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("X-Export-Run-Id", res.RunID)
	w.Header().Set("X-Export-Rows", fmt.Sprint(res.Rows()))
	w.Header().Set("X-Export-Skipped", fmt.Sprint(res.Skipped()))

	if r.URL.Query().Get("download") == "false" {
		render.JSON(w, r, toExportResponse(res))
		return
	}
	s.serveArchive(w, r, res.ArchivePath)
}

// handleDownloadArchive serves the archive left by the user's last run.
func (s *Server) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	path, err := s.api.ArchivePath(r.Context(), chi.URLParam(r, "slug"), userID, chi.URLParam(r, "format"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.serveArchive(w, r, path)
}

func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = core.ErrArchiveNotFound
		}
		s.respondError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleExportHistory lists the project's latest export runs.
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 20)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	runs, err := s.api.ExportHistory(r.Context(), chi.URLParam(r, "slug"), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.ExportRun{}
	}
	render.JSON(w, r, map[string]any{
		"runs": runs,
	})
}

// handleResetExports deletes the user's archives for the project.
func (s *Server) handleResetExports(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.api.ResetExports(r.Context(), chi.URLParam(r, "slug"), userID); err != nil {
		s.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "reset"})
}
