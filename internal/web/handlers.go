package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
)

// handleHealth reports database reachability and export load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"exports": s.api.ExportStatus(),
	}
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = core.MapError(err).Message
			render.Status(r, http.StatusServiceUnavailable)
		}
	}
	render.JSON(w, r, resp)
}

// UniqueRequest is the body of a uniqueness check.
type UniqueRequest struct {
	Platform string          `json:"platform"`
	DeviceID string          `json:"device_id"`
	Entry    json.RawMessage `json:"entry"`
}

// handleCheckUnique answers whether a submitted entry may be saved. A
// duplicate answer is reported as 409 with the offending input.
func (s *Server) handleCheckUnique(w http.ResponseWriter, r *http.Request) {
	var body UniqueRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid request body", core.ErrInvalidRequest))
		return
	}
	if len(body.Entry) == 0 {
		s.respondError(w, r, fmt.Errorf("%w: entry is required", core.ErrInvalidRequest))
		return
	}

	err := s.api.CheckUnique(r.Context(), core.UniqueRequest{
		Slug:     chi.URLParam(r, "slug"),
		UserID:   core.UserIDFromContext(r.Context()),
		Platform: body.Platform,
		DeviceID: body.DeviceID,
		Entry:    body.Entry,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"unique": true})
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.api.ListMappings(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"mappings": mappings,
	})
}

// CreateMappingRequest copies an existing mapping under a new name.
type CreateMappingRequest struct {
	Name      string `json:"name"`
	FromIndex int    `json:"from_index"`
}

func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var req CreateMappingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid request body", core.ErrInvalidRequest))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.respondError(w, r, fmt.Errorf("%w: name is required", core.ErrInvalidRequest))
		return
	}

	m, err := s.api.CreateMapping(r.Context(), chi.URLParam(r, "slug"), req.Name, req.FromIndex)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, m)
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var m mapping.Mapping
	if err := render.DecodeJSON(r.Body, &m); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid request body", core.ErrInvalidRequest))
		return
	}

	updated, err := s.api.UpdateMapping(r.Context(), chi.URLParam(r, "slug"), index, m)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	render.JSON(w, r, updated)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.api.DeleteMapping(r.Context(), chi.URLParam(r, "slug"), index); err != nil {
		s.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "deleted"})
}
