package web

// Shared request parsing for the handlers.

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/fieldexport/internal/core"
)

// dateLayouts are accepted for the from/to export filters.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	val := strings.TrimSpace(r.URL.Query().Get(name))
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", core.ErrInvalidRequest, name)
	}
	return i, nil
}

// parseTimeParam parses an optional date or timestamp query parameter.
// Values without a zone are read as UTC.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	val := strings.TrimSpace(r.URL.Query().Get(name))
	if val == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", core.ErrInvalidRequest, name)
}

// indexParam reads the {index} path parameter.
func indexParam(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%w: mapping index must be a non-negative integer", core.ErrInvalidRequest)
	}
	return i, nil
}

// requireUser returns the acting user or errUnauthenticated.
func requireUser(r *http.Request) (int64, error) {
	id := core.UserIDFromContext(r.Context())
	if id == 0 {
		return 0, errUnauthenticated
	}
	return id, nil
}
