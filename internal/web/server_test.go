package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fieldexport/internal/config"
	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/export"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/store"
	"github.com/JonMunkholm/fieldexport/internal/unique"
)

// fakeAPI records the last request and returns canned results.
type fakeAPI struct {
	archive string

	exportReq   core.ExportRequest
	exportErr   error
	uniqueReq   core.UniqueRequest
	uniqueErr   error
	resetUser   int64
	created     string
	deleteErr   error
	runs        []store.ExportRun
	mappings    []mapping.Mapping
	updateIndex int
}

func (f *fakeAPI) Export(_ context.Context, req core.ExportRequest) (*export.Result, error) {
	f.exportReq = req
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return &export.Result{
		RunID:       "run-1",
		ArchivePath: f.archive,
		MapIndex:    req.MapIndex,
		Files:       []export.FileResult{{Name: "form-1.csv", Rows: 3, Skipped: 1}},
		Duration:    1500 * time.Millisecond,
	}, nil
}

func (f *fakeAPI) ArchivePath(_ context.Context, _ string, _ int64, format string) (string, error) {
	if format != "csv" {
		return "", core.ErrArchiveNotFound
	}
	return f.archive, nil
}

func (f *fakeAPI) ResetExports(_ context.Context, _ string, userID int64) error {
	f.resetUser = userID
	return nil
}

func (f *fakeAPI) ExportHistory(context.Context, string, int) ([]store.ExportRun, error) {
	return f.runs, nil
}

func (f *fakeAPI) ExportStatus() core.ExportLimiterStatus {
	return core.ExportLimiterStatus{Available: 3, MaxConcurrent: 3}
}

func (f *fakeAPI) CheckUnique(_ context.Context, req core.UniqueRequest) error {
	f.uniqueReq = req
	return f.uniqueErr
}

func (f *fakeAPI) ListMappings(context.Context, string) ([]mapping.Mapping, error) {
	return f.mappings, nil
}

func (f *fakeAPI) CreateMapping(_ context.Context, _ string, name string, fromIndex int) (mapping.Mapping, error) {
	f.created = name
	return mapping.Mapping{Name: name, MapIndex: fromIndex + 1}, nil
}

func (f *fakeAPI) UpdateMapping(_ context.Context, _ string, index int, m mapping.Mapping) (mapping.Mapping, error) {
	f.updateIndex = index
	m.MapIndex = index
	return m, nil
}

func (f *fakeAPI) DeleteMapping(context.Context, string, int) error {
	return f.deleteErr
}

func newTestServer(t *testing.T, api *fakeAPI, cfg *config.Config, ping Pinger) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if api.archive == "" {
		api.archive = filepath.Join(t.TempDir(), "demo-csv.zip")
		require.NoError(t, os.WriteFile(api.archive, []byte("PK-archive"), 0o644))
	}
	s := NewServer(api, cfg, ping)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	return w
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-ID": id}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeAPI{}, nil, func(context.Context) error { return nil })
	w := do(s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	down := newTestServer(t, &fakeAPI{}, nil, func(context.Context) error {
		return errors.New("dial tcp: connection refused")
	})
	w = do(down, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestExport_StreamsArchive(t *testing.T) {
	api := &fakeAPI{}
	s := newTestServer(t, api, nil, nil)

	w := do(s, http.MethodGet, "/api/projects/demo/export?format=csv&map_index=2&from=2024-01-01&to=2024-02-01T00:00:00Z", "", asUser("7"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="demo-csv.zip"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "run-1", w.Header().Get("X-Export-Run-Id"))
	assert.Equal(t, "3", w.Header().Get("X-Export-Rows"))
	assert.Equal(t, "PK-archive", w.Body.String())

	assert.Equal(t, core.ExportRequest{
		Slug:     "demo",
		UserID:   7,
		Format:   "csv",
		MapIndex: 2,
		From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}, api.exportReq)
}

func TestExport_Summary(t *testing.T) {
	s := newTestServer(t, &fakeAPI{}, nil, nil)

	w := do(s, http.MethodGet, "/api/projects/demo/export?download=false", "", asUser("7"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "demo-csv.zip", resp.Archive)
	assert.Equal(t, 3, resp.Rows)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, int64(1500), resp.DurationMS)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "form-1.csv", resp.Files[0].Name)
}

func TestExport_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		headers    map[string]string
		exportErr  error
		wantStatus int
		wantCode   string
	}{
		{"anonymous", "/api/projects/demo/export", nil, nil, http.StatusUnauthorized, "REQ005"},
		{"bad map index", "/api/projects/demo/export?map_index=x", asUser("1"), nil, http.StatusBadRequest, "REQ002"},
		{"bad date", "/api/projects/demo/export?from=yesterday", asUser("1"), nil, http.StatusBadRequest, "REQ002"},
		{"unsupported format", "/api/projects/demo/export?format=xlsx", asUser("1"), export.ErrUnsupportedFormat, http.StatusBadRequest, "EXP001"},
		{"already running", "/api/projects/demo/export", asUser("1"), core.ErrExportInProgress, http.StatusConflict, "EXP007"},
		{"busy", "/api/projects/demo/export", asUser("1"), core.ErrTooManyExports, http.StatusServiceUnavailable, "EXP002"},
		{"unknown project", "/api/projects/nope/export", asUser("1"), store.ErrNotFound, http.StatusNotFound, "REQ001"},
		{"run failed", "/api/projects/demo/export", asUser("1"), &export.Error{Errs: []error{errors.New("disk full")}}, http.StatusInternalServerError, "EXP003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeAPI{exportErr: tt.exportErr}, nil, nil)
			w := do(s, http.MethodGet, tt.target, "", tt.headers)
			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestDownloadArchive(t *testing.T) {
	s := newTestServer(t, &fakeAPI{}, nil, nil)

	w := do(s, http.MethodGet, "/api/projects/demo/exports/csv", "", asUser("7"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK-archive", w.Body.String())

	w = do(s, http.MethodGet, "/api/projects/demo/exports/json", "", asUser("7"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "EXP005", decodeError(t, w).Code)
}

func TestExportHistoryAndReset(t *testing.T) {
	api := &fakeAPI{}
	s := newTestServer(t, api, nil, nil)

	w := do(s, http.MethodGet, "/api/projects/demo/exports", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs":[]}`, w.Body.String())

	w = do(s, http.MethodPost, "/api/projects/demo/exports/reset", "", asUser("9"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(9), api.resetUser)
}

func TestCheckUnique(t *testing.T) {
	t.Run("unique", func(t *testing.T) {
		api := &fakeAPI{}
		s := newTestServer(t, api, nil, nil)

		body := `{"platform":"android","device_id":"abc","entry":{"data":{"id":"x"}}}`
		w := do(s, http.MethodPost, "/api/projects/demo/unique", body, asUser("4"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"unique":true}`, w.Body.String())
		assert.Equal(t, "demo", api.uniqueReq.Slug)
		assert.Equal(t, int64(4), api.uniqueReq.UserID)
		assert.Equal(t, "android", api.uniqueReq.Platform)
		assert.JSONEq(t, `{"data":{"id":"x"}}`, string(api.uniqueReq.Entry))
	})

	t.Run("duplicate", func(t *testing.T) {
		api := &fakeAPI{uniqueErr: &unique.DuplicateError{InputRef: "p_f_code", Question: "Code", Answer: "A1"}}
		s := newTestServer(t, api, nil, nil)

		w := do(s, http.MethodPost, "/api/projects/demo/unique", `{"entry":{}}`, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "UNQ001", resp.Code)
		assert.Equal(t, "p_f_code", resp.InputRef)
		assert.Equal(t, "Code", resp.Question)
	})

	t.Run("missing entry", func(t *testing.T) {
		s := newTestServer(t, &fakeAPI{}, nil, nil)
		w := do(s, http.MethodPost, "/api/projects/demo/unique", `{"platform":"web"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "REQ002", decodeError(t, w).Code)
	})
}

func TestMappings(t *testing.T) {
	api := &fakeAPI{mappings: []mapping.Mapping{{Name: mapping.DefaultName, IsDefault: true}}}
	s := newTestServer(t, api, nil, nil)

	w := do(s, http.MethodGet, "/api/projects/demo/mappings", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"AUTO"`)

	w = do(s, http.MethodPost, "/api/projects/demo/mappings", `{"name":" short names ","from_index":0}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "short names", api.created)

	w = do(s, http.MethodPost, "/api/projects/demo/mappings", `{"name":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPut, "/api/projects/demo/mappings/3", `{"name":"renamed","forms":[]}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, api.updateIndex)

	w = do(s, http.MethodPut, "/api/projects/demo/mappings/abc", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.deleteErr = mapping.ErrDefaultImmutable
	w = do(s, http.MethodDelete, "/api/projects/demo/mappings/0", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "MAP003", decodeError(t, w).Code)
}

func TestAPIKeyAndIdentity(t *testing.T) {
	cfg := &config.Config{Security: config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}}
	s := newTestServer(t, &fakeAPI{}, cfg, nil)

	w := do(s, http.MethodGet, "/api/projects/demo/mappings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/api/projects/demo/mappings", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(s, http.MethodGet, "/api/projects/demo/mappings", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/api/projects/demo/mappings", "", map[string]string{"X-API-Key": "secret", "X-User-ID": "-3"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// health stays open for probes
	w = do(s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExportRateLimit(t *testing.T) {
	cfg := &config.Config{Rate: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ExportLimit: 2}}
	s := newTestServer(t, &fakeAPI{}, cfg, nil)

	for i := 0; i < 2; i++ {
		w := do(s, http.MethodGet, "/api/projects/demo/export?download=false", "", asUser("1"))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(s, http.MethodGet, "/api/projects/demo/export?download=false", "", asUser("1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// other users have their own budget
	w = do(s, http.MethodGet, "/api/projects/demo/export?download=false", "", asUser("2"))
	assert.Equal(t, http.StatusOK, w.Code)

	// and other routes only count against the global limit
	w = do(s, http.MethodGet, "/api/projects/demo/mappings", "", asUser("1"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"UNQ001", http.StatusConflict},
		{"MAP001", http.StatusUnprocessableEntity},
		{"REQ001", http.StatusNotFound},
		{"EXP004", http.StatusGatewayTimeout},
		{"DB005", http.StatusInternalServerError},
		{"ERR000", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.want {
			t.Errorf("statusFor(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
