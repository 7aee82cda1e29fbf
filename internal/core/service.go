package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/fieldexport/internal/config"
	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/export"
	"github.com/JonMunkholm/fieldexport/internal/logging"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/schema"
	"github.com/JonMunkholm/fieldexport/internal/store"
	"github.com/JonMunkholm/fieldexport/internal/unique"
)

// ProjectLoader loads project definitions.
type ProjectLoader interface {
	BySlug(ctx context.Context, slug string) (*schema.Project, error)
}

// UserDirectory answers user email and role lookups.
type UserDirectory interface {
	EmailByID(ctx context.Context, id int64) (string, error)
	RoleOf(ctx context.Context, projectID, userID int64) (unique.Role, error)
}

// RunHistory records export runs.
type RunHistory interface {
	Record(ctx context.Context, run store.ExportRun) error
	Recent(ctx context.Context, projectID int64, limit int) ([]store.ExportRun, error)
}

// Deps are the persistence dependencies of a Service.
type Deps struct {
	Projects ProjectLoader
	Mappings mapping.Repository
	Entries  export.EntrySource
	Users    UserDirectory
	Finder   unique.Finder
	Runs     RunHistory
}

// StoreDeps wires a Postgres store into Deps.
func StoreDeps(s *store.Store) Deps {
	return Deps{
		Projects: s.Projects,
		Mappings: s.Mappings,
		Entries:  s.Entries,
		Users:    s.Users,
		Finder:   s.Unique,
		Runs:     s.Runs,
	}
}

// Service provides the export, mapping and uniqueness operations.
type Service struct {
	projects ProjectLoader
	runs     RunHistory
	mappings *mapping.Store
	archiver *export.Archiver
	checker  *unique.Checker
	limiter  *ExportLimiter

	exportDir     string
	exportTimeout time.Duration
	retention     time.Duration
}

// NewService creates a Service from its dependencies and configuration.
func NewService(deps Deps, cfg *config.Config) *Service {
	gen := mapping.Generator{MaxColumnLength: cfg.Mapping.MaxColumnLength}
	mappings := mapping.NewStore(deps.Mappings, gen)

	return &Service{
		projects: deps.Projects,
		runs:     deps.Runs,
		mappings: mappings,
		archiver: export.NewArchiver(deps.Entries, mappings, deps.Users, export.Config{
			PageSize:       cfg.Export.PageSize,
			CSVChunkRows:   cfg.Export.CSVChunkRows,
			JSONChunkBytes: cfg.Export.JSONChunkBytes,
			MediaBaseURL:   cfg.Media.BaseURL,
		}),
		checker:       unique.NewChecker(deps.Finder, deps.Users),
		limiter:       NewExportLimiter(cfg.Export.MaxConcurrent, cfg.Export.MaxWaitTime),
		exportDir:     cfg.Export.Dir,
		exportTimeout: cfg.Export.Timeout,
		retention:     cfg.Export.Retention,
	}
}

// Limiter exposes the export limiter for status reporting and shutdown.
func (s *Service) Limiter() *ExportLimiter {
	return s.limiter
}

// ExportStatus reports how many export runs are active.
func (s *Service) ExportStatus() ExportLimiterStatus {
	return s.limiter.Status()
}

// Project loads a project by slug.
func (s *Service) Project(ctx context.Context, slug string) (*schema.Project, error) {
	if slug == "" {
		return nil, fmt.Errorf("%w: empty project slug", ErrInvalidRequest)
	}
	return s.projects.BySlug(ctx, slug)
}

// ExportRequest selects what to export.
type ExportRequest struct {
	Slug     string
	UserID   int64
	Format   string
	MapIndex int
	From     time.Time
	To       time.Time
}

// ExportDir is the directory holding the archive of one project and user.
func (s *Service) ExportDir(p *schema.Project, userID int64) string {
	return filepath.Join(s.exportDir, p.Ref, strconv.FormatInt(userID, 10))
}

// Export builds a fresh archive for the requesting user. Only one run per
// project and user may be active; the total number of runs is bounded by
// the limiter.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*export.Result, error) {
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.From.Before(req.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidRequest)
	}

	p, err := s.Project(ctx, req.Slug)
	if err != nil {
		return nil, err
	}

	dest := s.ExportDir(p, req.UserID)
	release, err := s.limiter.Acquire(ctx, dest)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, s.exportTimeout)
	defer cancel()

	res, err := s.archiver.CreateArchive(runCtx, p, dest, export.Options{
		Format:   format,
		MapIndex: req.MapIndex,
		Filters:  export.Filters{From: req.From, To: req.To},
	})
	s.recordRun(ctx, p, req, format, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) recordRun(ctx context.Context, p *schema.Project, req ExportRequest, format export.Format, res *export.Result, runErr error) {
	if s.runs == nil {
		return
	}

	run := store.ExportRun{
		ProjectID: p.ID,
		UserID:    req.UserID,
		Format:    string(format),
		MapIndex:  req.MapIndex,
		Status:    store.RunComplete,
	}
	if res != nil {
		run.RunID = res.RunID
		run.MapIndex = res.MapIndex
		run.Files = len(res.Files)
		run.Rows = int64(res.Rows())
		run.Skipped = int64(res.Skipped())
		run.Duration = res.Duration
	}
	if runErr != nil {
		run.RunID = uuid.NewString()
		run.Status = store.RunFailed
		run.Error = MapError(runErr).Code
	}

	// the run outcome stands even when history cannot be written
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Record(recordCtx, run); err != nil {
		logging.WithFields(ctx, "project", p.Slug, "run_id", run.RunID).
			Warn("failed to record export run", "error", err)
	}
}

// ArchivePath returns the existing archive of a user for the given format.
func (s *Service) ArchivePath(ctx context.Context, slug string, userID int64, formatName string) (string, error) {
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return "", err
	}
	p, err := s.Project(ctx, slug)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.ExportDir(p, userID), export.ArchiveName(p.Slug, format))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrArchiveNotFound
		}
		return "", err
	}
	return path, nil
}

// ResetExports deletes the user's export directory for a project.
func (s *Service) ResetExports(ctx context.Context, slug string, userID int64) error {
	p, err := s.Project(ctx, slug)
	if err != nil {
		return err
	}
	dest := s.ExportDir(p, userID)
	release, ok := s.limiter.TryClaim(dest)
	if !ok {
		return ErrExportInProgress
	}
	defer release()

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("reset exports: %w", err)
	}
	logging.WithFields(ctx, "project", p.Slug, "user_id", userID).Info("export directory reset")
	return nil
}

// ExportHistory returns the latest export runs of a project.
func (s *Service) ExportHistory(ctx context.Context, slug string, limit int) ([]store.ExportRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	p, err := s.Project(ctx, slug)
	if err != nil {
		return nil, err
	}
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.Recent(ctx, p.ID, limit)
}

// UniqueRequest is an entry submission to check for duplicate answers.
type UniqueRequest struct {
	Slug     string
	UserID   int64
	Platform string
	DeviceID string
	Entry    json.RawMessage
}

// CheckUnique validates every uniqueness-constrained answer of the
// submitted entry. It returns nil when the entry may be saved and a
// *unique.DuplicateError otherwise.
func (s *Service) CheckUnique(ctx context.Context, req UniqueRequest) error {
	p, err := s.Project(ctx, req.Slug)
	if err != nil {
		return err
	}

	rec, err := entry.Decode(req.Entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	cand := unique.Candidate{
		ProjectID: p.ID,
		Record:    rec,
		UserID:    req.UserID,
		Platform:  req.Platform,
		DeviceID:  req.DeviceID,
	}
	if cand.Platform == "" {
		cand.Platform = rec.Platform
	}
	if cand.DeviceID == "" {
		cand.DeviceID = rec.DeviceID
	}
	return s.checker.CheckEntry(ctx, p, cand)
}

// ListMappings returns the project's mappings, generating the default one
// on first use.
func (s *Service) ListMappings(ctx context.Context, slug string) ([]mapping.Mapping, error) {
	p, err := s.Project(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.mappings.List(ctx, p)
}

// CreateMapping copies the mapping at fromIndex under a new name.
func (s *Service) CreateMapping(ctx context.Context, slug, name string, fromIndex int) (mapping.Mapping, error) {
	p, err := s.Project(ctx, slug)
	if err != nil {
		return mapping.Mapping{}, err
	}
	return s.mappings.Create(ctx, p, name, fromIndex)
}

// UpdateMapping replaces a user mapping.
func (s *Service) UpdateMapping(ctx context.Context, slug string, index int, m mapping.Mapping) (mapping.Mapping, error) {
	p, err := s.Project(ctx, slug)
	if err != nil {
		return mapping.Mapping{}, err
	}
	return s.mappings.Update(ctx, p, index, m)
}

// DeleteMapping removes a user mapping.
func (s *Service) DeleteMapping(ctx context.Context, slug string, index int) error {
	p, err := s.Project(ctx, slug)
	if err != nil {
		return err
	}
	return s.mappings.Delete(ctx, p, index)
}
