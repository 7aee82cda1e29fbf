// Package admin provides administrative reset operations.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// ResetTimeout is the maximum duration for reset operations.
const ResetTimeout = 30 * time.Second

// CustomMappings drops the user-defined mappings of a project.
type CustomMappings interface {
	DeleteCustom(ctx context.Context, projectID int64) (int64, error)
}

// Resetter returns projects to their freshly-deployed state: no archives on
// disk and only the generated mapping.
type Resetter struct {
	Projects  core.ProjectLoader
	Mappings  CustomMappings
	ExportDir string
	// Limiter, when set, makes resets refuse to touch directories of
	// running exports.
	Limiter *core.ExportLimiter
}

type resetFn func(ctx context.Context, p *schema.Project) error

// ResetProject deletes every archive of the project and its custom
// mappings. This is a destructive operation - use with caution.
func (r *Resetter) ResetProject(ctx context.Context, slug string) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	p, err := r.Projects.BySlug(ctx, slug)
	if err != nil {
		return err
	}

	if err := r.runResets(ctx, p, []resetFn{
		r.purgeExports,
		r.dropCustomMappings,
	}); err != nil {
		return fmt.Errorf("reset %s: %w", slug, err)
	}
	slog.Info("project reset", "project", slug)
	return nil
}

func (r *Resetter) runResets(ctx context.Context, p *schema.Project, resets []resetFn) error {
	for _, reset := range resets {
		if err := reset(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resetter) purgeExports(_ context.Context, p *schema.Project) error {
	dir := filepath.Join(r.ExportDir, p.Ref)
	users, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read export dir: %w", err)
	}

	if r.Limiter != nil {
		for _, u := range users {
			release, ok := r.Limiter.TryClaim(filepath.Join(dir, u.Name()))
			if !ok {
				return core.ErrExportInProgress
			}
			defer release()
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge exports: %w", err)
	}
	return nil
}

func (r *Resetter) dropCustomMappings(ctx context.Context, p *schema.Project) error {
	n, err := r.Mappings.DeleteCustom(ctx, p.ID)
	if err != nil {
		return err
	}
	slog.Debug("dropped custom mappings", "project", p.Slug, "count", n)
	return nil
}
