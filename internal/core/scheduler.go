package core

// scheduler.go sweeps stale export directories.
//
// Archives are kept for the configured retention period after their last
// write, then the whole <project>/<user> directory is removed. Directories
// with a run in progress are skipped. The sweep logs failures and carries
// on; one unreadable directory never stops the others from being cleaned.

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupConfig holds configuration for the cleanup scheduler.
type CleanupConfig struct {
	Retention     time.Duration // Age after which an export directory is removed
	CheckInterval time.Duration // How often to sweep
}

// StartCleanupScheduler periodically removes export directories older than
// the retention period. It runs immediately on start, then every
// CheckInterval, and stops when ctx is cancelled.
func (s *Service) StartCleanupScheduler(ctx context.Context, cfg CleanupConfig) {
	if cfg.Retention <= 0 {
		cfg.Retention = s.retention
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	slog.Info("export cleanup scheduler started",
		"retention", cfg.Retention,
		"interval", cfg.CheckInterval,
	)

	s.runCleanupJob(cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("export cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.runCleanupJob(cfg)
		}
	}
}

func (s *Service) runCleanupJob(cfg CleanupConfig) {
	start := time.Now()
	removed, err := s.CleanupStaleExports(start.Add(-cfg.Retention))
	if err != nil {
		slog.Error("export cleanup failed", "error", err)
	}
	slog.Info("export cleanup completed",
		"directories_removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// CleanupStaleExports removes every <project>/<user> export directory whose
// newest file is older than cutoff. It returns the number removed.
func (s *Service) CleanupStaleExports(cutoff time.Time) (int, error) {
	projects, err := os.ReadDir(s.exportDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var (
		removed int
		errs    []error
	)
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		projectDir := filepath.Join(s.exportDir, project.Name())
		users, err := os.ReadDir(projectDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, user := range users {
			if !user.IsDir() {
				continue
			}
			dir := filepath.Join(projectDir, user.Name())
			ok, err := s.sweep(dir, cutoff)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				removed++
			}
		}
	}
	return removed, errors.Join(errs...)
}

// sweep removes dir when nothing in it is newer than cutoff. The directory
// stays claimed while it is checked and removed, so an export cannot start
// writing into it halfway through.
func (s *Service) sweep(dir string, cutoff time.Time) (bool, error) {
	release, ok := s.limiter.TryClaim(dir)
	if !ok {
		return false, nil
	}
	defer release()

	newest, err := newestModTime(dir)
	if err != nil {
		return false, err
	}
	if newest.After(cutoff) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	slog.Debug("removed stale export", "dir", dir, "last_modified", newest)
	return true, nil
}

// newestModTime returns the latest modification time of dir and everything
// under it.
func newestModTime(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}
