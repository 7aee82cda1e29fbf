// Package jobs runs batch exports described in a YAML task file.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/export"
)

const dateLayout = "2006-01-02"

// ExportTask is one archive to build.
type ExportTask struct {
	Name     string `yaml:"name"`
	Project  string `yaml:"project"`
	UserID   int64  `yaml:"user_id"`
	Format   string `yaml:"format"`
	MapIndex int    `yaml:"map_index"`

	// Either a rolling window of whole days ending today, or explicit
	// YYYY-MM-DD bounds. Both empty exports everything.
	LastDays int    `yaml:"last_days"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// TaskFile is the job configuration.
type TaskFile struct {
	// ResetProjects are reset before any export runs.
	ResetProjects []string     `yaml:"reset_projects"`
	ExportTasks   []ExportTask `yaml:"export_tasks"`
}

// LoadTasks reads and validates a task file.
func LoadTasks(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return ParseTasks(data)
}

// ParseTasks decodes a task file. Unknown keys are rejected.
func ParseTasks(data []byte) (*TaskFile, error) {
	var tf TaskFile
	if err := yaml.UnmarshalStrict(data, &tf); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return &tf, nil
}

// Validate checks every task and reports all problems at once.
func (tf *TaskFile) Validate() error {
	var errs []string
	if len(tf.ExportTasks) == 0 && len(tf.ResetProjects) == 0 {
		errs = append(errs, "no export tasks or resets configured")
	}
	for i, t := range tf.ExportTasks {
		label := t.label(i)
		if t.Project == "" {
			errs = append(errs, label+": project is required")
		}
		if t.UserID <= 0 {
			errs = append(errs, label+": user_id must be positive")
		}
		if _, err := export.ParseFormat(t.Format); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
		}
		if t.MapIndex < 0 {
			errs = append(errs, label+": map_index must not be negative")
		}
		if t.LastDays < 0 {
			errs = append(errs, label+": last_days must not be negative")
		}
		if t.LastDays > 0 && (t.From != "" || t.To != "") {
			errs = append(errs, label+": last_days cannot be combined with from/to")
		}
		if t.LastDays == 0 {
			if _, err := t.Request(time.Time{}); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", label, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid task file:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (t ExportTask) label(i int) string {
	if t.Name != "" {
		return fmt.Sprintf("task %d (%s)", i+1, t.Name)
	}
	return fmt.Sprintf("task %d", i+1)
}

// Request turns the task into an export request. Rolling windows are
// resolved against now, in UTC.
func (t ExportTask) Request(now time.Time) (core.ExportRequest, error) {
	req := core.ExportRequest{
		Slug:     t.Project,
		UserID:   t.UserID,
		Format:   t.Format,
		MapIndex: t.MapIndex,
	}

	if t.LastDays > 0 {
		today := now.UTC().Truncate(24 * time.Hour)
		req.To = today.AddDate(0, 0, 1)
		req.From = req.To.AddDate(0, 0, -t.LastDays)
		return req, nil
	}

	var err error
	if t.From != "" {
		if req.From, err = time.Parse(dateLayout, t.From); err != nil {
			return req, fmt.Errorf("from: %w", err)
		}
	}
	if t.To != "" {
		if req.To, err = time.Parse(dateLayout, t.To); err != nil {
			return req, fmt.Errorf("to: %w", err)
		}
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.From.Before(req.To) {
		return req, errors.New("from must be before to")
	}
	return req, nil
}

// Exporter builds archives.
type Exporter interface {
	Export(ctx context.Context, req core.ExportRequest) (*export.Result, error)
}

// Resetter clears a project's archives and custom mappings.
type Resetter interface {
	ResetProject(ctx context.Context, slug string) error
}

// Summary counts the outcomes of a job run.
type Summary struct {
	Resets    int
	Succeeded int
	Failed    int
	Rows      int
}

// Run performs the resets, then every export task in order. A failed task
// is logged and does not stop the others; the returned error joins all
// failures.
func Run(ctx context.Context, tf *TaskFile, exp Exporter, reset Resetter, now time.Time) (Summary, error) {
	var (
		sum  Summary
		errs []error
	)

	for _, slug := range tf.ResetProjects {
		if err := reset.ResetProject(ctx, slug); err != nil {
			slog.Error("project reset failed", "project", slug, "error", err)
			errs = append(errs, err)
			continue
		}
		sum.Resets++
	}

	for i, task := range tf.ExportTasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		logger := slog.With("task", task.label(i), "project", task.Project, "format", task.Format)
		req, err := task.Request(now)
		if err != nil {
			logger.Error("invalid export task", "error", err)
			sum.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", task.label(i), err))
			continue
		}

		res, err := exp.Export(ctx, req)
		if err != nil {
			msg := core.MapError(err)
			logger.Error("export task failed", "error", err, "code", msg.Code)
			sum.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", task.label(i), err))
			continue
		}

		sum.Succeeded++
		sum.Rows += res.Rows()
		logger.Info("export task completed",
			"run_id", res.RunID,
			"archive", res.ArchivePath,
			"rows", res.Rows(),
			"skipped", res.Skipped(),
			"duration", res.Duration.String(),
		)
	}
	return sum, errors.Join(errs...)
}
