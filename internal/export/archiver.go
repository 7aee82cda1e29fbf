package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/logging"
	"github.com/JonMunkholm/fieldexport/internal/projection"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// lockRetryDelay is how often a busy output file lock is retried.
const lockRetryDelay = 50 * time.Millisecond

const tableFileMode = 0o644

// Archiver runs project exports.
type Archiver struct {
	source   EntrySource
	mappings MappingResolver
	users    projection.UserLookup
	cfg      Config
}

// NewArchiver creates an archiver. users is only consulted for private
// projects and may be nil otherwise.
func NewArchiver(source EntrySource, mappings MappingResolver, users projection.UserLookup, cfg Config) *Archiver {
	return &Archiver{
		source:   source,
		mappings: mappings,
		users:    users,
		cfg:      cfg.withDefaults(),
	}
}

// CreateArchive exports every form and branch of the project into dest and
// zips the result. Any previous contents of dest are removed first. On
// failure dest is removed along with every partial file and an *Error is
// returned.
func (a *Archiver) CreateArchive(ctx context.Context, p *schema.Project, dest string, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.NewString()}
	logger := logging.WithFields(ctx,
		"run_id", result.RunID,
		"project", p.Slug,
		"format", opts.Format,
	)

	if err := resetDir(dest); err != nil {
		return nil, &Error{Errs: []error{err}}
	}

	files, err := a.writeTables(ctx, p, dest, opts, result)
	if err == nil {
		archivePath := filepath.Join(dest, ArchiveName(p.Slug, opts.Format))
		if err = writeArchive(archivePath, files); err == nil {
			result.ArchivePath = archivePath
			err = removeFiles(files)
		}
	}
	if err != nil {
		errs := []error{err}
		if cerr := os.RemoveAll(dest); cerr != nil {
			errs = append(errs, fmt.Errorf("clean up %s: %w", dest, cerr))
		}
		logger.Error("export failed", "error", err)
		return nil, &Error{Errs: errs}
	}

	result.Duration = time.Since(start)
	logger.Info("export complete",
		"files", len(result.Files),
		"rows", result.Rows(),
		"skipped", result.Skipped(),
		"duration", result.Duration,
	)
	return result, nil
}

func (a *Archiver) writeTables(ctx context.Context, p *schema.Project, dest string, opts Options, result *Result) ([]string, error) {
	m, err := a.mappings.Resolve(ctx, p, opts.MapIndex)
	if err != nil {
		return nil, fmt.Errorf("resolve mapping: %w", err)
	}
	result.MapIndex = m.MapIndex

	var users *projection.UserCache
	if p.IsPrivate() {
		users = projection.NewUserCache(a.users)
	}
	projector := projection.New(p, m, projection.Options{MediaBaseURL: a.cfg.MediaBaseURL}, users)

	namer := &fileNamer{ext: string(opts.Format)}
	var files []string
	for _, form := range p.Forms {
		for _, target := range projector.Targets(form.Ref) {
			var name string
			if target.IsBranch() {
				name = namer.branch(branchSlug(p, target.BranchRef))
			} else {
				name = namer.form(formSlug(form))
			}

			path := filepath.Join(dest, name)
			files = append(files, path)

			fr, err := a.writeTable(ctx, p, projector, target, path, opts)
			if err != nil {
				return files, fmt.Errorf("write %s: %w", name, err)
			}
			fr.Name = name
			result.Files = append(result.Files, fr)
		}
	}
	return files, nil
}

// writeTable streams one target to path while holding an exclusive lock on
// the file.
func (a *Archiver) writeTable(ctx context.Context, p *schema.Project, projector *projection.Projector, target projection.Target, path string, opts Options) (fr FileResult, err error) {
	fr.Target = target

	table, err := projector.Table(target)
	if err != nil {
		return fr, err
	}

	// the lock creates the file, so it decides the permissions
	lock := flock.New(path, flock.SetPermissions(tableFileMode))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fr, fmt.Errorf("lock: %w", err)
	}
	if !locked {
		return fr, ErrLocked
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("unlock: %w", uerr)
		}
	}()

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, tableFileMode)
	if err != nil {
		return fr, err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	kind := opts.Format.outputKind()
	w := newTableWriter(opts.Format, out, a.cfg)
	if err := w.WriteHeader(table.Header(kind)); err != nil {
		return fr, err
	}

	var pages PageIterator
	if target.IsBranch() {
		pages = a.source.BranchEntries(ctx, p.ID, target.FormRef, target.BranchRef, opts.Filters, a.cfg.PageSize)
	} else {
		pages = a.source.FormEntries(ctx, p.ID, target.FormRef, opts.Filters, a.cfg.PageSize)
	}

	logger := logging.WithFields(ctx, "project", p.Slug, "table", target.String())
	for {
		if err := ctx.Err(); err != nil {
			return fr, err
		}
		page, err := pages.Next(ctx)
		if err != nil {
			return fr, fmt.Errorf("read entries: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, stored := range page {
			rec, err := entry.FromStored(stored)
			if err != nil {
				fr.Skipped++
				logger.Debug("skipping malformed entry", "entry_id", stored.ID, "error", err)
				continue
			}
			if err := w.WriteRow(table.Row(ctx, rec, kind)); err != nil {
				return fr, err
			}
			fr.Rows++
		}
	}

	if err := w.Close(); err != nil {
		return fr, err
	}
	fr.Flushes = w.Flushes()
	fr.PeakBuffered = w.PeakBuffered()

	if fr.Skipped > 0 {
		logger.Warn("skipped malformed entries", "skipped", fr.Skipped)
	}
	return fr, nil
}

func formSlug(f schema.Form) string {
	if f.Slug != "" {
		return f.Slug
	}
	if slug := Slugify(f.Name); slug != "" {
		return slug
	}
	return Slugify(f.Ref)
}

func branchSlug(p *schema.Project, branchRef string) string {
	in, ok := p.Input(branchRef)
	if ok {
		if slug := Slugify(in.Question); slug != "" {
			return slug
		}
	}
	return Slugify(branchRef)
}

// resetDir removes everything under dir and recreates it.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func removeFiles(files []string) error {
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
