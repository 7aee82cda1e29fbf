// Package export builds a project's data archive.
//
// An export run walks every form of the project in schema order, and after
// each form every visible branch input, writing one CSV or JSON file per
// table. Entries are read in fixed-size pages and rows are flushed in
// bounded chunks, so memory use does not grow with the number of entries.
// Once all files are written and unlocked they are zipped into a single
// archive and the loose files are removed. A run either produces the
// archive or leaves nothing behind.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/projection"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// Format is the file format of the exported tables.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for formats other than csv and json.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ErrLocked is returned when another run holds the lock on an output file.
var ErrLocked = errors.New("export file is locked by another run")

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) outputKind() projection.OutputKind {
	if f == FormatJSON {
		return projection.Keyed
	}
	return projection.Positional
}

// Filters narrows the exported entries by creation time. Zero values are
// unbounded.
type Filters struct {
	From time.Time
	To   time.Time
}

// Options selects what one run exports.
type Options struct {
	Format   Format
	MapIndex int
	Filters  Filters
}

// Config holds the tuning knobs of the archiver.
type Config struct {
	PageSize       int    // entries fetched per query
	CSVChunkRows   int    // CSV rows buffered between flushes
	JSONChunkBytes int    // JSON bytes buffered between flushes
	MediaBaseURL   string // prefix of media links in public projects
}

// Defaults for zero Config fields.
const (
	DefaultPageSize       = 500
	DefaultCSVChunkRows   = 1000
	DefaultJSONChunkBytes = 1 << 20
)

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.CSVChunkRows <= 0 {
		c.CSVChunkRows = DefaultCSVChunkRows
	}
	if c.JSONChunkBytes <= 0 {
		c.JSONChunkBytes = DefaultJSONChunkBytes
	}
	return c
}

// PageIterator yields stored entries in primary key order. Next returns an
// empty page once the query is exhausted.
type PageIterator interface {
	Next(ctx context.Context) ([]entry.Stored, error)
}

// EntrySource queries the stored entries of a project.
type EntrySource interface {
	FormEntries(ctx context.Context, projectID int64, formRef string, f Filters, pageSize int) PageIterator
	BranchEntries(ctx context.Context, projectID int64, formRef, branchRef string, f Filters, pageSize int) PageIterator
}

// MappingResolver picks the mapping a run exports with.
type MappingResolver interface {
	Resolve(ctx context.Context, p *schema.Project, index int) (mapping.Mapping, error)
}

// FileResult describes one written table.
type FileResult struct {
	Name    string
	Target  projection.Target
	Rows    int
	Skipped int // malformed entries left out
	Flushes int
	// PeakBuffered is the largest amount held before a flush: rows for
	// CSV, bytes for JSON.
	PeakBuffered int
}

// Result describes a completed run.
type Result struct {
	RunID       string
	ArchivePath string
	MapIndex    int
	Files       []FileResult
	Duration    time.Duration
}

// Rows returns the total number of exported rows.
func (r *Result) Rows() int {
	n := 0
	for _, f := range r.Files {
		n += f.Rows
	}
	return n
}

// Skipped returns the total number of malformed entries left out.
func (r *Result) Skipped() int {
	n := 0
	for _, f := range r.Files {
		n += f.Skipped
	}
	return n
}

// Error is returned when a run fails. Errs holds the failure that aborted
// the run followed by any errors hit while cleaning up.
type Error struct {
	Errs []error
}

func (e *Error) Error() string {
	return "export failed: " + errors.Join(e.Errs...).Error()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return e.Errs
}
