package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/export"
)

// Entries reads stored entries page by page for exports.
type Entries struct {
	db DBTX
}

// FormEntries implements export.EntrySource.
func (r *Entries) FormEntries(_ context.Context, projectID int64, formRef string, f export.Filters, pageSize int) export.PageIterator {
	query, args := pageQuery(tableEntries, f, projectID, formRef, "")
	return &pages{db: r.db, query: query, args: args, size: pageSize, branchCounts: true}
}

// BranchEntries implements export.EntrySource.
func (r *Entries) BranchEntries(_ context.Context, projectID int64, formRef, branchRef string, f export.Filters, pageSize int) export.PageIterator {
	query, args := pageQuery(tableBranchEntries, f, projectID, formRef, branchRef)
	return &pages{db: r.db, query: query, args: args, size: pageSize}
}

const (
	tableEntries       = "entries"
	tableBranchEntries = "branch_entries"
)

// pageQuery builds a keyset-paginated select. The last two placeholders are
// always the id cursor and the page size.
func pageQuery(table string, f export.Filters, projectID int64, formRef, branchRef string) (string, []any) {
	cols := "id, uuid::text, user_id, device_id_hash, uploaded_at, entry_data"
	if table == tableEntries {
		cols += ", branch_counts"
	}

	args := []any{projectID, formRef}
	where := []string{"project_id = $1", "form_ref = $2"}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if branchRef != "" {
		add("owner_input_ref = $%d", branchRef)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	cursor := len(args) + 1
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s AND id > $%d ORDER BY id LIMIT $%d",
		cols, table, strings.Join(where, " AND "), cursor, cursor+1)
	return query, args
}

// pages walks a query by primary key so each page is an index range scan
// regardless of how deep the export is.
type pages struct {
	db           DBTX
	query        string
	args         []any
	size         int
	branchCounts bool

	lastID int64
	done   bool
}

func (p *pages) Next(ctx context.Context) ([]entry.Stored, error) {
	if p.done {
		return nil, nil
	}

	args := append(append([]any{}, p.args...), p.lastID, p.size)
	rows, err := p.db.Query(ctx, p.query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	page := make([]entry.Stored, 0, p.size)
	for rows.Next() {
		var s entry.Stored
		dest := []any{&s.ID, &s.UUID, &s.UserID, &s.DeviceIDHash, &s.UploadedAt, &s.Data}
		if p.branchCounts {
			dest = append(dest, &s.BranchCounts)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		page = append(page, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}

	if len(page) < p.size {
		p.done = true
	}
	if len(page) > 0 {
		p.lastID = page[len(page)-1].ID
	}
	return page, nil
}
