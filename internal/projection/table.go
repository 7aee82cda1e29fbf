package projection

import (
	"context"
	"time"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// uploadedAtLayout matches the millisecond ISO 8601 form of created_at.
const uploadedAtLayout = "2006-01-02T15:04:05.000Z"

type column struct {
	input     schema.Input
	mapping   mapping.InputMapping
	transform transformFunc
}

// Table is the column plan of one output file.
type Table struct {
	projector *Projector
	target    Target
	topForm   bool
	columns   []column
	keys      []string
}

// Target returns the form or branch this table exports.
func (t *Table) Target() Target {
	return t.target
}

// Header returns the column names in output order.
func (t *Table) Header(kind OutputKind) []string {
	header := t.leading()
	for _, col := range t.columns {
		if col.input.Type == schema.TypeLocation && kind == Positional {
			header = append(header, mapping.LocationColumns(col.mapping.MapTo)...)
			continue
		}
		header = append(header, col.mapping.MapTo)
	}
	return header
}

func (t *Table) leading() []string {
	var cols []string
	if t.target.IsBranch() {
		cols = append(cols, ColBranchOwnerUUID, ColBranchUUID)
	} else {
		cols = append(cols, ColUUID)
		if !t.topForm {
			cols = append(cols, ColParentUUID)
		}
	}
	cols = append(cols, ColCreatedAt, ColUploadedAt)
	if t.projector.Project.IsPrivate() {
		cols = append(cols, ColCreatedBy)
	}
	return append(cols, ColTitle)
}

// Row projects one decoded record. The row always has the same shape as
// Header(kind).
func (t *Table) Row(ctx context.Context, rec *entry.Record, kind OutputKind) Row {
	values := make([]any, 0, len(t.columns)+8)

	if t.target.IsBranch() {
		values = append(values, rec.OwnerUUID, rec.UUID)
	} else {
		values = append(values, rec.UUID)
		if !t.topForm {
			values = append(values, rec.ParentUUID)
		}
	}

	values = append(values, rec.CreatedAt, formatUploadedAt(rec.UploadedAt))
	if t.projector.Project.IsPrivate() {
		values = append(values, t.projector.createdBy(ctx, rec.UserID))
	}
	values = append(values, rec.Title)

	for _, col := range t.columns {
		values = append(values, col.transform(t.projector, col, rec))
	}

	if kind == Keyed {
		if t.keys == nil {
			t.keys = t.Header(Keyed)
		}
		return &KeyedRow{keys: t.keys, values: values}
	}
	return positional(values)
}

func (p *Projector) createdBy(ctx context.Context, userID int64) string {
	if p.Users == nil {
		return UnknownUser
	}
	return p.Users.Email(ctx, userID)
}

func formatUploadedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(uploadedAtLayout)
}
