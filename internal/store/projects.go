package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// Projects loads project definitions.
type Projects struct {
	db DBTX
}

// BySlug loads and parses the project with the given slug.
func (r *Projects) BySlug(ctx context.Context, slug string) (*schema.Project, error) {
	var (
		id         int64
		access     string
		definition []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, access, definition FROM projects WHERE slug = $1`, slug).Scan(&id, &access, &definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load project %q: %w", slug, err)
	}

	p, err := schema.Parse(definition)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", slug, err)
	}
	p.ID = id
	// the column is authoritative; definitions lag behind access changes
	p.Access = schema.Access(access)
	return p, nil
}
