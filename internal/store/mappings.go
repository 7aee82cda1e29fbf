package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/fieldexport/internal/mapping"
)

// Mappings persists export mappings, one row per (project, index), with the
// form mappings as JSONB.
type Mappings struct {
	db DBTX
}

// List implements mapping.Repository.
func (r *Mappings) List(ctx context.Context, projectID int64) ([]mapping.Mapping, error) {
	rows, err := r.db.Query(ctx, `
		SELECT map_index, name, is_default, forms
		FROM project_mappings
		WHERE project_id = $1
		ORDER BY map_index`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []mapping.Mapping
	for rows.Next() {
		var (
			m     mapping.Mapping
			forms []byte
		)
		if err := rows.Scan(&m.MapIndex, &m.Name, &m.IsDefault, &forms); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		if err := json.Unmarshal(forms, &m.Forms); err != nil {
			return nil, fmt.Errorf("decode mapping %d: %w", m.MapIndex, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return out, nil
}

// Save implements mapping.Repository.
func (r *Mappings) Save(ctx context.Context, projectID int64, m mapping.Mapping) error {
	forms, err := json.Marshal(m.Forms)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO project_mappings (project_id, map_index, name, is_default, forms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, map_index) DO UPDATE
		SET name = EXCLUDED.name,
		    is_default = EXCLUDED.is_default,
		    forms = EXCLUDED.forms,
		    updated_at = now()`,
		projectID, m.MapIndex, m.Name, m.IsDefault, forms)
	if err != nil {
		return fmt.Errorf("save mapping %d: %w", m.MapIndex, err)
	}
	return nil
}

// Delete implements mapping.Repository.
func (r *Mappings) Delete(ctx context.Context, projectID int64, index int) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM project_mappings WHERE project_id = $1 AND map_index = $2`,
		projectID, index)
	if err != nil {
		return fmt.Errorf("delete mapping %d: %w", index, err)
	}
	if tag.RowsAffected() == 0 {
		return mapping.ErrNotFound
	}
	return nil
}

// DeleteCustom drops every mapping of the project except the generated one.
func (r *Mappings) DeleteCustom(ctx context.Context, projectID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM project_mappings WHERE project_id = $1 AND map_index <> $2`,
		projectID, mapping.DefaultIndex)
	if err != nil {
		return 0, fmt.Errorf("delete custom mappings: %w", err)
	}
	return tag.RowsAffected(), nil
}
