package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/fieldexport/internal/unique"
)

// UniqueFinder runs uniqueness queries against the entry tables.
type UniqueFinder struct {
	db DBTX
}

// FindMatch implements unique.Finder.
func (r *UniqueFinder) FindMatch(ctx context.Context, q unique.Query) (unique.Match, error) {
	query, args, err := matchQuery(q)
	if err != nil {
		return unique.Match{}, err
	}

	var m unique.Match
	err = r.db.QueryRow(ctx, query, args...).Scan(&m.UUID, &m.UserID, &m.Platform, &m.DeviceIDHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return unique.Match{}, unique.ErrNoMatch
	}
	if err != nil {
		return unique.Match{}, err
	}
	return m, nil
}

// storedTimestamp guards the timestamp cast so malformed answers never match
// instead of failing the whole query.
const storedTimestamp = `^\d{4}-\d{2}-\d{2}`

// matchQuery renders a unique.Query as one parameterised select. Rows other
// than the candidate sort first so a duplicate elsewhere always wins.
func matchQuery(q unique.Query) (string, []any, error) {
	var table string
	switch q.Table {
	case unique.TableEntries:
		table = tableEntries
	case unique.TableBranchEntries:
		table = tableBranchEntries
	default:
		return "", nil, fmt.Errorf("unknown entry table %q", q.Table)
	}
	if len(q.Path) == 0 {
		return "", nil, errors.New("uniqueness query without an answer path")
	}

	args := []any{q.ProjectID, q.FormRef}
	where := []string{"project_id = $1", "form_ref = $2"}
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.MatchParent {
		if q.ParentUUID == "" {
			where = append(where, "parent_uuid IS NULL")
		} else {
			where = append(where, "parent_uuid = "+param(q.ParentUUID)+"::uuid")
		}
	}
	if q.OwnerInputRef != "" {
		where = append(where,
			"owner_uuid = "+param(q.OwnerUUID)+"::uuid",
			"owner_input_ref = "+param(q.OwnerInputRef))
	}

	answer := "entry_data #>> " + param(q.Path) + "::text[]"
	if q.HasPrecision {
		where = append(where, fmt.Sprintf(
			"CASE WHEN (%[1]s) ~ %[2]s THEN to_char((%[1]s)::timestamp, %[3]s) END = %[4]s",
			answer, param(storedTimestamp), param(q.Precision.SQLPattern()), param(q.Value)))
	} else {
		where = append(where, fmt.Sprintf("lower(%s) = lower(%s)", answer, param(q.Value)))
	}

	query := fmt.Sprintf(
		"SELECT uuid::text, user_id, platform, device_id_hash FROM %s WHERE %s ORDER BY uuid::text = %s LIMIT 1",
		table, strings.Join(where, " AND "), param(q.CandidateUUID))
	return query, args, nil
}
