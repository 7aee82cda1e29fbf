// Package unique answers whether a submitted answer already exists in a
// project.
//
// A check builds one scoped query: same project and form, narrowed further
// by the input's uniqueness scope, comparing the stored answer at the
// input's JSON path case-insensitively. Date and time inputs compare only
// the fields their display format shows, so "14:48" collides with any other
// answer at 14:48 regardless of seconds or date.
//
// A match is not a duplicate when it is the candidate entry itself and the
// submitter may edit it. Query errors are returned, never read as "unique".
package unique

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// Table names the stored entry kind a query runs against.
type Table string

const (
	TableEntries       Table = "entries"
	TableBranchEntries Table = "branch_entries"
)

// Query is one scoped existence check.
type Query struct {
	Table     Table
	ProjectID int64
	FormRef   string

	// Hierarchy scope only. An empty ParentUUID with MatchParent set
	// matches entries of the top form.
	MatchParent bool
	ParentUUID  string
	// Set for branch entries in either scope.
	OwnerUUID     string
	OwnerInputRef string

	// CandidateUUID sorts the candidate's own row after any other match.
	CandidateUUID string

	// Path addresses the answer inside the stored payload:
	// <type>.answers.<inputRef>.answer
	Path  []string
	Value string

	// Precision narrows date/time comparison; HasPrecision is false for
	// every other input type.
	Precision    schema.Precision
	HasPrecision bool
}

// Match is the first stored entry holding the same answer.
type Match struct {
	UUID         string
	UserID       int64
	Platform     string
	DeviceIDHash string
}

// ErrNoMatch is returned by a Finder when nothing matches.
var ErrNoMatch = errors.New("no matching entry")

// Finder runs existence queries against stored entries.
type Finder interface {
	FindMatch(ctx context.Context, q Query) (Match, error)
}

// Candidate is the entry being validated together with who submits it.
type Candidate struct {
	ProjectID int64
	Record    *entry.Record

	UserID   int64
	Platform string
	DeviceID string // raw device id, compared against stored hashes
}

// Checker performs uniqueness checks.
type Checker struct {
	finder Finder
	perms  *Permissions
}

// NewChecker creates a checker. roles may be nil when role-based edit rights
// are not in use.
func NewChecker(finder Finder, roles RoleLookup) *Checker {
	return &Checker{finder: finder, perms: &Permissions{roles: roles}}
}

// IsUnique reports whether answer is unique for inputRef under scope.
// inputType and datetimeFormat may be empty; they only matter for date and
// time inputs.
func (c *Checker) IsUnique(ctx context.Context, cand Candidate, scope schema.Uniqueness, inputRef, answer string, inputType schema.InputType, datetimeFormat string) (bool, error) {
	if scope == schema.UniqueNone || scope == "" || strings.TrimSpace(answer) == "" {
		return true, nil
	}

	q, err := buildQuery(cand, scope, inputRef, answer, inputType, datetimeFormat)
	if err != nil {
		return false, err
	}

	m, err := c.finder.FindMatch(ctx, q)
	if errors.Is(err, ErrNoMatch) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("uniqueness query for %q: %w", inputRef, err)
	}

	if m.UUID != cand.Record.UUID {
		return false, nil
	}
	return c.perms.CanEdit(ctx, cand, m)
}

func buildQuery(cand Candidate, scope schema.Uniqueness, inputRef, answer string, inputType schema.InputType, datetimeFormat string) (Query, error) {
	rec := cand.Record
	if rec == nil {
		return Query{}, errors.New("uniqueness check without a record")
	}

	q := Query{
		ProjectID:     cand.ProjectID,
		FormRef:       rec.FormRef,
		CandidateUUID: rec.UUID,
		Path:          []string{string(rec.Type), "answers", inputRef, "answer"},
		Value:         answer,
	}

	if rec.IsBranch() {
		q.Table = TableBranchEntries
		q.OwnerUUID = rec.OwnerUUID
		q.OwnerInputRef = rec.OwnerInputRef
	} else {
		q.Table = TableEntries
	}

	switch scope {
	case schema.UniqueHierarchy:
		if !rec.IsBranch() {
			q.MatchParent = true
			q.ParentUUID = rec.ParentUUID
		}
	case schema.UniqueForm:
	default:
		return Query{}, fmt.Errorf("unknown uniqueness scope %q", scope)
	}

	if prec, ok := schema.PrecisionFor(inputType, datetimeFormat); ok {
		key, ok := prec.Key(answer)
		if !ok {
			return Query{}, fmt.Errorf("answer %q is not a valid %s", answer, inputType)
		}
		q.Precision = prec
		q.HasPrecision = true
		q.Value = key
	}
	return q, nil
}
