// Package projection flattens stored entries into export rows.
//
// A Projector binds one project schema to one mapping for the duration of an
// export run. For every form and every branch input it builds a Table: the
// ordered column plan shared by the header and every row, so the two can
// never drift apart. Rows come out either positional (CSV) or keyed (JSON).
//
// A Projector is not safe for concurrent use; each export run owns one.
package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// Identity and metadata columns, in the order they lead every table.
const (
	ColUUID            = "ec5_uuid"
	ColParentUUID      = "ec5_parent_uuid"
	ColBranchOwnerUUID = "ec5_branch_owner_uuid"
	ColBranchUUID      = "ec5_branch_uuid"
	ColCreatedAt       = "created_at"
	ColUploadedAt      = "uploaded_at"
	ColCreatedBy       = "created_by"
	ColTitle           = "title"
)

// ErrUnknownTarget is returned for a form or branch the schema does not
// declare.
var ErrUnknownTarget = errors.New("unknown export target")

// OutputKind selects the row representation.
type OutputKind int

const (
	// Positional rows are plain string slices aligned with the CSV header.
	Positional OutputKind = iota
	// Keyed rows are ordered objects for JSON output.
	Keyed
)

func (k OutputKind) String() string {
	if k == Keyed {
		return "keyed"
	}
	return "positional"
}

// Target names one output table: a form, or a branch input of a form.
type Target struct {
	FormRef   string
	BranchRef string
}

// IsBranch reports whether the target is a branch table.
func (t Target) IsBranch() bool {
	return t.BranchRef != ""
}

func (t Target) String() string {
	if t.IsBranch() {
		return t.FormRef + "/" + t.BranchRef
	}
	return t.FormRef
}

// Options carries per-deployment settings.
type Options struct {
	// MediaBaseURL prefixes media download links of public projects.
	MediaBaseURL string
}

// Projector flattens the entries of one project under one mapping.
type Projector struct {
	Project *schema.Project
	Mapping mapping.Mapping
	Options Options
	Users   *UserCache

	tables map[Target]*Table
}

// New creates a projector. users may be nil for public projects.
func New(p *schema.Project, m mapping.Mapping, opts Options, users *UserCache) *Projector {
	return &Projector{
		Project: p,
		Mapping: m,
		Options: opts,
		Users:   users,
		tables:  make(map[Target]*Table),
	}
}

// Table returns the column plan for a target, building it on first use.
func (p *Projector) Table(target Target) (*Table, error) {
	if t, ok := p.tables[target]; ok {
		return t, nil
	}
	t, err := p.buildTable(target)
	if err != nil {
		return nil, err
	}
	p.tables[target] = t
	return t, nil
}

// BuildHeader returns the ordered column names of a target.
func (p *Projector) BuildHeader(target Target, kind OutputKind) ([]string, error) {
	t, err := p.Table(target)
	if err != nil {
		return nil, err
	}
	return t.Header(kind), nil
}

// Flatten decodes one stored entry payload and projects it onto the target.
// Malformed payloads return an error wrapping entry.ErrMalformed; callers
// skip the row and carry on.
func (p *Projector) Flatten(ctx context.Context, target Target, entryJSON, branchCountsJSON []byte, kind OutputKind) (Row, error) {
	t, err := p.Table(target)
	if err != nil {
		return nil, err
	}
	rec, err := entry.Decode(entryJSON)
	if err != nil {
		return nil, err
	}
	rec.BranchCounts = entry.DecodeBranchCounts(branchCountsJSON)
	return t.Row(ctx, rec, kind), nil
}

// Targets lists the tables of a form in export order: the form itself, then
// each visible branch input.
func (p *Projector) Targets(formRef string) []Target {
	targets := []Target{{FormRef: formRef}}
	form, ok := p.Project.Form(formRef)
	if !ok {
		return targets
	}
	formMapping, _ := p.Mapping.Form(formRef)
	for _, in := range form.BranchInputs() {
		if im, ok := formMapping.Input(in.Ref); ok && im.Hide {
			continue
		}
		targets = append(targets, Target{FormRef: formRef, BranchRef: in.Ref})
	}
	return targets
}

func (p *Projector) buildTable(target Target) (*Table, error) {
	form, ok := p.Project.Form(target.FormRef)
	if !ok {
		return nil, fmt.Errorf("%w: form %q", ErrUnknownTarget, target.FormRef)
	}
	formMapping, _ := p.Mapping.Form(form.Ref)

	t := &Table{
		projector: p,
		target:    target,
		topForm:   p.Project.IsTopForm(form.Ref),
	}

	if !target.IsBranch() {
		t.columns = plan(form.Inputs, formMapping.Inputs)
		return t, nil
	}

	for _, in := range form.BranchInputs() {
		if in.Ref != target.BranchRef {
			continue
		}
		branchMapping, _ := formMapping.Branch(in.Ref)
		t.columns = plan(in.Branch, branchMapping)
		return t, nil
	}
	return nil, fmt.Errorf("%w: branch %q of form %q", ErrUnknownTarget, target.BranchRef, target.FormRef)
}

// plan lists the visible, mapped inputs in schema order with groups inlined.
func plan(inputs []schema.Input, mapped []mapping.InputMapping) []column {
	byRef := mapping.Index(mapped)
	var cols []column
	for _, in := range inputs {
		im, ok := byRef[in.Ref]
		if !ok || im.Hide || !in.Type.HoldsData() {
			continue
		}
		if in.Kind() == schema.KindGroup {
			cols = append(cols, plan(in.Group, im.Group)...)
			continue
		}
		cols = append(cols, column{
			input:     in,
			mapping:   im,
			transform: transformFor(in.Type),
		})
	}
	return cols
}
