package unique

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// DuplicateError rejects a submission because an answer already exists.
type DuplicateError struct {
	InputRef string
	Question string
	Answer   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate answer %q for %q (%s)", e.Answer, e.Question, e.InputRef)
}

// CheckEntry checks every input of the record's form, or of its branch, that
// has a uniqueness scope. It returns a *DuplicateError for the first
// duplicate in schema order.
func (c *Checker) CheckEntry(ctx context.Context, p *schema.Project, cand Candidate) error {
	rec := cand.Record
	if rec == nil {
		return fmt.Errorf("uniqueness check without a record")
	}
	if cand.ProjectID == 0 {
		cand.ProjectID = p.ID
	}

	inputs, err := inputsOf(p, rec)
	if err != nil {
		return err
	}

	for _, in := range inputs {
		if in.Uniqueness == "" || in.Uniqueness == schema.UniqueNone {
			continue
		}
		answer, ok := rec.Answer(in.Ref).(entry.TextAnswer)
		if !ok || answer == "" {
			continue
		}

		unique, err := c.IsUnique(ctx, cand, in.Uniqueness, in.Ref, string(answer), in.Type, in.DatetimeFormat)
		if err != nil {
			return err
		}
		if !unique {
			return &DuplicateError{InputRef: in.Ref, Question: in.Question, Answer: string(answer)}
		}
	}
	return nil
}

// inputsOf lists the leaf inputs a record answers, with group children
// inlined.
func inputsOf(p *schema.Project, rec *entry.Record) ([]schema.Input, error) {
	var top []schema.Input
	if rec.IsBranch() {
		branch, ok := p.Input(rec.OwnerInputRef)
		if !ok || branch.Kind() != schema.KindBranch {
			return nil, fmt.Errorf("unknown branch %q", rec.OwnerInputRef)
		}
		top = branch.Branch
	} else {
		form, ok := p.Form(rec.FormRef)
		if !ok {
			return nil, fmt.Errorf("unknown form %q", rec.FormRef)
		}
		top = form.Inputs
	}

	var leaves []schema.Input
	for _, in := range top {
		switch in.Kind() {
		case schema.KindGroup:
			leaves = append(leaves, in.Group...)
		case schema.KindLeaf:
			leaves = append(leaves, in)
		}
	}
	return leaves, nil
}
