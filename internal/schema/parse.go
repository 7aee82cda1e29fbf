package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDefinition is returned when a project definition cannot be used.
	ErrInvalidDefinition = errors.New("invalid project definition")
)

type definitionEnvelope struct {
	Project *Project `json:"project"`
}

// Parse decodes a stored project definition and validates its structure.
// The payload is either {"project": {...}} or the bare project object.
func Parse(data []byte) (*Project, error) {
	var env definitionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	project := env.Project
	if project == nil {
		project = &Project{}
		if err := json.Unmarshal(data, project); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	}

	if err := project.Validate(); err != nil {
		return nil, err
	}
	return project, nil
}

// Validate checks the structural rules of the project:
// refs are unique project-wide, types are known, and groups/branches
// nest at most one level deep.
func (p *Project) Validate() error {
	var errs []string

	if len(p.Forms) == 0 {
		errs = append(errs, "project has no forms")
	}
	if p.Access != AccessPublic && p.Access != AccessPrivate {
		errs = append(errs, fmt.Sprintf("access %q must be public or private", p.Access))
	}

	seen := make(map[string]bool)
	claim := func(ref, what string) {
		if ref == "" {
			errs = append(errs, what+" has an empty ref")
			return
		}
		if seen[ref] {
			errs = append(errs, fmt.Sprintf("duplicate ref %q", ref))
			return
		}
		seen[ref] = true
	}

	forms := make(map[string]bool)
	for i, f := range p.Forms {
		claim(f.Ref, "form")
		if i == 0 && f.ParentRef != "" {
			errs = append(errs, fmt.Sprintf("top form %q cannot have a parent", f.Ref))
		}
		if i > 0 {
			if f.ParentRef == "" {
				errs = append(errs, fmt.Sprintf("form %q has no parent", f.Ref))
			} else if !forms[f.ParentRef] {
				errs = append(errs, fmt.Sprintf("form %q parent %q is not declared before it", f.Ref, f.ParentRef))
			}
		}
		for _, in := range f.Inputs {
			errs = append(errs, validateInput(in, KindLeaf, 0, claim)...)
		}
		forms[f.Ref] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidDefinition, strings.Join(errs, "\n  - "))
	}

	p.index()
	return nil
}

// validateInput checks one input. parent is the kind of the enclosing input
// (KindLeaf at form level); only a group directly inside a branch may nest.
func validateInput(in Input, parent InputKind, depth int, claim func(ref, what string)) []string {
	var errs []string
	claim(in.Ref, "input")

	if !in.Type.Valid() {
		errs = append(errs, fmt.Sprintf("input %q has unknown type %q", in.Ref, in.Type))
	}
	if in.Type.IsChoice() && len(in.PossibleAnswers) == 0 {
		errs = append(errs, fmt.Sprintf("input %q has no possible answers", in.Ref))
	}

	children := in.Children()
	if in.Kind() != KindLeaf {
		if depth > 1 || (depth == 1 && !(parent == KindBranch && in.Kind() == KindGroup)) {
			errs = append(errs, fmt.Sprintf("input %q nests a %s more than one level deep", in.Ref, in.Kind()))
		}
		for _, child := range children {
			errs = append(errs, validateInput(child, in.Kind(), depth+1, claim)...)
		}
	}

	if in.DatetimeFormat != "" {
		if _, ok := Layout(in.DatetimeFormat); !ok {
			errs = append(errs, fmt.Sprintf("input %q has unsupported datetime format %q", in.Ref, in.DatetimeFormat))
		}
	}

	return errs
}
