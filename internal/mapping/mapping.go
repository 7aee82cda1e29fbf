// Package mapping turns a project schema into named, ordered output columns.
//
// A project owns a list of mappings. Index 0 is the generated AUTO mapping
// and cannot be edited; the others are user copies with renamed or hidden
// columns. Mappings are persisted as JSON, so every ordered association is a
// slice rather than a map: JSONB does not preserve object key order.
package mapping

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultIndex is the index of the generated AUTO mapping.
const DefaultIndex = 0

// DefaultName is the name of the generated mapping.
const DefaultName = "AUTO"

// AnswerMapping renames one possible answer of a choice input.
type AnswerMapping struct {
	AnswerRef string `json:"answer_ref"`
	MapTo     string `json:"map_to"`
}

// InputMapping is the output column configuration for one schema input.
type InputMapping struct {
	Ref             string          `json:"ref"`
	MapTo           string          `json:"map_to"`
	Hide            bool            `json:"hide"`
	PossibleAnswers []AnswerMapping `json:"possible_answers,omitempty"`
	Group           []InputMapping  `json:"group,omitempty"`
	Branch          []InputMapping  `json:"branch,omitempty"`
}

// Label resolves an answer ref to its mapped label.
func (im InputMapping) Label(answerRef string) (string, bool) {
	for _, pa := range im.PossibleAnswers {
		if pa.AnswerRef == answerRef {
			return pa.MapTo, true
		}
	}
	return "", false
}

// FormMapping holds the input mappings of one form in schema order.
type FormMapping struct {
	FormRef string         `json:"form_ref"`
	Inputs  []InputMapping `json:"inputs"`
}

// Mapping is one named column configuration for a whole project.
type Mapping struct {
	Name      string        `json:"name"`
	MapIndex  int           `json:"map_index"`
	IsDefault bool          `json:"is_default"`
	Forms     []FormMapping `json:"forms"`
}

// Form returns the mapping for a form.
func (m *Mapping) Form(ref string) (FormMapping, bool) {
	for _, fm := range m.Forms {
		if fm.FormRef == ref {
			return fm, true
		}
	}
	return FormMapping{}, false
}

// Input finds the mapping of an input anywhere in the form, including
// inputs nested in groups and branches.
func (fm FormMapping) Input(ref string) (InputMapping, bool) {
	return find(fm.Inputs, ref)
}

// Branch returns the input mappings of a branch input of the form.
func (fm FormMapping) Branch(branchRef string) ([]InputMapping, bool) {
	for _, im := range fm.Inputs {
		if im.Ref == branchRef {
			return im.Branch, true
		}
	}
	return nil, false
}

func find(inputs []InputMapping, ref string) (InputMapping, bool) {
	for _, im := range inputs {
		if im.Ref == ref {
			return im, true
		}
		if found, ok := find(im.Group, ref); ok {
			return found, true
		}
		if found, ok := find(im.Branch, ref); ok {
			return found, true
		}
	}
	return InputMapping{}, false
}

// Index returns the input mappings of a list keyed by ref. Nested inputs are
// not included.
func Index(inputs []InputMapping) map[string]InputMapping {
	out := make(map[string]InputMapping, len(inputs))
	for _, im := range inputs {
		out[im.Ref] = im
	}
	return out
}

// Clone returns a deep copy of the mapping.
func (m Mapping) Clone() Mapping {
	out := m
	out.Forms = make([]FormMapping, len(m.Forms))
	for i, fm := range m.Forms {
		out.Forms[i] = FormMapping{FormRef: fm.FormRef, Inputs: cloneInputs(fm.Inputs)}
	}
	return out
}

func cloneInputs(in []InputMapping) []InputMapping {
	if in == nil {
		return nil
	}
	out := make([]InputMapping, len(in))
	for i, im := range in {
		out[i] = im
		if im.PossibleAnswers != nil {
			out[i].PossibleAnswers = append([]AnswerMapping(nil), im.PossibleAnswers...)
		}
		out[i].Group = cloneInputs(im.Group)
		out[i].Branch = cloneInputs(im.Branch)
	}
	return out
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid mapping")

var columnPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// reserved are the identity and metadata column names every export table
// carries ahead of the mapped inputs.
var reserved = map[string]bool{
	"ec5_uuid":              true,
	"ec5_parent_uuid":       true,
	"ec5_branch_owner_uuid": true,
	"ec5_branch_uuid":       true,
	"created_at":            true,
	"uploaded_at":           true,
	"created_by":            true,
	"title":                 true,
}

// LocationPrefixes name the six CSV sub-columns of a location input; each is
// prepended to the input's mapped name.
var LocationPrefixes = [6]string{"lat_", "long_", "accuracy_", "UTM_Northing_", "UTM_Easting_", "UTM_Zone_"}

// LocationColumns returns the CSV column names a location mapped to name
// expands to.
func LocationColumns(name string) []string {
	cols := make([]string, len(LocationPrefixes))
	for i, prefix := range LocationPrefixes {
		cols[i] = prefix + name
	}
	return cols
}

// IsReserved reports whether name is a fixed export column.
func IsReserved(name string) bool {
	return reserved[name]
}

// Validate checks that every visible column name is well formed and unique
// within the table it is written to. A form table holds the form's inputs,
// its group children and one count column per branch; each branch is its
// own table. isLocation reports which refs are location inputs, whose CSV
// sub-columns must not collide with other columns either; nil means none.
func (m *Mapping) Validate(maxLen int, isLocation func(ref string) bool) error {
	if isLocation == nil {
		isLocation = func(string) bool { return false }
	}
	var problems []string
	for _, fm := range m.Forms {
		problems = append(problems, validateTable(fm.FormRef, fm.Inputs, maxLen, isLocation)...)
		for _, im := range fm.Inputs {
			if len(im.Branch) > 0 && !im.Hide {
				problems = append(problems, validateTable(fm.FormRef+"/"+im.Ref, im.Branch, maxLen, isLocation)...)
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(problems, "\n  - "))
	}
	return nil
}

func validateTable(table string, inputs []InputMapping, maxLen int, isLocation func(string) bool) []string {
	var problems []string
	seen := make(map[string]string)

	var check func(im InputMapping)
	check = func(im InputMapping) {
		if im.Hide {
			return
		}
		if len(im.Group) > 0 {
			for _, child := range im.Group {
				check(child)
			}
			return
		}
		name := im.MapTo
		switch {
		case name == "":
			problems = append(problems, fmt.Sprintf("%s: input %q has an empty column name", table, im.Ref))
			return
		case !columnPattern.MatchString(name):
			problems = append(problems, fmt.Sprintf("%s: column %q may only contain letters, digits and underscores", table, name))
		case maxLen > 0 && len(name) > maxLen:
			problems = append(problems, fmt.Sprintf("%s: column %q is longer than %d characters", table, name, maxLen))
		case IsReserved(name):
			problems = append(problems, fmt.Sprintf("%s: column %q is reserved", table, name))
		}
		names := []string{name}
		if isLocation(im.Ref) {
			names = append(names, LocationColumns(name)...)
		}
		for _, n := range names {
			if other, dup := seen[n]; dup {
				problems = append(problems, fmt.Sprintf("%s: column %q used by both %q and %q", table, n, other, im.Ref))
				return
			}
		}
		for _, n := range names {
			seen[n] = im.Ref
		}
	}

	for _, im := range inputs {
		check(im)
	}
	return problems
}
