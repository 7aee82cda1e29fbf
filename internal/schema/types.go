// Package schema is the read-only model of a project's form definition.
//
// A project owns an ordered list of forms. Each form owns an ordered list of
// inputs, and an input is one of three kinds:
//
//   - a leaf input that holds a single answer (text, location, photo...)
//   - a group, whose children are answered inline as part of the same entry
//   - a branch, whose children form an independently repeatable sub-form
//
// The order of forms and inputs is the order columns appear in exports, so
// everything here is kept in slices rather than maps.
package schema

// InputType is the declared type of a schema input.
type InputType string

const (
	TypeText           InputType = "text"
	TypeTextarea       InputType = "textarea"
	TypeInteger        InputType = "integer"
	TypeDecimal        InputType = "decimal"
	TypeDate           InputType = "date"
	TypeTime           InputType = "time"
	TypeLocation       InputType = "location"
	TypeDropdown       InputType = "dropdown"
	TypeRadio          InputType = "radio"
	TypeCheckbox       InputType = "checkbox"
	TypeSearchSingle   InputType = "searchsingle"
	TypeSearchMultiple InputType = "searchmultiple"
	TypeBranch         InputType = "branch"
	TypeGroup          InputType = "group"
	TypePhoto          InputType = "photo"
	TypeVideo          InputType = "video"
	TypeAudio          InputType = "audio"
	TypeBarcode        InputType = "barcode"
	TypePhone          InputType = "phone"
	TypeReadme         InputType = "readme"
)

var knownTypes = map[InputType]bool{
	TypeText: true, TypeTextarea: true, TypeInteger: true, TypeDecimal: true,
	TypeDate: true, TypeTime: true, TypeLocation: true, TypeDropdown: true,
	TypeRadio: true, TypeCheckbox: true, TypeSearchSingle: true,
	TypeSearchMultiple: true, TypeBranch: true, TypeGroup: true,
	TypePhoto: true, TypeVideo: true, TypeAudio: true, TypeBarcode: true,
	TypePhone: true, TypeReadme: true,
}

// Valid reports whether t is a known input type.
func (t InputType) Valid() bool {
	return knownTypes[t]
}

// IsChoice reports whether answers of this type are answer refs.
func (t InputType) IsChoice() bool {
	switch t {
	case TypeDropdown, TypeRadio, TypeCheckbox, TypeSearchSingle, TypeSearchMultiple:
		return true
	}
	return false
}

// IsMultiChoice reports whether the answer is a list of answer refs.
func (t InputType) IsMultiChoice() bool {
	switch t {
	case TypeCheckbox, TypeSearchSingle, TypeSearchMultiple:
		return true
	}
	return false
}

// IsMedia reports whether the answer is a stored media filename.
func (t InputType) IsMedia() bool {
	return t == TypePhoto || t == TypeVideo || t == TypeAudio
}

// HoldsData reports whether inputs of this type produce an answer.
// Readme inputs are display-only.
func (t InputType) HoldsData() bool {
	return t != TypeReadme
}

// InputKind is the structural variant of an input.
type InputKind int

const (
	KindLeaf InputKind = iota
	KindGroup
	KindBranch
)

func (k InputKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindBranch:
		return "branch"
	default:
		return "leaf"
	}
}

// Uniqueness is the duplicate-answer policy configured on an input.
type Uniqueness string

const (
	UniqueNone      Uniqueness = "none"
	UniqueForm      Uniqueness = "form"
	UniqueHierarchy Uniqueness = "hierarchy"
)

// Access controls who can see project data.
type Access string

const (
	AccessPublic  Access = "public"
	AccessPrivate Access = "private"
)

// PossibleAnswer is one selectable option of a choice input.
type PossibleAnswer struct {
	AnswerRef string `json:"answer_ref"`
	Answer    string `json:"answer"`
}

// Input is one node of the form schema.
type Input struct {
	Ref             string           `json:"ref"`
	Type            InputType        `json:"type"`
	Question        string           `json:"question"`
	PossibleAnswers []PossibleAnswer `json:"possible_answers,omitempty"`
	Group           []Input          `json:"group,omitempty"`
	Branch          []Input          `json:"branch,omitempty"`
	DatetimeFormat  string           `json:"datetime_format,omitempty"`
	Uniqueness      Uniqueness       `json:"uniqueness,omitempty"`
}

// Kind returns the structural variant of the input.
func (in Input) Kind() InputKind {
	switch in.Type {
	case TypeGroup:
		return KindGroup
	case TypeBranch:
		return KindBranch
	default:
		return KindLeaf
	}
}

// Children returns the nested inputs of a group or branch, nil for leaves.
func (in Input) Children() []Input {
	switch in.Kind() {
	case KindGroup:
		return in.Group
	case KindBranch:
		return in.Branch
	default:
		return nil
	}
}

// Form is one hierarchy level of a project.
type Form struct {
	Ref       string  `json:"ref"`
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	ParentRef string  `json:"parent_ref,omitempty"`
	Inputs    []Input `json:"inputs"`
}

// BranchInputs returns the branch inputs declared directly on the form,
// in schema order.
func (f Form) BranchInputs() []Input {
	var out []Input
	for _, in := range f.Inputs {
		if in.Kind() == KindBranch {
			out = append(out, in)
		}
	}
	return out
}

// Project is a parsed project definition.
type Project struct {
	ID     int64  `json:"-"`
	Ref    string `json:"ref"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Access Access `json:"access"`
	Forms  []Form `json:"forms"`

	inputs map[string]located
}

type located struct {
	input   Input
	formRef string
	// ownerRef is the enclosing group or branch ref, empty at form level.
	ownerRef string
}

// IsPrivate reports whether the project data is restricted to members.
func (p *Project) IsPrivate() bool {
	return p.Access == AccessPrivate
}

// TopForm returns the root of the form hierarchy.
func (p *Project) TopForm() (Form, bool) {
	if len(p.Forms) == 0 {
		return Form{}, false
	}
	return p.Forms[0], true
}

// IsTopForm reports whether ref names the project's root form.
func (p *Project) IsTopForm(ref string) bool {
	top, ok := p.TopForm()
	return ok && top.Ref == ref
}

// Form returns the form with the given ref.
func (p *Project) Form(ref string) (Form, bool) {
	for _, f := range p.Forms {
		if f.Ref == ref {
			return f, true
		}
	}
	return Form{}, false
}

// Input looks up any input in the project by ref, including inputs nested
// inside groups and branches.
func (p *Project) Input(ref string) (Input, bool) {
	if p.inputs == nil {
		p.index()
	}
	loc, ok := p.inputs[ref]
	return loc.input, ok
}

// FormOf returns the ref of the form that declares the input.
func (p *Project) FormOf(ref string) (string, bool) {
	if p.inputs == nil {
		p.index()
	}
	loc, ok := p.inputs[ref]
	return loc.formRef, ok
}

// OwnerOf returns the group or branch ref enclosing the input, or "" when
// the input sits directly on a form.
func (p *Project) OwnerOf(ref string) string {
	if p.inputs == nil {
		p.index()
	}
	return p.inputs[ref].ownerRef
}

func (p *Project) index() {
	p.inputs = make(map[string]located)
	for _, f := range p.Forms {
		for _, in := range f.Inputs {
			p.inputs[in.Ref] = located{input: in, formRef: f.Ref}
			for _, child := range in.Children() {
				p.inputs[child.Ref] = located{input: child, formRef: f.Ref, ownerRef: in.Ref}
				for _, grandchild := range child.Children() {
					p.inputs[grandchild.Ref] = located{input: grandchild, formRef: f.Ref, ownerRef: child.Ref}
				}
			}
		}
	}
}
