package mapping

import (
	"strconv"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// Reconcile brings a stored mapping in line with the current schema. Inputs
// and answers added since the mapping was saved get generated names,
// numbered after the highest prefix already in use; inputs that no longer
// exist are dropped. Existing names and hide flags are kept. The second
// return value reports whether anything changed.
func (g Generator) Reconcile(p *schema.Project, m Mapping) (Mapping, bool) {
	r := reconciler{gen: g, counter: NewCounter(highestPrefix(m))}

	out := m
	out.Forms = make([]FormMapping, 0, len(p.Forms))
	for _, f := range p.Forms {
		existing, ok := m.Form(f.Ref)
		if !ok {
			r.changed = true
		}
		out.Forms = append(out.Forms, FormMapping{
			FormRef: f.Ref,
			Inputs:  r.inputs(f.Inputs, existing.Inputs),
		})
	}
	if len(m.Forms) != len(out.Forms) {
		r.changed = true
	}
	return out, r.changed
}

type reconciler struct {
	gen     Generator
	counter *Counter
	changed bool
}

func (r *reconciler) inputs(inputs []schema.Input, existing []InputMapping) []InputMapping {
	byRef := Index(existing)
	out := make([]InputMapping, 0, len(inputs))
	for _, in := range inputs {
		if !in.Type.HoldsData() {
			continue
		}
		im, ok := byRef[in.Ref]
		if !ok {
			r.changed = true
			out = append(out, r.gen.input(in, r.counter))
			continue
		}
		if in.Type.IsChoice() {
			im.PossibleAnswers = r.answers(in.PossibleAnswers, im.PossibleAnswers)
		}
		switch in.Kind() {
		case schema.KindGroup:
			im.Group = r.inputs(in.Group, im.Group)
		case schema.KindBranch:
			im.Branch = r.inputs(in.Branch, im.Branch)
		}
		out = append(out, im)
	}
	if len(out) != len(existing) {
		r.changed = true
	}
	return out
}

func (r *reconciler) answers(answers []schema.PossibleAnswer, existing []AnswerMapping) []AnswerMapping {
	labels := make(map[string]string, len(existing))
	for _, am := range existing {
		labels[am.AnswerRef] = am.MapTo
	}
	out := make([]AnswerMapping, 0, len(answers))
	for _, pa := range answers {
		label, ok := labels[pa.AnswerRef]
		if !ok {
			r.changed = true
			label = pa.Answer
		}
		out = append(out, AnswerMapping{AnswerRef: pa.AnswerRef, MapTo: label})
	}
	if len(out) != len(existing) {
		r.changed = true
	}
	return out
}

// highestPrefix returns the largest "<n>_" prefix used by any column, or
// the number of mapped inputs when users renamed columns away from the
// generated form.
func highestPrefix(m Mapping) int {
	highest, total := 0, 0
	var walk func([]InputMapping)
	walk = func(inputs []InputMapping) {
		for _, im := range inputs {
			total++
			if head, _, ok := strings.Cut(im.MapTo, "_"); ok {
				if n, err := strconv.Atoi(head); err == nil && n > highest {
					highest = n
				}
			}
			walk(im.Group)
			walk(im.Branch)
		}
	}
	for _, fm := range m.Forms {
		walk(fm.Inputs)
	}
	if total > highest {
		return total
	}
	return highest
}
