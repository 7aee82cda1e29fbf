package mapping

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// DefaultMaxColumnLength bounds generated column names when no limit is
// configured.
const DefaultMaxColumnLength = 20

// Counter numbers generated columns. One counter is shared by every form of
// a project so prefixes never repeat within a mapping.
type Counter struct {
	n int
}

// NewCounter returns a counter whose first Next call yields start+1.
func NewCounter(start int) *Counter {
	return &Counter{n: start}
}

// Next increments and returns the counter.
func (c *Counter) Next() int {
	c.n++
	return c.n
}

// Value returns the last number handed out.
func (c *Counter) Value() int {
	return c.n
}

// Generator builds the AUTO mapping of a project.
type Generator struct {
	MaxColumnLength int
}

// Generate walks the forms in schema order and names every data input.
// The result depends only on the schema and the counter's starting value.
func (g Generator) Generate(p *schema.Project, c *Counter) Mapping {
	m := Mapping{
		Name:      DefaultName,
		MapIndex:  DefaultIndex,
		IsDefault: true,
		Forms:     make([]FormMapping, 0, len(p.Forms)),
	}
	for _, f := range p.Forms {
		m.Forms = append(m.Forms, FormMapping{
			FormRef: f.Ref,
			Inputs:  g.inputs(f.Inputs, c),
		})
	}
	return m
}

func (g Generator) inputs(inputs []schema.Input, c *Counter) []InputMapping {
	out := make([]InputMapping, 0, len(inputs))
	for _, in := range inputs {
		if !in.Type.HoldsData() {
			continue
		}
		out = append(out, g.input(in, c))
	}
	return out
}

func (g Generator) input(in schema.Input, c *Counter) InputMapping {
	im := InputMapping{
		Ref:   in.Ref,
		MapTo: g.ColumnName(c.Next(), in.Question),
	}
	if in.Type.IsChoice() {
		im.PossibleAnswers = make([]AnswerMapping, 0, len(in.PossibleAnswers))
		for _, pa := range in.PossibleAnswers {
			im.PossibleAnswers = append(im.PossibleAnswers, AnswerMapping{
				AnswerRef: pa.AnswerRef,
				MapTo:     pa.Answer,
			})
		}
	}
	switch in.Kind() {
	case schema.KindGroup:
		im.Group = g.inputs(in.Group, c)
	case schema.KindBranch:
		im.Branch = g.inputs(in.Branch, c)
	}
	return im
}

// ColumnName builds "<n>_<sanitized question>" cut to the configured length.
// The numeric prefix is never cut, and a cut never leaves a trailing
// underscore after the question text.
func (g Generator) ColumnName(n int, question string) string {
	prefix := strconv.Itoa(n) + "_"
	name := prefix + Sanitize(question)

	maxLen := g.maxColumnLength()
	if len(name) <= maxLen {
		return name
	}
	if len(prefix) >= maxLen {
		return prefix
	}
	return prefix + strings.TrimRight(name[len(prefix):maxLen], "_")
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	disallowed = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// Sanitize folds accents to their base letter, collapses whitespace runs to
// a single underscore and drops anything outside [A-Za-z0-9_].
func Sanitize(s string) string {
	folded, _, err := transform.String(foldAccents(), s)
	if err != nil {
		folded = s
	}
	folded = whitespace.ReplaceAllString(strings.TrimSpace(folded), "_")
	return disallowed.ReplaceAllString(folded, "")
}

// foldAccents decomposes characters and strips the combining marks.
// Transformers are stateful, so each call gets a fresh chain.
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
