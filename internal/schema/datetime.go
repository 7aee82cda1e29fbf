package schema

import (
	"strings"
	"time"
)

// Date and time answers are stored as ISO 8601 timestamps regardless of the
// display format chosen for the input. The display format decides both how
// the value is rendered on export and which fields take part in duplicate
// comparisons.

// Field is one calendar or clock component of a timestamp.
type Field int

const (
	FieldYear Field = iota
	FieldMonth
	FieldDay
	FieldHour
	FieldMinute
	FieldSecond
)

var fieldLayouts = map[Field]string{
	FieldYear:   "2006",
	FieldMonth:  "01",
	FieldDay:    "02",
	FieldHour:   "15",
	FieldMinute: "04",
	FieldSecond: "05",
}

var fieldPatterns = map[Field]string{
	FieldYear:   "YYYY",
	FieldMonth:  "MM",
	FieldDay:    "DD",
	FieldHour:   "HH24",
	FieldMinute: "MI",
	FieldSecond: "SS",
}

type displayFormat struct {
	layout string
	fields []Field
}

var displayFormats = map[string]displayFormat{
	"dd/MM/YYYY": {"02/01/2006", []Field{FieldYear, FieldMonth, FieldDay}},
	"MM/dd/YYYY": {"01/02/2006", []Field{FieldYear, FieldMonth, FieldDay}},
	"YYYY/MM/dd": {"2006/01/02", []Field{FieldYear, FieldMonth, FieldDay}},
	"MM/YYYY":    {"01/2006", []Field{FieldYear, FieldMonth}},
	"dd/MM":      {"02/01", []Field{FieldMonth, FieldDay}},
	"HH:mm:ss":   {"15:04:05", []Field{FieldHour, FieldMinute, FieldSecond}},
	"hh:mm:ss":   {"03:04:05", []Field{FieldHour, FieldMinute, FieldSecond}},
	"HH:mm":      {"15:04", []Field{FieldHour, FieldMinute}},
	"hh:mm":      {"03:04", []Field{FieldHour, FieldMinute}},
	"mm:ss":      {"04:05", []Field{FieldMinute, FieldSecond}},
}

// storedLayouts are the accepted encodings of a stored date/time answer.
var storedLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Layout returns the Go time layout for a display format.
func Layout(format string) (string, bool) {
	df, ok := displayFormats[format]
	return df.layout, ok
}

// ParseStored parses a stored date/time answer.
func ParseStored(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range storedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatStored renders a stored answer with the input's display format.
// Values that cannot be parsed, or inputs without a known format, are
// returned unchanged.
func FormatStored(raw, format string) string {
	layout, ok := Layout(format)
	if !ok {
		return raw
	}
	t, ok := ParseStored(raw)
	if !ok {
		return raw
	}
	return t.Format(layout)
}

// Precision is the set of timestamp fields compared when checking two
// date/time answers for equality.
type Precision struct {
	fields []Field
}

// PrecisionFor returns the comparison precision for an input type and display
// format. Non date/time inputs and unknown formats compare the whole value
// (ok is false).
func PrecisionFor(t InputType, format string) (Precision, bool) {
	if t != TypeDate && t != TypeTime {
		return Precision{}, false
	}
	df, ok := displayFormats[format]
	if !ok {
		return Precision{}, false
	}
	return Precision{fields: df.fields}, true
}

// Fields returns the compared fields in canonical order.
func (p Precision) Fields() []Field {
	return p.fields
}

// Key renders the compared fields of a stored answer as a canonical string.
// Two answers are duplicates under this precision iff their keys are equal.
func (p Precision) Key(raw string) (string, bool) {
	t, ok := ParseStored(raw)
	if !ok {
		return "", false
	}
	return t.Format(p.layout()), true
}

// SQLPattern returns the Postgres to_char pattern that produces the same
// key as Key.
func (p Precision) SQLPattern() string {
	parts := make([]string, len(p.fields))
	for i, f := range p.fields {
		parts[i] = fieldPatterns[f]
	}
	return strings.Join(parts, "|")
}

func (p Precision) layout() string {
	parts := make([]string, len(p.fields))
	for i, f := range p.fields {
		parts[i] = fieldLayouts[f]
	}
	return strings.Join(parts, "|")
}
