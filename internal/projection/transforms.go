package projection

import (
	"math"
	"strconv"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// transformFunc turns the stored answer of one column into its output
// value: a string, a []string of labels, a Location, an int count, or an
// int64/float64 for numeric casts.
type transformFunc func(p *Projector, col column, rec *entry.Record) any

// transforms maps input types to their value transform. Types without an
// entry pass their text through unchanged.
var transforms = map[schema.InputType]transformFunc{
	schema.TypeRadio:          singleChoice,
	schema.TypeDropdown:       singleChoice,
	schema.TypeCheckbox:       multiChoice,
	schema.TypeSearchSingle:   multiChoice,
	schema.TypeSearchMultiple: multiChoice,
	schema.TypeLocation:       location,
	schema.TypeDate:           datetime,
	schema.TypeTime:           datetime,
	schema.TypePhoto:          media,
	schema.TypeVideo:          media,
	schema.TypeAudio:          media,
	schema.TypeBranch:         branchCount,
	schema.TypeInteger:        integer,
	schema.TypeDecimal:        decimal,
}

func transformFor(t schema.InputType) transformFunc {
	if fn, ok := transforms[t]; ok {
		return fn
	}
	return passthrough
}

func passthrough(_ *Projector, col column, rec *entry.Record) any {
	return answerText(rec.Answer(col.input.Ref))
}

// answerText returns the scalar form of an answer. A list falls back to its
// first element so a type change in the schema does not drop data.
func answerText(a entry.Answer) string {
	if list, ok := a.(entry.ListAnswer); ok {
		if len(list) > 0 {
			return list[0]
		}
		return ""
	}
	return a.Text()
}

func singleChoice(_ *Projector, col column, rec *entry.Record) any {
	ref := answerText(rec.Answer(col.input.Ref))
	if ref == "" {
		return ""
	}
	label, _ := col.mapping.Label(ref)
	return label
}

func multiChoice(_ *Projector, col column, rec *entry.Record) any {
	var refs []string
	switch a := rec.Answer(col.input.Ref).(type) {
	case entry.ListAnswer:
		refs = a
	case entry.TextAnswer:
		if a != "" {
			refs = []string{string(a)}
		}
	}

	labels := make([]string, 0, len(refs))
	for _, ref := range refs {
		if label, ok := col.mapping.Label(ref); ok {
			labels = append(labels, label)
		}
	}
	return labels
}

func location(_ *Projector, col column, rec *entry.Record) any {
	loc, ok := rec.Answer(col.input.Ref).(entry.LocationAnswer)
	if !ok || loc.IsEmpty() {
		return Location{}
	}

	lat, errLat := strconv.ParseFloat(loc.Latitude, 64)
	lon, errLon := strconv.ParseFloat(loc.Longitude, 64)
	if errLat != nil || errLon != nil {
		return Location{}
	}
	utm, err := ToUTM(lat, lon)
	if err != nil {
		return Location{}
	}

	return Location{
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Accuracy:    loc.Accuracy,
		UTMNorthing: strconv.FormatInt(utm.Northing, 10),
		UTMEasting:  strconv.FormatInt(utm.Easting, 10),
		UTMZone:     utm.Zone,
	}
}

func datetime(_ *Projector, col column, rec *entry.Record) any {
	raw := answerText(rec.Answer(col.input.Ref))
	if raw == "" {
		return ""
	}
	return schema.FormatStored(raw, col.input.DatetimeFormat)
}

func media(p *Projector, col column, rec *entry.Record) any {
	name := answerText(rec.Answer(col.input.Ref))
	if name == "" || p.Project.IsPrivate() {
		return name
	}
	return MediaURL(p.Options.MediaBaseURL, p.Project.Slug, col.input.Type, name)
}

func branchCount(_ *Projector, col column, rec *entry.Record) any {
	return rec.BranchCounts[col.input.Ref]
}

// integer mirrors a numeric cast: fractional values truncate and text that
// is not a number becomes 0. Empty answers stay empty.
func integer(_ *Projector, col column, rec *entry.Record) any {
	raw := strings.TrimSpace(answerText(rec.Answer(col.input.Ref)))
	if raw == "" {
		return ""
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, ok := parseFinite(raw); ok && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return int64(0)
}

func decimal(_ *Projector, col column, rec *entry.Record) any {
	raw := strings.TrimSpace(answerText(rec.Answer(col.input.Ref)))
	if raw == "" {
		return ""
	}
	if f, ok := parseFinite(raw); ok {
		return f
	}
	return float64(0)
}

// parseFinite rejects NaN and infinities, which have no JSON form.
func parseFinite(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
