package projection

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Row is one projected entry: a PositionalRow for CSV or a *KeyedRow for
// JSON.
type Row interface {
	// Len returns the number of top-level values.
	Len() int
}

// PositionalRow is a CSV record aligned with the positional header.
type PositionalRow []string

// Len implements Row.
func (r PositionalRow) Len() int { return len(r) }

// KeyedRow is a JSON object whose keys keep header order.
type KeyedRow struct {
	keys   []string
	values []any
}

// Len implements Row.
func (r *KeyedRow) Len() int { return len(r.keys) }

// Keys returns the object keys in output order.
func (r *KeyedRow) Keys() []string { return r.keys }

// Get returns the value stored under key.
func (r *KeyedRow) Get(key string) (any, bool) {
	for i, k := range r.keys {
		if k == key {
			return r.values[i], true
		}
	}
	return nil, false
}

// MarshalJSON writes the object with keys in header order.
func (r *KeyedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Location is the six-value expansion of a location answer.
type Location struct {
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	Accuracy    string `json:"accuracy"`
	UTMNorthing string `json:"UTM_Northing"`
	UTMEasting  string `json:"UTM_Easting"`
	UTMZone     string `json:"UTM_Zone"`
}

func (l Location) values() []string {
	return []string{l.Latitude, l.Longitude, l.Accuracy, l.UTMNorthing, l.UTMEasting, l.UTMZone}
}

// positional renders transform outputs as CSV cells.
func positional(values []any) PositionalRow {
	row := make(PositionalRow, 0, len(values))
	for _, v := range values {
		switch val := v.(type) {
		case string:
			row = append(row, val)
		case []string:
			row = append(row, joinLabels(val))
		case Location:
			row = append(row, val.values()...)
		case int:
			row = append(row, strconv.Itoa(val))
		case int64:
			row = append(row, strconv.FormatInt(val, 10))
		case float64:
			row = append(row, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			row = append(row, "")
		}
	}
	return row
}

// joinLabels joins multi-choice labels with ", ", quoting labels that
// contain a comma so the list can be split again.
func joinLabels(labels []string) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		if strings.Contains(l, ",") {
			l = `"` + strings.ReplaceAll(l, `"`, `""`) + `"`
		}
		parts[i] = l
	}
	return strings.Join(parts, ", ")
}
