package entry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Answer is the decoded value stored for one input. The concrete type
// depends on the shape of the stored JSON, not on the schema: the
// projection decides what to do with it based on the input type.
type Answer interface {
	// Text returns the scalar form of the answer ("" for lists and
	// locations).
	Text() string
	isAnswer()
}

// EmptyAnswer is a missing, null or jumped answer.
type EmptyAnswer struct{}

// TextAnswer is any scalar: free text, numbers, answer refs, filenames,
// timestamps.
type TextAnswer string

// ListAnswer holds multiple answer refs.
type ListAnswer []string

// LocationAnswer is a captured GPS position. Fields are kept as their
// decimal string form so an empty capture stays distinguishable from 0.
type LocationAnswer struct {
	Latitude  string
	Longitude string
	Accuracy  string
}

func (EmptyAnswer) Text() string { return "" }
func (a TextAnswer) Text() string { return string(a) }
func (ListAnswer) Text() string { return "" }
func (LocationAnswer) Text() string { return "" }
func (EmptyAnswer) isAnswer() {}
func (TextAnswer) isAnswer() {}
func (ListAnswer) isAnswer() {}
func (LocationAnswer) isAnswer() {}

// IsEmpty reports whether the location has no coordinates.
func (l LocationAnswer) IsEmpty() bool {
	return l.Latitude == "" || l.Longitude == ""
}

// storedAnswer is the per-input envelope: {"answer": ..., "was_jumped": ...}.
type storedAnswer struct {
	Answer    json.RawMessage `json:"answer"`
	WasJumped bool            `json:"was_jumped"`
}

// decodeAnswer converts one raw "answer" value to its tagged form.
func decodeAnswer(raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return EmptyAnswer{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case string:
		return TextAnswer(val), nil
	case json.Number:
		return TextAnswer(val.String()), nil
	case bool:
		if val {
			return TextAnswer("true"), nil
		}
		return TextAnswer("false"), nil
	case []any:
		list := make(ListAnswer, 0, len(val))
		for _, item := range val {
			list = append(list, scalarString(item))
		}
		return list, nil
	case map[string]any:
		return LocationAnswer{
			Latitude:  scalarString(val["latitude"]),
			Longitude: scalarString(val["longitude"]),
			Accuracy:  scalarString(val["accuracy"]),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported answer value %s", string(raw))
	}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
