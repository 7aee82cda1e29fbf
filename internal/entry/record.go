// Package entry decodes stored entry payloads into typed records.
//
// Entries are persisted as the JSON document the collecting device uploaded
// (after validation) plus a handful of relational columns. Decoding happens
// once, at this boundary: everything downstream works with Record and the
// tagged Answer values instead of re-inspecting raw JSON.
package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed is returned when a stored payload cannot be decoded. Export
// skips such rows instead of aborting.
var ErrMalformed = errors.New("malformed entry payload")

// Type distinguishes hierarchy entries from branch entries.
type Type string

const (
	TypeEntry       Type = "entry"
	TypeBranchEntry Type = "branch_entry"
)

// PlatformWeb is the platform value for entries submitted from a browser.
const PlatformWeb = "WEB"

// Stored is one row as read from the entry tables.
type Stored struct {
	ID           int64
	UUID         string
	UserID       int64
	DeviceIDHash string
	UploadedAt   time.Time
	Data         []byte // entry_data JSON
	BranchCounts []byte // branch_counts JSON, nil for branch entries
}

// Record is a decoded entry or branch entry.
type Record struct {
	UUID      string
	Type      Type
	FormRef   string
	Title     string
	CreatedAt string
	Platform  string
	DeviceID  string
	Answers   map[string]Answer

	// Hierarchy relationship; empty for entries of the top form.
	ParentUUID    string
	ParentFormRef string

	// Branch relationship; set only for branch entries.
	OwnerUUID     string
	OwnerInputRef string

	// Row metadata, filled by FromStored.
	ID           int64
	UserID       int64
	DeviceIDHash string
	UploadedAt   time.Time
	BranchCounts map[string]int
}

// IsBranch reports whether the record is a branch entry.
func (r *Record) IsBranch() bool {
	return r.Type == TypeBranchEntry
}

// Answer returns the decoded answer for an input ref, EmptyAnswer when absent.
func (r *Record) Answer(ref string) Answer {
	if a, ok := r.Answers[ref]; ok {
		return a
	}
	return EmptyAnswer{}
}

type payload struct {
	ID            string        `json:"id"`
	Type          Type          `json:"type"`
	Entry         *body         `json:"entry"`
	BranchEntry   *body         `json:"branch_entry"`
	Attributes    attributes    `json:"attributes"`
	Relationships relationships `json:"relationships"`
}

type body struct {
	EntryUUID string                  `json:"entry_uuid"`
	CreatedAt string                  `json:"created_at"`
	DeviceID  string                  `json:"device_id"`
	Platform  string                  `json:"platform"`
	Title     string                  `json:"title"`
	Answers   map[string]storedAnswer `json:"answers"`
}

type attributes struct {
	Form struct {
		Ref string `json:"ref"`
	} `json:"form"`
}

type relationships struct {
	Parent struct {
		Data struct {
			ParentFormRef   string `json:"parent_form_ref"`
			ParentEntryUUID string `json:"parent_entry_uuid"`
		} `json:"data"`
	} `json:"parent"`
	Branch struct {
		Data struct {
			OwnerInputRef  string `json:"owner_input_ref"`
			OwnerEntryUUID string `json:"owner_entry_uuid"`
		} `json:"data"`
	} `json:"branch"`
}

// Decode parses a stored entry_data document.
func Decode(data []byte) (*Record, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var b *body
	switch p.Type {
	case TypeEntry:
		b = p.Entry
	case TypeBranchEntry:
		b = p.BranchEntry
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, p.Type)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: missing %q body", ErrMalformed, p.Type)
	}

	id := b.EntryUUID
	if id == "" {
		id = p.ID
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid uuid %q", ErrMalformed, id)
	}

	rec := &Record{
		UUID:      id,
		Type:      p.Type,
		FormRef:   p.Attributes.Form.Ref,
		Title:     b.Title,
		CreatedAt: b.CreatedAt,
		Platform:  b.Platform,
		DeviceID:  b.DeviceID,
		Answers:   make(map[string]Answer, len(b.Answers)),
	}

	if rec.IsBranch() {
		rec.OwnerUUID = p.Relationships.Branch.Data.OwnerEntryUUID
		rec.OwnerInputRef = p.Relationships.Branch.Data.OwnerInputRef
	} else {
		rec.ParentUUID = p.Relationships.Parent.Data.ParentEntryUUID
		rec.ParentFormRef = p.Relationships.Parent.Data.ParentFormRef
	}

	for ref, stored := range b.Answers {
		if stored.WasJumped {
			rec.Answers[ref] = EmptyAnswer{}
			continue
		}
		a, err := decodeAnswer(stored.Answer)
		if err != nil {
			return nil, fmt.Errorf("%w: answer %q: %v", ErrMalformed, ref, err)
		}
		rec.Answers[ref] = a
	}

	return rec, nil
}

// FromStored decodes a stored row and copies its relational columns onto
// the record.
func FromStored(s Stored) (*Record, error) {
	rec, err := Decode(s.Data)
	if err != nil {
		return nil, err
	}
	rec.ID = s.ID
	rec.UserID = s.UserID
	rec.DeviceIDHash = s.DeviceIDHash
	rec.UploadedAt = s.UploadedAt
	rec.BranchCounts = DecodeBranchCounts(s.BranchCounts)
	return rec, nil
}

// DecodeBranchCounts parses the branch_counts column ({"branchRef": n}).
// Missing or malformed counts decode to an empty map so every branch
// column falls back to 0.
func DecodeBranchCounts(data []byte) map[string]int {
	counts := make(map[string]int)
	if len(data) == 0 {
		return counts
	}
	if err := json.Unmarshal(data, &counts); err != nil {
		return make(map[string]int)
	}
	return counts
}
