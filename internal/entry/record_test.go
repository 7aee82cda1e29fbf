package entry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entryPayload = `{
  "id": "0b8c4e52-4a59-4d77-9a3b-1f1b8f3a2c11",
  "type": "entry",
  "attributes": {"form": {"ref": "p1_f2", "type": "hierarchy"}},
  "relationships": {
    "parent": {"data": {"parent_form_ref": "p1_f1", "parent_entry_uuid": "5d0c1c58-2f2e-4c0b-8d4e-0f4d6d3a9e01"}},
    "branch": {}
  },
  "entry": {
    "entry_uuid": "0b8c4e52-4a59-4d77-9a3b-1f1b8f3a2c11",
    "created_at": "2011-10-05T14:48:00.000Z",
    "device_id": "device-1",
    "platform": "Android",
    "title": "Visit 1",
    "answers": {
      "name": {"answer": "Ana", "was_jumped": false},
      "age": {"answer": 42, "was_jumped": false},
      "ratio": {"answer": 0.25, "was_jumped": false},
      "colour": {"answer": ["r1", "r2"], "was_jumped": false},
      "where": {"answer": {"latitude": 51.5, "longitude": -0.12, "accuracy": 4}, "was_jumped": false},
      "nowhere": {"answer": {"latitude": "", "longitude": "", "accuracy": ""}, "was_jumped": false},
      "skipped": {"answer": "stale", "was_jumped": true},
      "blank": {"answer": null, "was_jumped": false}
    }
  }
}`

func TestDecode_Entry(t *testing.T) {
	rec, err := Decode([]byte(entryPayload))
	require.NoError(t, err)

	assert.Equal(t, "0b8c4e52-4a59-4d77-9a3b-1f1b8f3a2c11", rec.UUID)
	assert.False(t, rec.IsBranch())
	assert.Equal(t, "p1_f2", rec.FormRef)
	assert.Equal(t, "Visit 1", rec.Title)
	assert.Equal(t, "5d0c1c58-2f2e-4c0b-8d4e-0f4d6d3a9e01", rec.ParentUUID)
	assert.Equal(t, "p1_f1", rec.ParentFormRef)

	assert.Equal(t, TextAnswer("Ana"), rec.Answer("name"))
	assert.Equal(t, TextAnswer("42"), rec.Answer("age"))
	assert.Equal(t, TextAnswer("0.25"), rec.Answer("ratio"))
	assert.Equal(t, ListAnswer{"r1", "r2"}, rec.Answer("colour"))
	assert.Equal(t, LocationAnswer{Latitude: "51.5", Longitude: "-0.12", Accuracy: "4"}, rec.Answer("where"))
	assert.True(t, rec.Answer("nowhere").(LocationAnswer).IsEmpty())
	assert.Equal(t, EmptyAnswer{}, rec.Answer("skipped"))
	assert.Equal(t, EmptyAnswer{}, rec.Answer("blank"))
	assert.Equal(t, EmptyAnswer{}, rec.Answer("missing"))
}

func TestDecode_BranchEntry(t *testing.T) {
	payload := `{
	  "type": "branch_entry",
	  "id": "9f5e3c1a-7d2b-4e8f-a1c3-5b6d7e8f9a0b",
	  "relationships": {"branch": {"data": {"owner_input_ref": "p1_f1_br", "owner_entry_uuid": "5d0c1c58-2f2e-4c0b-8d4e-0f4d6d3a9e01"}}},
	  "branch_entry": {"created_at": "2011-10-05T14:48:00.000Z", "answers": {}}
	}`

	rec, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.True(t, rec.IsBranch())
	assert.Equal(t, "9f5e3c1a-7d2b-4e8f-a1c3-5b6d7e8f9a0b", rec.UUID, "falls back to top-level id")
	assert.Equal(t, "p1_f1_br", rec.OwnerInputRef)
	assert.Equal(t, "5d0c1c58-2f2e-4c0b-8d4e-0f4d6d3a9e01", rec.OwnerUUID)
	assert.Empty(t, rec.ParentUUID)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"truncated", `{"type": "entry", "entry": {`},
		{"unknown type", `{"type": "draft", "entry": {}}`},
		{"missing body", `{"type": "entry"}`},
		{"bad uuid", `{"type": "entry", "entry": {"entry_uuid": "nope"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestDecodeBranchCounts(t *testing.T) {
	assert.Equal(t, map[string]int{"br": 3}, DecodeBranchCounts([]byte(`{"br": 3}`)))
	assert.Empty(t, DecodeBranchCounts(nil))
	assert.Empty(t, DecodeBranchCounts([]byte(`[1,2`)))
}

func TestFromStored(t *testing.T) {
	uploaded := time.Date(2011, 10, 6, 9, 0, 0, 0, time.UTC)
	rec, err := FromStored(Stored{
		ID:           7,
		UserID:       3,
		UploadedAt:   uploaded,
		Data:         []byte(entryPayload),
		BranchCounts: []byte(`{"p1_f2_br": 2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, int64(3), rec.UserID)
	assert.Equal(t, uploaded, rec.UploadedAt)
	assert.Equal(t, 2, rec.BranchCounts["p1_f2_br"])

	_, err = FromStored(Stored{Data: []byte("{")})
	assert.ErrorIs(t, err, ErrMalformed)
}
