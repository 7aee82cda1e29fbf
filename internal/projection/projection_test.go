package projection

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fieldexport/internal/entry"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

const definition = `{"project": {
  "ref": "p1", "slug": "demo", "name": "Demo", "access": "public",
  "forms": [
    {"ref": "p1_f1", "slug": "households", "name": "Households", "inputs": [
      {"ref": "p1_f1_name", "type": "text", "question": "Name"},
      {"ref": "p1_f1_colour", "type": "radio", "question": "Colour",
       "possible_answers": [{"answer_ref": "r1", "answer": "Red"}, {"answer_ref": "r2", "answer": "Blue"}]},
      {"ref": "p1_f1_pets", "type": "checkbox", "question": "Pets",
       "possible_answers": [{"answer_ref": "c1", "answer": "Cat"}, {"answer_ref": "c2", "answer": "Dog, large"}, {"answer_ref": "c3", "answer": "Fish"}]},
      {"ref": "p1_f1_where", "type": "location", "question": "Where"},
      {"ref": "p1_f1_grp", "type": "group", "question": "Address", "group": [
        {"ref": "p1_f1_grp_street", "type": "text", "question": "Street"}
      ]},
      {"ref": "p1_f1_photo", "type": "photo", "question": "Photo"},
      {"ref": "p1_f1_size", "type": "integer", "question": "Size"},
      {"ref": "p1_f1_ratio", "type": "decimal", "question": "Ratio"},
      {"ref": "p1_f1_when", "type": "date", "question": "When", "datetime_format": "dd/MM/YYYY"},
      {"ref": "p1_f1_br", "type": "branch", "question": "Members", "branch": [
        {"ref": "p1_f1_br_name", "type": "text", "question": "Name"},
        {"ref": "p1_f1_br_loc", "type": "location", "question": "Seen at"}
      ]}
    ]},
    {"ref": "p1_f2", "slug": "visits", "name": "Visits", "parent_ref": "p1_f1", "inputs": [
      {"ref": "p1_f2_notes", "type": "text", "question": "Notes"}
    ]}
  ]
}}`

const (
	entryUUID  = "0b8c4e52-4a59-4d77-9a3b-1f1b8f3a2c11"
	branchUUID = "9f5e3c1a-7d2b-4e8f-a1c3-5b6d7e8f9a0b"
	baseURL    = "https://five.example.org"
)

const fullEntry = `{
  "type": "entry",
  "attributes": {"form": {"ref": "p1_f1"}},
  "entry": {
    "entry_uuid": "` + entryUUID + `",
    "created_at": "2011-10-05T14:48:00.000Z",
    "title": "Ana",
    "answers": {
      "p1_f1_name": {"answer": "Ana"},
      "p1_f1_colour": {"answer": "r2"},
      "p1_f1_pets": {"answer": ["c1", "c2", "unknown"]},
      "p1_f1_where": {"answer": {"latitude": 51.5, "longitude": -0.12, "accuracy": 4}},
      "p1_f1_grp_street": {"answer": "High St"},
      "p1_f1_photo": {"answer": "abc.jpg"},
      "p1_f1_size": {"answer": "3.7"},
      "p1_f1_ratio": {"answer": 0.50},
      "p1_f1_when": {"answer": "2011-10-05T14:48:00.000"},
      "p1_f1_br": {"answer": ""}
    }
  }
}`

const emptyEntry = `{
  "type": "entry",
  "entry": {"entry_uuid": "` + entryUUID + `", "created_at": "2011-10-05T14:48:00.000Z", "answers": {}}
}`

const branchEntry = `{
  "type": "branch_entry",
  "relationships": {"branch": {"data": {"owner_input_ref": "p1_f1_br", "owner_entry_uuid": "` + entryUUID + `"}}},
  "branch_entry": {
    "entry_uuid": "` + branchUUID + `",
    "created_at": "2011-10-05T15:00:00.000Z",
    "answers": {
      "p1_f1_br_name": {"answer": "Ben"},
      "p1_f1_br_loc": {"answer": {"latitude": "", "longitude": "", "accuracy": ""}}
    }
  }
}`

func newProjector(t *testing.T, def string, users *UserCache) *Projector {
	t.Helper()
	p, err := schema.Parse([]byte(def))
	require.NoError(t, err)
	m := mapping.Generator{MaxColumnLength: 20}.Generate(p, mapping.NewCounter(0))
	return New(p, m, Options{MediaBaseURL: baseURL}, users)
}

var (
	topForm    = Target{FormRef: "p1_f1"}
	childForm  = Target{FormRef: "p1_f2"}
	branchForm = Target{FormRef: "p1_f1", BranchRef: "p1_f1_br"}
)

func TestBuildHeader(t *testing.T) {
	pr := newProjector(t, definition, nil)

	header, err := pr.BuildHeader(topForm, Positional)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ec5_uuid", "created_at", "uploaded_at", "title",
		"1_Name", "2_Colour", "3_Pets",
		"lat_4_Where", "long_4_Where", "accuracy_4_Where",
		"UTM_Northing_4_Where", "UTM_Easting_4_Where", "UTM_Zone_4_Where",
		"6_Street", "7_Photo", "8_Size", "9_Ratio", "10_When", "11_Members",
	}, header)

	keyed, err := pr.BuildHeader(topForm, Keyed)
	require.NoError(t, err)
	assert.Contains(t, keyed, "4_Where")
	assert.NotContains(t, keyed, "5_Address", "groups are inlined")

	child, err := pr.BuildHeader(childForm, Positional)
	require.NoError(t, err)
	assert.Equal(t, []string{"ec5_uuid", "ec5_parent_uuid", "created_at", "uploaded_at", "title", "14_Notes"}, child)

	branch, err := pr.BuildHeader(branchForm, Positional)
	require.NoError(t, err)
	assert.Equal(t, []string{"ec5_branch_owner_uuid", "ec5_branch_uuid"}, branch[:2])
	assert.Len(t, branch, 12)

	_, err = pr.BuildHeader(Target{FormRef: "nope"}, Positional)
	assert.ErrorIs(t, err, ErrUnknownTarget)
	_, err = pr.BuildHeader(Target{FormRef: "p1_f1", BranchRef: "p1_f1_name"}, Positional)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestFlatten_Positional(t *testing.T) {
	pr := newProjector(t, definition, nil)

	row, err := pr.Flatten(context.Background(), topForm, []byte(fullEntry), []byte(`{"p1_f1_br": 2}`), Positional)
	require.NoError(t, err)
	cells := row.(PositionalRow)

	header, _ := pr.BuildHeader(topForm, Positional)
	require.Len(t, cells, len(header))

	get := func(col string) string {
		for i, h := range header {
			if h == col {
				return cells[i]
			}
		}
		t.Fatalf("column %q not in header", col)
		return ""
	}

	assert.Equal(t, entryUUID, get("ec5_uuid"))
	assert.Equal(t, "Ana", get("1_Name"))
	assert.Equal(t, "Blue", get("2_Colour"))
	assert.Equal(t, `Cat, "Dog, large"`, get("3_Pets"))
	assert.Equal(t, "51.5", get("lat_4_Where"))
	assert.Equal(t, "30U", get("UTM_Zone_4_Where"))
	assert.Equal(t, "High St", get("6_Street"))
	assert.Equal(t, baseURL+"/api/export/media/demo?type=photo&format=entry_original&name=abc.jpg", get("7_Photo"))
	assert.Equal(t, "3", get("8_Size"))
	assert.Equal(t, "0.5", get("9_Ratio"))
	assert.Equal(t, "05/10/2011", get("10_When"))
	assert.Equal(t, "2", get("11_Members"))
}

func TestFlatten_ChoiceResolution(t *testing.T) {
	pr := newProjector(t, definition, nil)
	payload := `{"type": "entry", "entry": {"entry_uuid": "` + entryUUID + `", "answers": {"p1_f1_colour": {"answer": "r2"}}}}`

	row, err := pr.Flatten(context.Background(), topForm, []byte(payload), nil, Keyed)
	require.NoError(t, err)
	v, ok := row.(*KeyedRow).Get("2_Colour")
	require.True(t, ok)
	assert.Equal(t, "Blue", v)

	payload = strings.Replace(payload, `"r2"`, `"r9"`, 1)
	row, err = pr.Flatten(context.Background(), topForm, []byte(payload), nil, Keyed)
	require.NoError(t, err)
	v, _ = row.(*KeyedRow).Get("2_Colour")
	assert.Equal(t, "", v, "unknown answer refs resolve to empty")
}

func TestFlatten_AlignmentAcrossTargets(t *testing.T) {
	pr := newProjector(t, definition, nil)
	ctx := context.Background()

	cases := []struct {
		target  Target
		payload string
	}{
		{topForm, fullEntry},
		{topForm, emptyEntry},
		{childForm, emptyEntry},
		{branchForm, branchEntry},
	}

	for _, c := range cases {
		header, err := pr.BuildHeader(c.target, Positional)
		require.NoError(t, err)
		row, err := pr.Flatten(ctx, c.target, []byte(c.payload), nil, Positional)
		require.NoError(t, err)
		assert.Equal(t, len(header), row.Len(), "target %s", c.target)

		keyedHeader, _ := pr.BuildHeader(c.target, Keyed)
		keyed, err := pr.Flatten(ctx, c.target, []byte(c.payload), nil, Keyed)
		require.NoError(t, err)
		assert.Equal(t, keyedHeader, keyed.(*KeyedRow).Keys())
	}
}

func TestFlatten_BranchIdentityColumns(t *testing.T) {
	pr := newProjector(t, definition, nil)

	// Customise the mapping: hide and rename inputs of the branch.
	fm := &pr.Mapping.Forms[0]
	for i := range fm.Inputs {
		if fm.Inputs[i].Ref == "p1_f1_br" {
			fm.Inputs[i].Branch[0].Hide = true
			fm.Inputs[i].Branch[1].MapTo = "ec5_first"
		}
	}

	header, err := pr.BuildHeader(branchForm, Positional)
	require.NoError(t, err)
	row, err := pr.Flatten(context.Background(), branchForm, []byte(branchEntry), nil, Positional)
	require.NoError(t, err)

	assert.Equal(t, []string{ColBranchOwnerUUID, ColBranchUUID}, header[:2])
	cells := row.(PositionalRow)
	assert.Equal(t, []string{entryUUID, branchUUID}, []string(cells[:2]))
	assert.Len(t, cells, len(header))
}

func TestFlatten_LocationAllOrNothing(t *testing.T) {
	pr := newProjector(t, definition, nil)
	ctx := context.Background()

	row, err := pr.Flatten(ctx, topForm, []byte(fullEntry), nil, Keyed)
	require.NoError(t, err)
	v, _ := row.(*KeyedRow).Get("4_Where")
	loc := v.(Location)
	assert.NotEmpty(t, loc.UTMZone)
	_, err = strconv.ParseInt(loc.UTMNorthing, 10, 64)
	assert.NoError(t, err)
	_, err = strconv.ParseInt(loc.UTMEasting, 10, 64)
	assert.NoError(t, err)

	row, err = pr.Flatten(ctx, branchForm, []byte(branchEntry), nil, Positional)
	require.NoError(t, err)
	header, _ := pr.BuildHeader(branchForm, Positional)
	cells := row.(PositionalRow)
	for i, h := range header {
		if strings.HasSuffix(h, "13_Seen_at") {
			assert.Equal(t, "", cells[i], "column %s", h)
		}
	}
}

func TestFlatten_KeyedJSON(t *testing.T) {
	pr := newProjector(t, definition, nil)

	row, err := pr.Flatten(context.Background(), topForm, []byte(fullEntry), []byte(`{"p1_f1_br": 2}`), Keyed)
	require.NoError(t, err)

	out, err := json.Marshal(row)
	require.NoError(t, err)
	s := string(out)

	assert.True(t, strings.HasPrefix(s, `{"ec5_uuid":"`+entryUUID+`","created_at":`), s)
	assert.Contains(t, s, `"3_Pets":["Cat","Dog, large"]`)
	assert.Contains(t, s, `"4_Where":{"latitude":"51.5","longitude":"-0.12","accuracy":"4","UTM_Northing":"`)
	assert.Contains(t, s, `"8_Size":3,`)
	assert.Contains(t, s, `"9_Ratio":0.5,`)
	assert.Contains(t, s, `"11_Members":2`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, float64(3), decoded["8_Size"])
	assert.Equal(t, 0.5, decoded["9_Ratio"])
	assert.Less(t, strings.Index(s, `"1_Name"`), strings.Index(s, `"10_When"`), "keys keep header order")
}

func TestFlatten_Malformed(t *testing.T) {
	pr := newProjector(t, definition, nil)
	_, err := pr.Flatten(context.Background(), topForm, []byte(`{"type": "entry", "entry": `), nil, Positional)
	assert.True(t, errors.Is(err, entry.ErrMalformed))
}

func TestTargets_SkipsHiddenBranches(t *testing.T) {
	pr := newProjector(t, definition, nil)
	assert.Equal(t, []Target{topForm, branchForm}, pr.Targets("p1_f1"))

	for i := range pr.Mapping.Forms[0].Inputs {
		if pr.Mapping.Forms[0].Inputs[i].Ref == "p1_f1_br" {
			pr.Mapping.Forms[0].Inputs[i].Hide = true
		}
	}
	assert.Equal(t, []Target{topForm}, pr.Targets("p1_f1"))
	assert.Equal(t, []Target{childForm}, pr.Targets("p1_f2"))
}

type fakeLookup struct {
	emails map[int64]string
	calls  int
}

func (f *fakeLookup) EmailByID(_ context.Context, id int64) (string, error) {
	f.calls++
	if id == 5 {
		return "", errors.New("connection reset")
	}
	email, ok := f.emails[id]
	if !ok {
		return "", ErrUserNotFound
	}
	return email, nil
}

func TestPrivateProject_CreatedBy(t *testing.T) {
	lookup := &fakeLookup{emails: map[int64]string{3: "ana@example.org"}}
	users := NewUserCache(lookup)
	pr := newProjector(t, strings.Replace(definition, `"access": "public"`, `"access": "private"`, 1), users)
	ctx := context.Background()

	header, err := pr.BuildHeader(topForm, Positional)
	require.NoError(t, err)
	assert.Equal(t, []string{"ec5_uuid", "created_at", "uploaded_at", "created_by", "title"}, header[:5])

	tbl, err := pr.Table(topForm)
	require.NoError(t, err)

	uploaded := time.Date(2011, 10, 6, 9, 30, 0, 0, time.UTC)
	project := func(userID int64) PositionalRow {
		rec, err := entry.FromStored(entry.Stored{UserID: userID, UploadedAt: uploaded, Data: []byte(fullEntry)})
		require.NoError(t, err)
		return tbl.Row(ctx, rec, Positional).(PositionalRow)
	}

	first := project(3)
	assert.Equal(t, "2011-10-06T09:30:00.000Z", first[2])
	assert.Equal(t, "ana@example.org", first[3])
	assert.Equal(t, "ana@example.org", project(3)[3])
	assert.Equal(t, 1, lookup.calls, "repeat users are served from the cache")

	assert.Equal(t, UnknownUser, project(0)[3])
	assert.Equal(t, 1, lookup.calls, "anonymous entries never hit the lookup")
	assert.Equal(t, UnknownUser, project(4)[3])
	assert.Equal(t, UnknownUser, project(5)[3])
	assert.Equal(t, 3, users.Lookups())

	for i, h := range header {
		if h == "7_Photo" {
			assert.Equal(t, "abc.jpg", first[i], "private projects never expose media URLs")
		}
	}
}

func TestMediaURL(t *testing.T) {
	tests := []struct {
		typ  schema.InputType
		name string
		want string
	}{
		{schema.TypePhoto, "abc.jpg", baseURL + "/api/export/media/demo?type=photo&format=entry_original&name=abc.jpg"},
		{schema.TypeVideo, "clip.mp4", baseURL + "/api/export/media/demo?type=video&format=video&name=clip.mp4"},
		{schema.TypeAudio, "a b.mp4", baseURL + "/api/export/media/demo?type=audio&format=audio&name=a+b.mp4"},
	}
	for _, tt := range tests {
		if got := MediaURL(baseURL+"/", "demo", tt.typ, tt.name); got != tt.want {
			t.Errorf("MediaURL(%s, %q) = %q, want %q", tt.typ, tt.name, got, tt.want)
		}
	}
}

func TestJoinLabels(t *testing.T) {
	assert.Equal(t, "", joinLabels(nil))
	assert.Equal(t, "Cat, Fish", joinLabels([]string{"Cat", "Fish"}))
	assert.Equal(t, `"Dog, ""big""", Fish`, joinLabels([]string{`Dog, "big"`, "Fish"}))
}

func TestToUTM(t *testing.T) {
	tests := []struct {
		name       string
		lat, lon   float64
		zone       string
		minE, maxE int64
		minN, maxN int64
	}{
		{"london", 51.5, -0.12, "30U", 690000, 710000, 5700000, 5720000},
		{"sydney", -33.86, 151.21, "56H", 300000, 400000, 6200000, 6300000},
		{"bergen", 60.39, 5.32, "32V", 290000, 310000, 6680000, 6720000},
		{"equator", 0, 3, "31N", 499000, 501000, 0, 1},
		{"svalbard", 78.22, 15.65, "33X", 505000, 525000, 8600000, 8750000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToUTM(tt.lat, tt.lon)
			require.NoError(t, err)
			assert.Equal(t, tt.zone, got.Zone)
			assert.GreaterOrEqual(t, got.Easting, tt.minE)
			assert.LessOrEqual(t, got.Easting, tt.maxE)
			assert.GreaterOrEqual(t, got.Northing, tt.minN)
			assert.LessOrEqual(t, got.Northing, tt.maxN)
		})
	}

	polar, err := ToUTM(85, 10)
	require.NoError(t, err)
	assert.Equal(t, UTM{Zone: "32Z"}, polar)

	_, err = ToUTM(91, 0)
	assert.Error(t, err)
}

func TestColumnsAreReserved(t *testing.T) {
	for _, col := range []string{ColUUID, ColParentUUID, ColBranchOwnerUUID, ColBranchUUID, ColCreatedAt, ColUploadedAt, ColCreatedBy, ColTitle} {
		assert.True(t, mapping.IsReserved(col), col)
	}
}
