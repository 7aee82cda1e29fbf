package admin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/schema"
	"github.com/JonMunkholm/fieldexport/internal/store"
)

type oneProject struct {
	p *schema.Project
}

func (o oneProject) BySlug(_ context.Context, slug string) (*schema.Project, error) {
	if slug != o.p.Slug {
		return nil, store.ErrNotFound
	}
	return o.p, nil
}

type customMappings struct {
	projectID int64
	err       error
}

func (c *customMappings) DeleteCustom(_ context.Context, projectID int64) (int64, error) {
	c.projectID = projectID
	return 2, c.err
}

func setup(t *testing.T) (*Resetter, *customMappings, string) {
	t.Helper()
	dir := t.TempDir()
	for _, user := range []string{"1", "2"} {
		d := filepath.Join(dir, "p1", user)
		require.NoError(t, os.MkdirAll(d, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(d, "demo-csv.zip"), []byte("zip"), 0o644))
	}
	other := filepath.Join(dir, "p2", "1")
	require.NoError(t, os.MkdirAll(other, 0o755))

	mappings := &customMappings{}
	r := &Resetter{
		Projects:  oneProject{p: &schema.Project{ID: 11, Ref: "p1", Slug: "demo"}},
		Mappings:  mappings,
		ExportDir: dir,
	}
	return r, mappings, dir
}

func TestResetProject(t *testing.T) {
	r, mappings, dir := setup(t)

	require.NoError(t, r.ResetProject(context.Background(), "demo"))

	assert.NoDirExists(t, filepath.Join(dir, "p1"))
	assert.DirExists(t, filepath.Join(dir, "p2", "1"), "other projects are untouched")
	assert.Equal(t, int64(11), mappings.projectID)

	// nothing left on disk is fine
	require.NoError(t, r.ResetProject(context.Background(), "demo"))
}

func TestResetProject_UnknownProject(t *testing.T) {
	r, _, _ := setup(t)
	err := r.ResetProject(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResetProject_RunningExport(t *testing.T) {
	r, mappings, dir := setup(t)
	r.Limiter = core.NewExportLimiter(2, time.Second)

	release, err := r.Limiter.Acquire(context.Background(), filepath.Join(dir, "p1", "2"))
	require.NoError(t, err)
	defer release()

	err = r.ResetProject(context.Background(), "demo")
	assert.ErrorIs(t, err, core.ErrExportInProgress)
	assert.DirExists(t, filepath.Join(dir, "p1", "1"))
	assert.Zero(t, mappings.projectID, "later resets do not run after a failure")

	unclaim, ok := r.Limiter.TryClaim(filepath.Join(dir, "p1", "1"))
	assert.True(t, ok, "claims taken before the busy directory are released")
	if ok {
		unclaim()
	}
}

func TestResetProject_MappingError(t *testing.T) {
	r, mappings, _ := setup(t)
	mappings.err = errors.New("connection reset by peer")

	err := r.ResetProject(context.Background(), "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset demo")
}
