//go:build unix

package export

import (
	"archive/zip"
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fieldexport/internal/entry"
)

func TestCreateArchive_TableFileMode(t *testing.T) {
	old := syscall.Umask(0o022)
	defer syscall.Umask(old)

	src := &fakeSource{tables: map[string][]entry.Stored{"p1_f1": households(1)}}
	dest := filepath.Join(t.TempDir(), "p1", "42")
	a := NewArchiver(src, generatedMappings{}, nil, Config{})

	res, err := a.CreateArchive(context.Background(), parseProject(t), dest, Options{Format: FormatCSV})
	require.NoError(t, err)

	zr, err := zip.OpenReader(res.ArchivePath)
	require.NoError(t, err)
	defer zr.Close()

	require.NotEmpty(t, zr.File)
	for _, f := range zr.File {
		assert.Equal(t, "-rw-r--r--", f.Mode().String(), f.Name)
	}
}
