package export

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/mapping"
)

// fileNamer hands out collision-free table file names. Forms and branches
// are numbered independently across the whole run.
type fileNamer struct {
	ext      string
	forms    int
	branches int
}

func (n *fileNamer) form(slug string) string {
	n.forms++
	return fmt.Sprintf("form-%d-%s.%s", n.forms, slug, n.ext)
}

func (n *fileNamer) branch(slug string) string {
	n.branches++
	return fmt.Sprintf("branch-%d-%s.%s", n.branches, slug, n.ext)
}

const maxSlugLength = 100

// Slugify turns a display name into a lowercase, dash separated file name
// component.
func Slugify(s string) string {
	slug := strings.ToLower(mapping.Sanitize(s))
	slug = strings.Trim(strings.ReplaceAll(slug, "_", "-"), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// ArchiveName returns the archive file name of a project export.
func ArchiveName(projectSlug string, f Format) string {
	return fmt.Sprintf("%s-%s.zip", projectSlug, f)
}

// writeArchive zips files into archivePath under their base names.
func writeArchive(archivePath string, files []string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err := addZipFile(zw, path, filepath.Base(path)); err != nil {
			return fmt.Errorf("add %s to archive: %w", filepath.Base(path), err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addZipFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
