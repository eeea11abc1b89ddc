package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aliskhannn/photoprep/internal/model"
)

// Storage provides access to the stage directories on the local filesystem.
// Relative directories are resolved against basePath; absolute ones are used as is.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage instance with the given basePath.
func NewStorage(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

func (s *Storage) dir(subdir string) string {
	if filepath.IsAbs(subdir) || s.basePath == "" {
		return subdir
	}
	return filepath.Join(s.basePath, subdir)
}

// EnsureDir creates the directory if it does not exist yet.
func (s *Storage) EnsureDir(subdir string) error {
	dir := s.dir(subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Path returns the filesystem path of filename inside subdir.
func (s *Storage) Path(subdir, filename string) string {
	return filepath.Join(s.dir(subdir), filename)
}

// Save stores src as filename inside subdir. The content is written to a
// hidden temporary file first and renamed into place once complete, so a
// visible file always holds a full write.
func (s *Storage) Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := s.dir(subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", filename, err)
	}

	dstPath := filepath.Join(dir, filename)
	if err := os.Rename(tmp.Name(), dstPath); err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return dstPath, nil
}

// Load opens the file and returns a reader.
func (s *Storage) Load(ctx context.Context, subdir, filename string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(s.Path(subdir, filename))
}

// Exists reports whether filename is present in subdir.
func (s *Storage) Exists(subdir, filename string) (bool, error) {
	_, err := os.Stat(s.Path(subdir, filename))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", filename, err)
}

// List returns the images of subdir sorted by filename. Hidden entries and
// directories are not images and are left out. A non-empty exts restricts
// the result to those extensions (lowercase, with the dot).
func (s *Storage) List(subdir string, exts ...string) ([]model.Image, error) {
	entries, err := os.ReadDir(s.dir(subdir))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", subdir, err)
	}

	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}

	images := make([]model.Image, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		img := model.Image{Dir: subdir, Filename: e.Name()}
		if len(allowed) > 0 {
			if _, ok := allowed[img.Ext()]; !ok {
				continue
			}
		}
		images = append(images, img)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Filename < images[j].Filename })

	return images, nil
}
