package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/d1nch8g/theranotes/codec"
)

const filenameLayout = "2006-01-02T15-04-05"

// Filename builds "recording-<UTC timestamp>.<ext>", with the extension
// chosen from the media type.
func Filename(at time.Time, mediaType string) string {
	return fmt.Sprintf("recording-%s.%s", at.UTC().Format(filenameLayout), codec.ExtensionFor(mediaType))
}

// Saver persists a downloaded artifact under name and returns where it went
type Saver interface {
	Save(name string, data []byte) (string, error)
}

// DirSaver writes downloads into a directory. It never replaces an existing
// file; a name collision fails with ErrDownloadExists.
type DirSaver struct {
	Dir string
}

var _ Saver = DirSaver{}

func (d DirSaver) Save(name string, data []byte) (string, error) {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write recording: %w", err)
	}
	if err := place(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrDownloadExists, path)
		}
		return "", fmt.Errorf("failed to save recording: %w", err)
	}
	return path, nil
}

// place moves the finished temporary file to path unless path exists
func place(tmp, path string) error {
	err := os.Link(tmp, path)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}

	// Filesystems without hard links
	if _, statErr := os.Lstat(path); statErr == nil {
		return fs.ErrExist
	}
	return os.Rename(tmp, path)
}
