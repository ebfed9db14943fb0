package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// FileSource serves named assets from a local directory. It backs the common
// deployment where configuration is provisioned onto the device by an MDM
// agent or an installer.
type FileSource struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileSource creates a file source rooted at baseDir, creating the
// directory if needed.
func NewFileSource(baseDir string, log *slog.Logger) (*FileSource, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}

	return &FileSource{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch reads the named asset from the directory. Returns ErrAssetNotFound
// if the file doesn't exist.
func (s *FileSource) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.baseDir, name.String())
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, interfaces.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}

	s.log.Debug("Fetched asset from file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes the named asset into the directory.
func (s *FileSource) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	if err := name.Validate(); err != nil {
		return err
	}

	path := filepath.Join(s.baseDir, name.String())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write asset: %w", err)
	}

	s.log.Debug("Stored asset in file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return nil
}

// Available checks the base directory exists.
func (s *FileSource) Available(ctx context.Context) bool {
	if _, err := os.Stat(s.baseDir); err != nil {
		s.log.Debug("File source unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this source.
func (s *FileSource) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// LocationURI returns the URI that identifies this source.
func (s *FileSource) LocationURI() string {
	return s.locationURI
}
