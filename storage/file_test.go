package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

func TestFileSource(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(t.TempDir(), "assets")

	source, err := NewFileSource(dir, logger)
	require.NoError(t, err, "should create source and directory")

	ctx := context.Background()
	name := testAssetName(t)
	payload := []byte(`{"policies":{}}`)

	// Missing asset
	_, err = source.Fetch(ctx, name)
	assert.ErrorIs(t, err, interfaces.ErrAssetNotFound)

	// Store then fetch round trip
	require.NoError(t, source.Store(ctx, name, payload))
	data, err := source.Fetch(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// Asset lands as a plain file under the directory
	onDisk, err := os.ReadFile(filepath.Join(dir, name.String()))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	assert.True(t, source.Available(ctx))
	assert.Equal(t, "file-assets", source.Name())
	assert.Equal(t, "file://"+dir, source.LocationURI())
}

func TestFileSourceRejectsBadNames(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source, err := NewFileSource(t.TempDir(), logger)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = source.Fetch(ctx, interfaces.AssetName("../escape"))
	assert.Error(t, err, "path traversal names should be rejected")

	err = source.Store(ctx, interfaces.AssetName("nested/name"), []byte("x"))
	assert.Error(t, err, "names with separators should be rejected")
}

func TestFileSourceUnavailableWhenDirRemoved(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(t.TempDir(), "assets")

	source, err := NewFileSource(dir, logger)
	require.NoError(t, err)
	require.True(t, source.Available(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.False(t, source.Available(context.Background()))
}
