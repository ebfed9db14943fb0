package configloader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/storage"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	source, err := storage.NewFileSource(dir, log)
	require.NoError(t, err)

	keys := &fakeKeyStore{}
	verifier, err := NewVerifier(keys, log)
	require.NoError(t, err)

	loader, err := NewLoader(LoaderConfig{
		Source:   source,
		Verifier: verifier,
		Strategy: StrategyGeneric,
		Log:      log,
	})
	require.NoError(t, err)

	reloads := make(chan LoadResult, 8)
	watcher, err := NewWatcher(WatcherConfig{
		Loader:   loader,
		Paths:    []string{dir},
		Debounce: 50 * time.Millisecond,
		OnReload: func(r LoadResult) { reloads <- r },
		Log:      log,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// Give the watcher a moment to install its watches
	time.Sleep(100 * time.Millisecond)

	// Publish an unsigned config
	configPath := filepath.Join(dir, "security_config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(validConfigJSON), 0o644))

	select {
	case result := <-reloads:
		assert.Equal(t, ProvenanceUnsigned, result.Provenance, "json without sig reloads as unsigned")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after config write")
	}

	// Publish the matching signature; the next reload upgrades to signed
	sigPath := filepath.Join(dir, "security_config.sig")
	require.NoError(t, os.WriteFile(sigPath, []byte(signFor(t, keys, validConfigJSON)), 0o600))

	select {
	case result := <-reloads:
		assert.Equal(t, ProvenanceSigned, result.Provenance)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after signature write")
	}

	// Unrelated files do not trigger reloads
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload for unrelated file: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestWatcherDebouncesPublishPair(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	source, err := storage.NewFileSource(dir, log)
	require.NoError(t, err)

	keys := &fakeKeyStore{}
	verifier, err := NewVerifier(keys, log)
	require.NoError(t, err)

	loader, err := NewLoader(LoaderConfig{Source: source, Verifier: verifier, Log: log})
	require.NoError(t, err)

	reloads := make(chan LoadResult, 8)
	watcher, err := NewWatcher(WatcherConfig{
		Loader:   loader,
		Paths:    []string{dir},
		Debounce: 200 * time.Millisecond,
		OnReload: func(r LoadResult) { reloads <- r },
		Log:      log,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Write both assets back to back, inside one debounce window
	require.NoError(t, os.WriteFile(filepath.Join(dir, "security_config.json"), []byte(validConfigJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "security_config.sig"), []byte(signFor(t, keys, validConfigJSON)), 0o600))

	select {
	case result := <-reloads:
		assert.Equal(t, ProvenanceSigned, result.Provenance, "one reload should see the complete pair")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for debounced reload")
	}

	select {
	case r := <-reloads:
		t.Fatalf("publish pair should reload once, got second reload: %+v", r)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestNewWatcherValidation(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier, err := NewVerifier(&fakeKeyStore{}, log)
	require.NoError(t, err)

	loader, err := NewLoader(LoaderConfig{Source: newFakeAssetSource(), Verifier: verifier, Log: log})
	require.NoError(t, err)

	_, err = NewWatcher(WatcherConfig{Paths: []string{"/tmp"}})
	assert.Error(t, err, "loader is required")

	_, err = NewWatcher(WatcherConfig{Loader: loader})
	assert.Error(t, err, "at least one path is required")
}
