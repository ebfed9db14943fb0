package configloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the default debounce interval for file events. A config
// publish touches two files (json then sig); one reload should cover both.
const debounceDefault = 500 * time.Millisecond

// WatcherConfig carries the watcher dependencies.
type WatcherConfig struct {
	// Loader is re-run through the full chain on every relevant change.
	Loader *Loader

	// Paths are the directories (or files) holding the config assets.
	// Only file-backed sources can be watched.
	Paths []string

	// Debounce overrides debounceDefault.
	Debounce time.Duration

	// OnReload, when set, receives every reload result.
	OnReload func(LoadResult)

	Log *slog.Logger
}

// Watcher reloads the configuration when its backing files change. Reloads
// go through the whole load chain, so a tampered file downgrades or falls to
// the default exactly like at startup.
type Watcher struct {
	loader   *Loader
	paths    []string
	debounce time.Duration
	onReload func(LoadResult)
	log      *slog.Logger
}

// NewWatcher creates a watcher over the given paths.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("config watcher requires a loader")
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("config watcher requires at least one path")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = debounceDefault
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Watcher{
		loader:   cfg.Loader,
		paths:    cfg.Paths,
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		log:      cfg.Log,
	}, nil
}

// Run watches the config assets and reloads on change. Blocks until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, path := range w.paths {
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}

	configName, sigName := w.loader.AssetNames()

	// Single debounce timer, reset on each event. Initialized as stopped;
	// the first event starts it.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	w.log.Info("Watching configuration assets",
		slog.Any("paths", w.paths),
		slog.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			result := w.loader.Load(ctx)
			w.log.Info("Configuration reloaded",
				slog.String("provenance", string(result.Provenance)),
				slog.String("source", result.Source))
			if w.onReload != nil {
				w.onReload(result)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			base := filepath.Base(event.Name)
			if base != configName.String() && base != sigName.String() {
				continue
			}

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Config watcher error", "err", err)
		}
	}
}
