package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// MultiSource implements interfaces.AssetSource over multiple sources with
// fallback. Fetch returns the first success in configuration order, Store
// writes to every available source.
type MultiSource struct {
	sources []interfaces.AssetSource
	log     *slog.Logger
}

// NewMultiSource creates a new multi-source with fallback.
func NewMultiSource(sources []interfaces.AssetSource, logger *slog.Logger) *MultiSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiSource{
		sources: sources,
		log:     logger,
	}
}

// Fetch tries each source in order and returns the first successful result.
// Returns ErrAssetNotFound only when every reachable source reported the
// asset missing, so callers can distinguish an absent asset from an outage.
func (m *MultiSource) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, source := range m.sources {
		if !source.Available(ctx) {
			m.log.Debug("Source unavailable",
				slog.String("source_name", source.Name()),
				slog.String("name", name.String()))
			continue
		}

		data, err := source.Fetch(ctx, name)
		if err == nil {
			m.log.Debug("Fetched asset",
				slog.String("source_name", source.Name()),
				slog.String("name", name.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrAssetNotFound) {
			notFound++
			m.log.Debug("Asset not found in source",
				slog.String("source_name", source.Name()),
				slog.String("name", name.String()))
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", source.Name(), err))
		m.log.Debug("Failed to fetch from source",
			slog.String("source_name", source.Name()),
			slog.String("name", name.String()),
			"err", err)
	}

	if len(errs) == 0 && notFound > 0 {
		return nil, interfaces.ErrAssetNotFound
	}

	m.log.Warn("All sources failed to fetch asset",
		slog.String("name", name.String()),
		slog.Int("failed_sources", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all sources failed to fetch %s: %v", name, errs)
}

// Store writes the named asset to all available sources. It succeeds when at
// least one source accepted the write.
func (m *MultiSource) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	start := time.Now()
	var success bool
	var errs []error

	for _, source := range m.sources {
		if !source.Available(ctx) {
			m.log.Debug("Source unavailable", slog.String("source_name", source.Name()))
			continue
		}

		if err := source.Store(ctx, name, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", source.Name(), err))
			m.log.Debug("Failed to store to source",
				slog.String("source_name", source.Name()),
				"err", err)
			continue
		}

		success = true
		m.log.Info("Stored asset",
			slog.String("source_name", source.Name()),
			slog.String("name", name.String()),
			slog.Duration("duration", time.Since(start)))
	}

	if !success {
		m.log.Error("All sources failed to store asset",
			slog.String("name", name.String()),
			slog.Int("failed_sources", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("all sources failed to store %s: %v", name, errs)
	}

	return nil
}

// Available checks if any source is available.
func (m *MultiSource) Available(ctx context.Context) bool {
	for _, source := range m.sources {
		if source.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this source.
func (m *MultiSource) Name() string {
	return "multi-source"
}

// LocationURI returns a combined URI covering all underlying sources.
func (m *MultiSource) LocationURI() string {
	var locations []string
	for _, source := range m.sources {
		locations = append(locations, source.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
