package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// IPFSSource implements an asset source using the InterPlanetary File System.
// Named assets are resolved under a published root path, either a mutable
// /ipns/<key> pointer or a pinned /ipfs/<cid> directory snapshot. The source
// is read-only; publishers update the root directory out of band.
type IPFSSource struct {
	shell       *shell.Shell
	host        string
	port        string
	rootPath    string
	log         *slog.Logger
	locationURI string
}

// NewIPFSSource creates a new IPFS asset source connected to the node at
// host:port. rootPath must point at a directory, e.g. /ipns/k51qzi... or
// /ipfs/QmAbc....
func NewIPFSSource(host, port, rootPath string, log *slog.Logger) (*IPFSSource, error) {
	if !strings.HasPrefix(rootPath, "/ipfs/") && !strings.HasPrefix(rootPath, "/ipns/") {
		return nil, fmt.Errorf("ipfs root path must start with /ipfs/ or /ipns/, got %q", rootPath)
	}
	rootPath = strings.TrimSuffix(rootPath, "/")

	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSSource{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		rootPath:    rootPath,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, rootPath),
	}, nil
}

// Fetch retrieves the named asset from under the root path.
// Returns ErrAssetNotFound if the root directory has no such link, or
// ErrBackendUnavailable if the IPFS node is not accessible.
func (b *IPFSSource) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	path := fmt.Sprintf("%s/%s", b.rootPath, name)

	// Check if the IPFS node is available
	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.Cat(path)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") {
			b.log.Debug("Asset not found in IPFS",
				slog.String("path", path),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrAssetNotFound
		}

		b.log.Error("Failed to fetch data from IPFS",
			slog.String("path", path),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		b.log.Error("Failed to read data from IPFS",
			slog.String("path", path),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched asset from IPFS",
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store is not supported. The root directory is immutable from the device
// side; publishers pin a new directory and update the IPNS pointer instead.
func (b *IPFSSource) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	return fmt.Errorf("ipfs source is read-only, cannot store %s", name)
}

// Available checks if the IPFS node is accessible.
func (b *IPFSSource) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this asset source.
func (b *IPFSSource) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this asset source.
func (b *IPFSSource) LocationURI() string {
	return b.locationURI
}
