package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// SourceFactory creates asset sources from location URIs and aggregates them
// into multi-source configurations for redundant config delivery.
type SourceFactory struct {
	log *slog.Logger
}

// NewSourceFactory creates a new factory instance that can create asset sources.
func NewSourceFactory(logger *slog.Logger) *SourceFactory {
	return &SourceFactory{
		log: logger,
	}
}

// SourceFor creates an asset source from a location.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem directory
//   - http://, https:// - Plain HTTP(S) file server or CDN
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2 engine
//   - ipfs:// - IPFS node with a published root directory
//   - srv:// - HTTP servers discovered through DNS SRV records
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *SourceFactory) SourceFor(location interfaces.AssetLocation) (interfaces.AssetSource, error) {
	switch {
	case location.IsFile():
		return sf.createFileSource(location)
	case location.IsHTTP():
		return sf.createHTTPSource(location)
	case location.IsS3():
		return sf.createS3Source(location)
	case location.IsVault():
		return sf.createVaultSource(location)
	case location.IsIPFS():
		return sf.createIPFSSource(location)
	case location.IsSRV():
		return sf.createSRVSource(location)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiSource creates a multi-source from a list of locations.
// The multi-source aggregates all valid sources, fetching from the first one
// that has the asset and storing to every writable one. Locations that fail
// to construct are skipped with a warning.
// Returns an error if no valid sources could be created.
func (sf *SourceFactory) CreateMultiSource(locations []interfaces.AssetLocation) (interfaces.AssetSource, error) {
	sources := make([]interfaces.AssetSource, 0, len(locations))

	for _, location := range locations {
		source, err := sf.SourceFor(location)
		if err != nil {
			sf.log.Warn("Failed to create asset source",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		sources = append(sources, source)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no valid asset sources created")
	}

	return NewMultiSource(sources, sf.log), nil
}

// createFileSource creates a filesystem asset source.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *SourceFactory) createFileSource(location interfaces.AssetLocation) (interfaces.AssetSource, error) {
	sf.log.Debug("Creating file source", slog.String("uri", location.String()))

	// Get the path, handling relative vs absolute paths
	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileSource(path, sf.log)
}

// createHTTPSource creates a read-only HTTP(S) asset source.
// URI format: https://cdn.example.com/configs?token=SECRET
// The optional token parameter is sent as a bearer token.
func (sf *SourceFactory) createHTTPSource(location interfaces.AssetLocation) (interfaces.AssetSource, error) {
	sf.log.Debug("Creating HTTP source", slog.String("uri", location.String()))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: missing host in HTTP URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	baseURL := fmt.Sprintf("%s://%s%s", location.Scheme, location.Host, location.Path)

	return NewHTTPSource(baseURL, location.GetParam("token"), sf.log), nil
}

// createS3Source creates an S3 or S3-compatible asset source.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix?region=us-west-2&endpoint=custom.s3.com
// The source supports both public buckets (read-only) and authenticated access.
func (sf *SourceFactory) createS3Source(location interfaces.AssetLocation) (interfaces.AssetSource, error) {
	sf.log.Debug("Creating S3 source", slog.String("uri", location.String()))

	bucketName := location.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	prefix := strings.TrimPrefix(location.Path, "/")

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := location.GetParam("endpoint")

	// Extract credentials from URI when present
	var accessKey, secretKey string
	if location.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(location.Auth, ":")
		sf.log.Debug("Using embedded credentials for write access")
	} else {
		sf.log.Debug("No credentials provided, S3 bucket assumed to be public, write operations may fail")
	}

	return NewS3Source(bucketName, prefix, region, endpoint, accessKey, secretKey, sf.log)
}

// createVaultSource creates a Vault KV v2 asset source.
// URI format: vault://vault.example.com:8200/secret/guard?token=SECRET&tls=false
// The first path segment is the mount, the rest is the data path. The token
// parameter may be omitted in favor of the VAULT_TOKEN environment variable.
func (sf *SourceFactory) createVaultSource(location interfaces.AssetLocation) (interfaces.AssetSource, error) {
	sf.log.Debug("Creating Vault source", slog.String("uri", location.String()))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: missing host in Vault URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI must include mount and data path, got %s",
			interfaces.ErrInvalidLocationURI, location.String())
	}
	mountPath, dataPath := parts[0], parts[1]

	scheme := "https"
	if location.GetParam("tls") == "false" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, location.Host)

	return NewVaultSource(address, mountPath, dataPath, location.GetParam("token"), sf.log)
}

// createIPFSSource creates an IPFS asset source.
// URI format: ipfs://127.0.0.1:5001/ipns/k51qzi... or ipfs://host:port/ipfs/QmAbc...
// The path must point at the published directory holding the assets.
func (sf *SourceFactory) createIPFSSource(location interfaces.AssetLocation) (interfaces.AssetSource, error) {
	sf.log.Debug("Creating IPFS source", slog.String("uri", location.String()))

	host, port, _ := strings.Cut(location.Host, ":")
	if port == "" {
		port = "5001" // Default IPFS API port
	}
	if host == "" {
		return nil, fmt.Errorf("%w: missing host in IPFS URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewIPFSSource(host, port, location.Path, sf.log)
}

// createSRVSource creates a DNS SRV discovered asset source.
// URI format: srv://_guard-config._tcp.example.com/configs?proto=https&resolver=127.0.0.53:53
func (sf *SourceFactory) createSRVSource(location interfaces.AssetLocation) (interfaces.AssetSource, error) {
	sf.log.Debug("Creating SRV source", slog.String("uri", location.String()))

	return NewSRVSource(
		location.Host,
		location.Path,
		location.GetParam("proto"),
		location.GetParam("resolver"),
		sf.log,
	)
}
