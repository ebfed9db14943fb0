package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// AssetName identifies a named document inside an asset source, for example
// "security_config.json" or "security_config.sig".
type AssetName string

// NewAssetName creates an asset name with validation.
func NewAssetName(name string) (AssetName, error) {
	if name == "" {
		return "", errors.New("invalid asset name: empty")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("invalid asset name %q: must not contain path separators", name)
	}
	return AssetName(name), nil
}

// String returns the asset name as a string.
func (n AssetName) String() string {
	return string(n)
}

// Validate checks the asset name is usable.
func (n AssetName) Validate() error {
	_, err := NewAssetName(string(n))
	return err
}

// AssetLocation represents a URI for an asset source.
type AssetLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewAssetLocation creates a new asset location from a URI string with
// validation.
func NewAssetLocation(uri string) (AssetLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return AssetLocation{}, fmt.Errorf("invalid URI format: %w", err)
	}

	// Validate scheme is supported
	scheme := parsed.Scheme
	switch scheme {
	case "file", "http", "https", "s3", "vault", "ipfs", "srv":
		// Valid scheme
	default:
		return AssetLocation{}, fmt.Errorf("unsupported asset source scheme: %s", scheme)
	}

	// Parse authentication info if present
	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return AssetLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc AssetLocation) String() string {
	return loc.Raw
}

// IsFile checks if this is a file system asset location.
func (loc AssetLocation) IsFile() bool {
	return loc.Scheme == "file"
}

// IsHTTP checks if this is an http(s) asset location.
func (loc AssetLocation) IsHTTP() bool {
	return loc.Scheme == "http" || loc.Scheme == "https"
}

// IsS3 checks if this is an S3 asset location.
func (loc AssetLocation) IsS3() bool {
	return loc.Scheme == "s3"
}

// IsVault checks if this is a Vault asset location.
func (loc AssetLocation) IsVault() bool {
	return loc.Scheme == "vault"
}

// IsIPFS checks if this is an IPFS asset location.
func (loc AssetLocation) IsIPFS() bool {
	return loc.Scheme == "ipfs"
}

// IsSRV checks if this location is discovered through DNS SRV records.
func (loc AssetLocation) IsSRV() bool {
	return loc.Scheme == "srv"
}

// GetParam returns a query parameter value.
func (loc AssetLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc AssetLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrAssetNotFound is returned when a requested asset does not exist
	// in the source.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrBackendUnavailable is returned when an asset source is not
	// accessible. This could be due to network issues, authentication
	// failures, or service outages.
	ErrBackendUnavailable = errors.New("asset source unavailable")

	// ErrInvalidLocationURI is returned when an asset location URI is
	// malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid asset location URI")
)

// AssetSource provides named-asset retrieval and publication.
type AssetSource interface {
	// Fetch retrieves an asset by name.
	Fetch(ctx context.Context, name AssetName) ([]byte, error)

	// Store publishes an asset under its name.
	Store(ctx context.Context, name AssetName, data []byte) error

	// Available checks if the source is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this source.
	LocationURI() string
}

// SourceFactory creates asset sources.
type SourceFactory interface {
	// SourceFor creates a source from a location.
	// Supports file://, http://, https://, s3://, vault://, ipfs://, srv://
	SourceFor(location AssetLocation) (AssetSource, error)

	// CreateMultiSource creates an aggregated fallthrough source.
	CreateMultiSource(locations []AssetLocation) (AssetSource, error)
}
