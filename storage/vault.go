package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// VaultSource implements an asset source using HashiCorp Vault's KV v2
// engine. Each named asset is stored as a secret under the configured mount
// and data path.
type VaultSource struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultSource creates a new Vault asset source with token authentication.
// When token is empty the client falls back to the VAULT_TOKEN environment
// variable.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: Vault mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "guard")
//   - token: Vault token, may be empty
//   - log: Structured logger for operational insights
func NewVaultSource(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultSource, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	// Ensure paths are properly formatted
	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.TrimPrefix(dataPath, "/")
	dataPath = strings.TrimSuffix(dataPath, "/")

	return &VaultSource{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// secretPath builds the KV v2 path for a named asset.
func (b *VaultSource) secretPath(name interfaces.AssetName) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, name)
}

// Fetch retrieves the named asset from Vault.
// It uses the KV v2 API which requires a specific path structure.
func (b *VaultSource) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	path := b.secretPath(name)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			slog.String("name", name.String()),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Asset not found in Vault",
			slog.String("path", path),
			slog.String("name", name.String()))
		return nil, interfaces.ErrAssetNotFound
	}

	// Extract data from the response (KV v2 format)
	data, ok := secret.Data["data"]
	if !ok {
		b.log.Error("Invalid data format in Vault response",
			slog.String("path", path),
			slog.String("name", name.String()))
		return nil, fmt.Errorf("invalid data format in Vault response")
	}

	content, ok := data.(map[string]interface{})["content"]
	if !ok {
		b.log.Error("Content key not found in Vault data",
			slog.String("path", path),
			slog.String("name", name.String()))
		return nil, fmt.Errorf("content key not found in Vault data")
	}

	contentStr, ok := content.(string)
	if !ok {
		b.log.Error("Invalid content format in Vault data",
			slog.String("path", path),
			slog.String("name", name.String()))
		return nil, fmt.Errorf("invalid content format in Vault data")
	}

	b.log.Debug("Fetched asset from Vault",
		slog.String("name", name.String()),
		slog.Duration("duration", time.Since(start)))

	return []byte(contentStr), nil
}

// Store saves the named asset to Vault.
func (b *VaultSource) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	if err := name.Validate(); err != nil {
		return err
	}

	start := time.Now()
	path := b.secretPath(name)

	// Prepare data for Vault (KV v2 format)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(data),
		},
	}

	_, err := b.client.Logical().WriteWithContext(ctx, path, secretData)
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			slog.String("name", name.String()),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Info("Stored asset in Vault",
		slog.String("name", name.String()),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if the Vault source is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultSource) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this asset source.
func (b *VaultSource) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this asset source.
func (b *VaultSource) LocationURI() string {
	return b.locationURI
}
