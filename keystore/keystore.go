package keystore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// Derivation labels. Changing either invalidates every derived key.
const (
	hkdfSaltLabel  = "integrity-guard/hkdf/v1"
	hkdfInfoPrefix = "hmac/v1"
	subkeySize     = 32
)

// TierStore is one isolation level the provisioner can draw keys from.
// Implementations are safe for concurrent use.
type TierStore interface {
	// Tier identifies the isolation level.
	Tier() interfaces.KeyTier

	// IsSupported probes whether the tier is usable on this device. A nil
	// error means keys can be served.
	IsSupported(ctx context.Context) error

	// GetOrCreate returns the key stored under alias, creating it when
	// absent. Creation is idempotent: the same alias yields the same key
	// material until Clear.
	GetOrCreate(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope) (interfaces.DeviceKey, error)

	// Import persists externally supplied material under alias, replacing
	// whatever was there.
	Import(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope, material cryptoutils.HMACKey) (interfaces.DeviceKey, error)

	// Clear destroys the tier's key material for the given aliases along
	// with the tier's root state. Irreversible.
	Clear(ctx context.Context, aliases []interfaces.KeyAlias) error
}

// derivedKey is a key handle whose material lives in process memory. The
// software and TPM tiers both produce these; they differ only in where the
// root material comes from.
type derivedKey struct {
	alias    interfaces.KeyAlias
	tier     interfaces.KeyTier
	scope    interfaces.KeyScope
	material cryptoutils.HMACKey
}

func (k *derivedKey) Alias() interfaces.KeyAlias { return k.alias }
func (k *derivedKey) Tier() interfaces.KeyTier   { return k.tier }
func (k *derivedKey) Scope() interfaces.KeyScope { return k.scope }

func (k *derivedKey) HMACSHA256(data []byte) (interfaces.Signature, error) {
	return cryptoutils.ComputeHMACSHA256(data, k.material)
}

func (k *derivedKey) Verify(data []byte, signature string) (bool, error) {
	return cryptoutils.VerifyHMACSignature(data, signature, k.material)
}

// deriveSubkey expands root material into an alias-specific HMAC key using
// HKDF-SHA256.
func deriveSubkey(root []byte, info string) (cryptoutils.HMACKey, error) {
	r := hkdf.New(sha256.New, root, []byte(hkdfSaltLabel), []byte(info))
	key := make([]byte, subkeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("could not derive subkey: %w", err)
	}
	return cryptoutils.NewHMACKey(key)
}

// subkeyInfo renders the HKDF info string for an alias. Device-bound keys mix
// the device and app identity into the derivation; generic keys stay portable
// across devices.
func subkeyInfo(alias interfaces.KeyAlias, scope interfaces.KeyScope, epoch string, identity interfaces.KeyIdentity) string {
	parts := []string{hkdfInfoPrefix, alias.String(), scope.String()}
	if epoch != "" {
		parts = append(parts, epoch)
	}
	if scope == interfaces.ScopeDeviceBound {
		parts = append(parts, identity.String())
	}
	return strings.Join(parts, "|")
}

// writeFileAtomic writes data through a temp file and rename so a crash never
// leaves a partially written key file behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not set permissions on %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not install %s: %w", filepath.Base(path), err)
	}
	return nil
}
