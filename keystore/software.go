package keystore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
	"github.com/miaadrajabi/integrity-guard/interfaces"
)

const seedFileName = "master.seed"

// SoftwareStoreConfig configures the always-available software tier.
type SoftwareStoreConfig struct {
	// Dir is the directory key material lives under, created 0700 on
	// first use.
	Dir string

	// Identity feeds the device-bound derivation.
	Identity interfaces.KeyIdentity

	Log *slog.Logger
}

func (c *SoftwareStoreConfig) validate() error {
	if c.Dir == "" {
		return errors.New("software keystore: empty state directory")
	}
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("software keystore: %w", err)
	}
	return nil
}

// SoftwareStore is the fallback key tier. Root material is a random seed
// persisted 0600 under the state directory; per-alias keys are expanded from
// it with HKDF-SHA256. Clearing the store destroys the seed, so keys
// provisioned afterwards cannot verify earlier signatures.
type SoftwareStore struct {
	cfg SoftwareStoreConfig
	log *slog.Logger

	mu   sync.Mutex
	seed cryptoutils.HMACKey
}

// NewSoftwareStore builds the store. Nothing touches the filesystem until
// the first key operation.
func NewSoftwareStore(cfg SoftwareStoreConfig) (*SoftwareStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &SoftwareStore{cfg: cfg, log: log}, nil
}

func (s *SoftwareStore) Tier() interfaces.KeyTier { return interfaces.TierSoftware }

// IsSupported always succeeds; the software tier is the floor every device
// can reach.
func (s *SoftwareStore) IsSupported(ctx context.Context) error { return nil }

// GetOrCreate returns the key under alias, generating the root seed on first
// use. Imported material takes precedence over derivation.
func (s *SoftwareStore) GetOrCreate(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope) (interfaces.DeviceKey, error) {
	if err := alias.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if material, err := s.importedMaterial(alias); err == nil {
		return &derivedKey{alias: alias, tier: s.Tier(), scope: scope, material: material}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	seed, err := s.loadOrCreateSeedLocked()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}

	material, err := deriveSubkey(seed, subkeyInfo(alias, scope, "", s.cfg.Identity))
	if err != nil {
		return nil, err
	}
	return &derivedKey{alias: alias, tier: s.Tier(), scope: scope, material: material}, nil
}

// Import persists the supplied material under alias, replacing any derived
// key for it.
func (s *SoftwareStore) Import(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope, material cryptoutils.HMACKey) (interfaces.DeviceKey, error) {
	if err := alias.Validate(); err != nil {
		return nil, err
	}
	if err := material.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.importedPath(alias), []byte(hex.EncodeToString(material)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}
	s.log.Info("imported key material", "alias", alias.String(), "scope", scope.String(), "tier", s.Tier().String(), "fingerprint", material.Fingerprint())

	mat := make(cryptoutils.HMACKey, len(material))
	copy(mat, material)
	return &derivedKey{alias: alias, tier: s.Tier(), scope: scope, material: mat}, nil
}

// Clear destroys the seed and any imported material. Keys provisioned
// afterwards derive from a fresh seed and cannot verify earlier signatures.
func (s *SoftwareStore) Clear(ctx context.Context, aliases []interfaces.KeyAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := os.Remove(filepath.Join(s.cfg.Dir, seedFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("could not remove seed: %w", err))
	}
	for _, alias := range aliases {
		if err := os.Remove(s.importedPath(alias)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("could not remove imported key %s: %w", alias, err))
		}
	}

	if s.seed != nil {
		wipeBytes(s.seed)
		s.seed = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.log.Warn("software keystore cleared", "dir", s.cfg.Dir)
	return nil
}

func (s *SoftwareStore) importedPath(alias interfaces.KeyAlias) string {
	return filepath.Join(s.cfg.Dir, "imported."+alias.String()+".key")
}

func (s *SoftwareStore) importedMaterial(alias interfaces.KeyAlias) (cryptoutils.HMACKey, error) {
	data, err := os.ReadFile(s.importedPath(alias))
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("corrupt imported key for %s: %w", alias, err)
	}
	return cryptoutils.NewHMACKey(raw)
}

func (s *SoftwareStore) loadOrCreateSeedLocked() (cryptoutils.HMACKey, error) {
	if s.seed != nil {
		return s.seed, nil
	}

	path := filepath.Join(s.cfg.Dir, seedFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		raw, decodeErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr != nil {
			return nil, fmt.Errorf("corrupt seed file %s: %w", path, decodeErr)
		}
		seed, keyErr := cryptoutils.NewHMACKey(raw)
		if keyErr != nil {
			return nil, fmt.Errorf("corrupt seed file %s: %w", path, keyErr)
		}
		s.seed = seed
		return seed, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("could not read seed file: %w", err)
	}

	seed, err := cryptoutils.RandomHMACKey()
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
		return nil, err
	}
	s.log.Info("provisioned software keystore seed", "dir", s.cfg.Dir, "fingerprint", seed.Fingerprint())
	s.seed = seed
	return seed, nil
}
