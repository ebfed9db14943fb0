package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
	"github.com/miaadrajabi/integrity-guard/interfaces"
)

var (
	// ErrTPMUnavailable indicates the TPM device node does not exist or
	// cannot be opened.
	ErrTPMUnavailable = errors.New("tpm: device unavailable")

	errTPMProviderUnavailable = errors.New("tpm: no provider registered")
)

// TPMHandle identifies a persistent object inside the TPM.
type TPMHandle uint32

// TPMProvider opens sessions against a TPM 2.0 device. The default provider
// talks to the kernel resource manager; tests inject fakes.
type TPMProvider interface {
	Open(ctx context.Context, cfg TPMStoreConfig) (TPMSession, error)
}

// TPMSession is a single open connection to the TPM.
type TPMSession interface {
	// Unseal releases the data sealed under the handle. Objects sealed
	// with a PCR policy are unsealed through a policy session; plain
	// objects use password authorization.
	Unseal(ctx context.Context, handle TPMHandle, password string) ([]byte, error)

	Close(ctx context.Context) error
}

var systemTPMProvider TPMProvider

// SetSystemTPMProvider installs the provider used when a store is built
// without an explicit one.
func SetSystemTPMProvider(p TPMProvider) {
	systemTPMProvider = p
}

// TPMStoreConfig configures the hardware-isolated tier.
type TPMStoreConfig struct {
	// DevicePath is the TPM character device, typically /dev/tpmrm0.
	DevicePath string

	// SealedHandle is the persistent handle holding the sealed root seed.
	SealedHandle TPMHandle

	// Password authorizes unsealing for objects without a policy.
	Password string

	// PCRSelection lists the PCR indices bound by the seal policy, if any.
	PCRSelection []int

	// HashAlgorithm selects the PCR bank (SHA1, SHA256, SHA384, SHA512).
	// Empty means SHA256.
	HashAlgorithm string

	// StateDir holds the derivation epoch and wrapped imported keys.
	StateDir string

	// Identity feeds the device-bound derivation.
	Identity interfaces.KeyIdentity

	Log *slog.Logger
}

func (c *TPMStoreConfig) validate() error {
	if c.DevicePath == "" {
		return errors.New("tpm: empty device path")
	}
	if c.SealedHandle == 0 {
		return errors.New("tpm: sealed handle not set")
	}
	if c.StateDir == "" {
		return errors.New("tpm: empty state directory")
	}
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("tpm: %w", err)
	}
	return nil
}

const (
	tpmEpochFile = "tpm.epoch"
	tpmWrapInfo  = "import-wrap/v1"
)

// TPMStore is the hardware-isolated key tier. The root seed stays sealed
// inside the TPM under a persistent handle; per-alias keys are expanded from
// the unsealed seed with HKDF-SHA256. The sealed root cannot be destroyed
// from here, so clearing the tier rotates a derivation epoch instead, which
// re-keys every alias.
type TPMStore struct {
	cfg      TPMStoreConfig
	provider TPMProvider
	log      *slog.Logger

	mu    sync.Mutex
	seed  cryptoutils.HMACKey
	epoch string
}

// NewTPMStore builds the store. A nil provider selects the system provider.
func NewTPMStore(cfg TPMStoreConfig, provider TPMProvider) (*TPMStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		provider = systemTPMProvider
	}
	if provider == nil {
		return nil, errTPMProviderUnavailable
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &TPMStore{cfg: cfg, provider: provider, log: log}, nil
}

func (s *TPMStore) Tier() interfaces.KeyTier { return interfaces.TierHardwareIsolated }

// IsSupported probes the tier by unsealing the root seed once. The seed is
// cached so later key operations need no TPM round trips.
func (s *TPMStore) IsSupported(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.rootSeedLocked(ctx)
	return err
}

// GetOrCreate returns the key under alias, derived from the unsealed root
// seed. Imported material takes precedence over derivation.
func (s *TPMStore) GetOrCreate(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope) (interfaces.DeviceKey, error) {
	if err := alias.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seed, err := s.rootSeedLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}

	if material, err := s.importedMaterialLocked(alias, seed); err == nil {
		return &derivedKey{alias: alias, tier: s.Tier(), scope: scope, material: material}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	epoch, err := s.epochLocked()
	if err != nil {
		return nil, err
	}

	material, err := deriveSubkey(seed, subkeyInfo(alias, scope, epoch, s.cfg.Identity))
	if err != nil {
		return nil, err
	}
	return &derivedKey{alias: alias, tier: s.Tier(), scope: scope, material: material}, nil
}

// Import wraps the material under a key derived from the hardware root seed
// before persisting it, so imported keys are unreadable without the TPM.
func (s *TPMStore) Import(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope, material cryptoutils.HMACKey) (interfaces.DeviceKey, error) {
	if err := alias.Validate(); err != nil {
		return nil, err
	}
	if err := material.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seed, err := s.rootSeedLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}

	sealed, err := sealWithRoot(seed, material)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(s.importedPath(alias), sealed, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}
	s.log.Info("imported key material", "alias", alias.String(), "scope", scope.String(), "tier", s.Tier().String(), "fingerprint", material.Fingerprint())

	mat := make(cryptoutils.HMACKey, len(material))
	copy(mat, material)
	return &derivedKey{alias: alias, tier: s.Tier(), scope: scope, material: mat}, nil
}

// Clear rotates the derivation epoch and removes wrapped imports. The sealed
// root stays in the TPM, but post-clear keys derive differently and cannot
// verify earlier signatures.
func (s *TPMStore) Clear(ctx context.Context, aliases []interfaces.KeyAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if _, err := s.rotateEpochLocked(); err != nil {
		errs = append(errs, err)
	}
	for _, alias := range aliases {
		if err := os.Remove(s.importedPath(alias)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("tpm: could not remove imported key %s: %w", alias, err))
		}
	}

	if s.seed != nil {
		wipeBytes(s.seed)
		s.seed = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.log.Warn("hardware keystore cleared", "dir", s.cfg.StateDir)
	return nil
}

func (s *TPMStore) rootSeedLocked(ctx context.Context) (cryptoutils.HMACKey, error) {
	if s.seed != nil {
		return s.seed, nil
	}

	sess, err := s.provider.Open(ctx, s.cfg)
	if err != nil {
		return nil, err
	}

	seed, err := sess.Unseal(ctx, s.cfg.SealedHandle, s.cfg.Password)
	err = errors.Join(err, sess.Close(ctx))
	if err != nil {
		return nil, fmt.Errorf("tpm: unseal failed: %w", err)
	}
	if len(seed) < 32 {
		return nil, fmt.Errorf("tpm: sealed seed too short: %d bytes", len(seed))
	}

	s.seed = cryptoutils.HMACKey(seed)
	s.log.Info("unsealed hardware root seed", "handle", fmt.Sprintf("0x%08x", uint32(s.cfg.SealedHandle)), "fingerprint", s.seed.Fingerprint())
	return s.seed, nil
}

func (s *TPMStore) epochLocked() (string, error) {
	if s.epoch != "" {
		return s.epoch, nil
	}

	path := filepath.Join(s.cfg.StateDir, tpmEpochFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if epoch := strings.TrimSpace(string(data)); epoch != "" {
			s.epoch = epoch
			return epoch, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("tpm: could not read epoch: %w", err)
	}
	return s.rotateEpochLocked()
}

func (s *TPMStore) rotateEpochLocked() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("tpm: could not generate epoch: %w", err)
	}
	epoch := hex.EncodeToString(raw)
	if err := writeFileAtomic(filepath.Join(s.cfg.StateDir, tpmEpochFile), []byte(epoch+"\n"), 0o600); err != nil {
		return "", err
	}
	s.epoch = epoch
	return epoch, nil
}

func (s *TPMStore) importedPath(alias interfaces.KeyAlias) string {
	return filepath.Join(s.cfg.StateDir, "imported."+alias.String()+".sealed")
}

func (s *TPMStore) importedMaterialLocked(alias interfaces.KeyAlias, seed cryptoutils.HMACKey) (cryptoutils.HMACKey, error) {
	sealed, err := os.ReadFile(s.importedPath(alias))
	if err != nil {
		return nil, err
	}
	plain, err := openWithRoot(seed, sealed)
	if err != nil {
		return nil, fmt.Errorf("tpm: could not unwrap imported key %s: %w", alias, err)
	}
	return cryptoutils.NewHMACKey(plain)
}

// sealWithRoot encrypts material with AES-GCM under a wrapping key derived
// from the root seed. Output layout: [12-byte nonce][ciphertext].
func sealWithRoot(root cryptoutils.HMACKey, plaintext []byte) ([]byte, error) {
	wrapKey, err := deriveSubkey(root, tpmWrapInfo)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("tpm: could not generate IV: %w", err)
	}

	aesBlock, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("tpm: could not create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("tpm: could not create GCM: %w", err)
	}

	ciphertext := aesGCM.Seal(nil, iv, plaintext, nil)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// openWithRoot reverses sealWithRoot.
func openWithRoot(root cryptoutils.HMACKey, sealed []byte) ([]byte, error) {
	if len(sealed) < 12 {
		return nil, errors.New("tpm: sealed data too short")
	}

	wrapKey, err := deriveSubkey(root, tpmWrapInfo)
	if err != nil {
		return nil, err
	}

	aesBlock, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("tpm: could not create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("tpm: could not create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, sealed[:12], sealed[12:], nil)
	if err != nil {
		return nil, fmt.Errorf("tpm: could not decrypt: %w", err)
	}
	return plaintext, nil
}
