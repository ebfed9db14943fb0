package keystore

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
	"github.com/miaadrajabi/integrity-guard/interfaces"
)

var (
	// ErrTokenUnavailable indicates no PKCS#11 token matching the
	// configuration is reachable.
	ErrTokenUnavailable = errors.New("pkcs11: token unavailable")

	errSessionProviderUnavailable = errors.New("pkcs11: system provider unavailable; build with -tags pkcs11 to use default")
)

// TokenSession is one open, logged-in connection to a PKCS#11 token.
type TokenSession interface {
	// EnsureKey finds the generic-secret key under label, generating a
	// token-resident non-extractable one when absent. Reports whether a
	// key was created.
	EnsureKey(ctx context.Context, label string) (bool, error)

	// ImportKey replaces the object under label with the supplied
	// material.
	ImportKey(ctx context.Context, label string, material []byte) error

	// SignHMAC computes HMAC-SHA256 over data inside the token.
	SignHMAC(ctx context.Context, label string, data []byte) ([]byte, error)

	// DestroyKey removes the object under label. Missing objects are not
	// an error; the bool reports whether anything was destroyed.
	DestroyKey(ctx context.Context, label string) (bool, error)

	Close(ctx context.Context) error
}

// SessionProvider abstracts creation of PKCS#11 sessions from configuration.
type SessionProvider interface {
	Open(ctx context.Context, cfg PKCS11StoreConfig) (TokenSession, error)
}

var systemSessionProvider SessionProvider

// SetSystemSessionProvider installs the default session provider used when
// callers pass nil to NewPKCS11Store. Primarily useful for tests or wiring
// concrete implementations from hosting applications.
func SetSystemSessionProvider(p SessionProvider) {
	systemSessionProvider = p
}

// PKCS11StoreConfig supplies the parameters required to locate and access a
// PKCS#11 token.
type PKCS11StoreConfig struct {
	// ModulePath is the PKCS#11 shared library.
	ModulePath string

	// TokenLabel selects the token by label when Slot is empty.
	TokenLabel string

	// Slot selects the token by slot id.
	Slot string

	// PIN is the user PIN. Empty skips login for tokens that allow it.
	PIN string

	// KeyLabelPrefix namespaces this application's objects on a shared
	// token. Defaults to "integrity-guard".
	KeyLabelPrefix string

	Log *slog.Logger
}

func (c *PKCS11StoreConfig) validate() error {
	if c.ModulePath == "" {
		return errors.New("pkcs11: module path must not be empty")
	}
	if c.TokenLabel == "" && c.Slot == "" {
		return errors.New("pkcs11: either token label or slot must be specified")
	}
	return nil
}

// PKCS11Store is the secure element key tier. Keys are generated inside the
// token as non-extractable generic secrets and every MAC runs in the token
// via CKM_SHA256_HMAC, so key material never enters process memory. Scope
// binding is physical: the key cannot leave the element it was created in.
type PKCS11Store struct {
	cfg      PKCS11StoreConfig
	provider SessionProvider
	log      *slog.Logger
}

// NewPKCS11Store builds the store. A nil provider selects the system
// provider, which requires linking against a real PKCS#11 module.
func NewPKCS11Store(cfg PKCS11StoreConfig, provider SessionProvider) (*PKCS11Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		if systemSessionProvider == nil {
			return nil, errSessionProviderUnavailable
		}
		provider = systemSessionProvider
	}
	if cfg.KeyLabelPrefix == "" {
		cfg.KeyLabelPrefix = "integrity-guard"
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &PKCS11Store{cfg: cfg, provider: provider, log: log}, nil
}

func (s *PKCS11Store) Tier() interfaces.KeyTier { return interfaces.TierSecureElement }

// IsSupported probes the tier by opening and closing a session.
func (s *PKCS11Store) IsSupported(ctx context.Context) error {
	return s.withSession(ctx, func(ctx context.Context, sess TokenSession) error {
		return nil
	})
}

// GetOrCreate returns the key under alias, generating a token-resident one
// when absent.
func (s *PKCS11Store) GetOrCreate(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope) (interfaces.DeviceKey, error) {
	if err := alias.Validate(); err != nil {
		return nil, err
	}

	label := s.labelFor(alias)
	err := s.withSession(ctx, func(ctx context.Context, sess TokenSession) error {
		created, err := sess.EnsureKey(ctx, label)
		if err != nil {
			return err
		}
		if created {
			s.log.Info("generated token key", "label", label, "scope", scope.String())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}

	return &pkcs11Key{store: s, alias: alias, scope: scope, label: label}, nil
}

// Import installs the material as a token object under alias, replacing any
// generated key. The token marks it sensitive and non-extractable on entry.
func (s *PKCS11Store) Import(ctx context.Context, alias interfaces.KeyAlias, scope interfaces.KeyScope, material cryptoutils.HMACKey) (interfaces.DeviceKey, error) {
	if err := alias.Validate(); err != nil {
		return nil, err
	}
	if err := material.Validate(); err != nil {
		return nil, err
	}

	label := s.labelFor(alias)
	err := s.withSession(ctx, func(ctx context.Context, sess TokenSession) error {
		return sess.ImportKey(ctx, label, material)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}
	s.log.Info("imported key material", "alias", alias.String(), "scope", scope.String(), "tier", s.Tier().String(), "fingerprint", material.Fingerprint())

	return &pkcs11Key{store: s, alias: alias, scope: scope, label: label}, nil
}

// Clear destroys the token objects for the given aliases.
func (s *PKCS11Store) Clear(ctx context.Context, aliases []interfaces.KeyAlias) error {
	destroyed := 0
	err := s.withSession(ctx, func(ctx context.Context, sess TokenSession) error {
		var errs []error
		for _, alias := range aliases {
			gone, err := sess.DestroyKey(ctx, s.labelFor(alias))
			if err != nil {
				errs = append(errs, fmt.Errorf("pkcs11: could not destroy %s: %w", s.labelFor(alias), err))
				continue
			}
			if gone {
				destroyed++
			}
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Warn("secure element keys cleared", "destroyed", destroyed)
	return nil
}

func (s *PKCS11Store) labelFor(alias interfaces.KeyAlias) string {
	return s.cfg.KeyLabelPrefix + "." + alias.String()
}

func (s *PKCS11Store) withSession(ctx context.Context, fn func(context.Context, TokenSession) error) (err error) {
	sess, err := s.provider.Open(ctx, s.cfg)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := sess.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	return fn(ctx, sess)
}

// pkcs11Key is a handle to a token-resident key. MAC computation opens a
// fresh session per operation; the material itself never leaves the token.
type pkcs11Key struct {
	store *PKCS11Store
	alias interfaces.KeyAlias
	scope interfaces.KeyScope
	label string
}

func (k *pkcs11Key) Alias() interfaces.KeyAlias { return k.alias }
func (k *pkcs11Key) Tier() interfaces.KeyTier   { return interfaces.TierSecureElement }
func (k *pkcs11Key) Scope() interfaces.KeyScope { return k.scope }

func (k *pkcs11Key) HMACSHA256(data []byte) (interfaces.Signature, error) {
	var mac []byte
	err := k.store.withSession(context.Background(), func(ctx context.Context, sess TokenSession) error {
		raw, err := sess.SignHMAC(ctx, k.label, data)
		if err != nil {
			return err
		}
		mac = raw
		return nil
	})
	if err != nil {
		return interfaces.Signature{}, fmt.Errorf("%w: %s", interfaces.ErrKeyUnavailable, err)
	}
	return cryptoutils.NewSignature(mac)
}

func (k *pkcs11Key) Verify(data []byte, signature string) (bool, error) {
	mac, err := k.HMACSHA256(data)
	if err != nil {
		return false, err
	}
	want, err := cryptoutils.ParseSignature(signature)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(mac.Bytes(), want.Bytes()), nil
}
