package configloader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// KeyStrategy selects which provisioned key a configuration signature is
// checked against.
type KeyStrategy int

const (
	// StrategyGeneric verifies against the portable secure key. Use it when
	// configs are signed server-side and shipped to the whole fleet.
	StrategyGeneric KeyStrategy = iota

	// StrategyDeviceBound verifies against the key derived from the device
	// and app identity. Signatures only verify on the device that made them.
	StrategyDeviceBound
)

// String returns the strategy name.
func (s KeyStrategy) String() string {
	switch s {
	case StrategyGeneric:
		return "generic"
	case StrategyDeviceBound:
		return "device_bound"
	default:
		return "unknown"
	}
}

// Scope maps the strategy onto the key scope it verifies with.
func (s KeyStrategy) Scope() interfaces.KeyScope {
	if s == StrategyDeviceBound {
		return interfaces.ScopeDeviceBound
	}
	return interfaces.ScopeGeneric
}

// ParseKeyStrategy parses a strategy name.
func ParseKeyStrategy(name string) (KeyStrategy, error) {
	switch name {
	case "generic":
		return StrategyGeneric, nil
	case "device_bound":
		return StrategyDeviceBound, nil
	default:
		return StrategyGeneric, fmt.Errorf("unknown key strategy: %q", name)
	}
}

// Verifier checks configuration signatures against device keys. It holds no
// policy logic: canonical bytes in, boolean out.
type Verifier struct {
	keys interfaces.KeyStore
	log  *slog.Logger
}

// NewVerifier creates a verifier backed by the given key store.
func NewVerifier(keys interfaces.KeyStore, log *slog.Logger) (*Verifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("config verifier requires a key store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{keys: keys, log: log}, nil
}

// Verify checks signature over the raw configuration bytes using the key
// selected by strategy. A malformed or mismatched signature yields
// (false, nil); an error is returned only when the key itself cannot be
// provisioned.
func (v *Verifier) Verify(ctx context.Context, data []byte, signature string, strategy KeyStrategy) (bool, error) {
	key, err := v.keys.GetOrCreateKey(ctx, strategy.Scope())
	if err != nil {
		return false, fmt.Errorf("config verification key: %w", err)
	}

	ok, err := key.Verify(data, signature)
	if err != nil {
		return false, fmt.Errorf("config verification: %w", err)
	}

	v.log.Debug("Verified configuration signature",
		slog.String("strategy", strategy.String()),
		slog.String("tier", key.Tier().String()),
		slog.Bool("valid", ok))

	return ok, nil
}

// Sign computes the signature text for the raw configuration bytes using the
// key selected by strategy.
func (v *Verifier) Sign(ctx context.Context, data []byte, strategy KeyStrategy) (interfaces.Signature, error) {
	key, err := v.keys.GetOrCreateKey(ctx, strategy.Scope())
	if err != nil {
		return nil, fmt.Errorf("config signing key: %w", err)
	}

	return key.HMACSHA256(data)
}
