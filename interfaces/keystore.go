package interfaces

import (
	"context"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
)

// ErrKeyUnavailable is returned when secure storage is inaccessible or key
// material is unusable.
var ErrKeyUnavailable = cryptoutils.ErrKeyUnavailable

// DeviceKey is an opaque handle to a provisioned symmetric key. Raw key
// material never crosses this interface; MAC computation happens behind it,
// inside whatever tier holds the key.
type DeviceKey interface {
	// Alias returns the stable name the key is stored under.
	Alias() KeyAlias

	// Tier reports the isolation level backing this key.
	Tier() KeyTier

	// Scope reports how the key binds to the device and app identity.
	Scope() KeyScope

	// HMACSHA256 computes an authentication code over data under this key.
	HMACSHA256(data []byte) (Signature, error)

	// Verify recomputes the MAC over data and compares it against the
	// supplied signature text in constant time. Malformed signature text
	// yields false, never an error.
	Verify(data []byte, signature string) (bool, error)
}

// KeyStore provisions and destroys device keys. Get-or-create is atomic per
// alias: concurrent first-time calls for the same scope yield one key.
type KeyStore interface {
	// GetOrCreateKey returns the key for the scope, provisioning it on
	// first use at the strongest available tier.
	GetOrCreateKey(ctx context.Context, scope KeyScope) (DeviceKey, error)

	// ImportKey installs externally supplied key material for the scope,
	// replacing any provisioned key. Used to distribute a fleet signing
	// key so server-issued signatures verify on device.
	ImportKey(ctx context.Context, scope KeyScope, material HMACKey) (DeviceKey, error)

	// ClearAllKeys destroys every key in the store. Irreversible: keys
	// provisioned afterwards do not verify earlier signatures.
	ClearAllKeys(ctx context.Context) error

	// IsHighestTierAvailable reports whether the secure element tier is
	// usable right now.
	IsHighestTierAvailable(ctx context.Context) bool

	// ActiveTier reports the tier new keys would be provisioned at.
	ActiveTier(ctx context.Context) KeyTier
}
