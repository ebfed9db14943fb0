// Package keystore provisions the device-bound keys that anchor
// configuration integrity.
//
// The package manages symmetric HMAC keys across three isolation tiers,
// always preferring the strongest one the device offers. It implements the
// interfaces.KeyStore interface:
//
//	// KeyStore provisions and destroys device keys.
//	type KeyStore interface {
//	    // GetOrCreateKey returns the key for the scope, provisioning it on
//	    // first use at the strongest available tier.
//	    GetOrCreateKey(ctx context.Context, scope KeyScope) (DeviceKey, error)
//
//	    // ImportKey installs externally supplied key material for the scope.
//	    ImportKey(ctx context.Context, scope KeyScope, material HMACKey) (DeviceKey, error)
//
//	    // ClearAllKeys destroys every key in the store.
//	    ClearAllKeys(ctx context.Context) error
//	}
//
// The package includes these tier implementations:
//
// # SoftwareStore
//
// The always-available fallback. A random root seed is persisted 0600 under
// a state directory and per-alias keys are expanded from it with HKDF-SHA256.
// Clearing the store destroys the seed, so re-provisioned keys cannot verify
// earlier signatures.
//
// # TPMStore
//
// The hardware-isolated tier. The root seed is sealed inside a TPM 2.0
// device under a persistent handle, optionally gated by a PCR policy, and
// unsealed once per process. Per-alias keys are expanded from the unsealed
// seed; imported material is wrapped with AES-GCM under a seed-derived key
// before touching disk. The sealed root cannot be destroyed from user space,
// so clearing rotates a derivation epoch instead, which re-keys every alias.
//
// # PKCS11Store
//
// The secure element tier. Keys are generated inside the token as
// non-extractable generic secrets and MAC computation runs in the token via
// CKM_SHA256_HMAC, so key material never enters process memory. The native
// module loads behind the `pkcs11` build tag; without it, callers inject a
// SessionProvider or the tier reports itself unsupported.
//
// # Tier Selection
//
// A Provisioner probes its tiers strongest first (secure element, then TPM,
// then software) and serves every key from the first usable one. Degradation
// is mandatory: a device without hardware backing still provisions keys, and
// the selected tier stays queryable through ActiveTier. Get-or-create is
// atomic per alias, so concurrent first-time callers receive one key.
//
// # Key Scopes
//
// Generic keys carry no device binding; importing the same fleet material on
// two devices makes signatures portable between them. Device-bound keys mix
// the device and application identity into the HKDF derivation, so their
// signatures verify nowhere else.
//
// # Signing Key Custody
//
// For operators holding the fleet signing key, SplitSigningKey divides it
// into Shamir shares and ShareRecovery reconstructs it in memory once the
// threshold number of shares has been submitted. Shares are wiped after
// reconstruction.
//
// # Usage Example
//
//	identity, err := keystore.LoadIdentity("com.example.app")
//	if err != nil {
//	    log.Fatalf("Failed to load identity: %v", err)
//	}
//
//	software, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{
//	    Dir:      "/var/lib/integrity-guard/keys",
//	    Identity: identity,
//	})
//	if err != nil {
//	    log.Fatalf("Failed to create software store: %v", err)
//	}
//
//	ks, err := keystore.NewProvisioner(logger, software)
//	if err != nil {
//	    log.Fatalf("Failed to create provisioner: %v", err)
//	}
//
//	key, err := ks.GetOrCreateKey(ctx, interfaces.ScopeDeviceBound)
//	if err != nil {
//	    log.Fatalf("Failed to provision key: %v", err)
//	}
//	sig, err := key.HMACSHA256(configBytes)
package keystore
