// Package interfaces defines core interfaces and types for the runtime
// integrity guard, separating interface definitions from implementations.
//
// The package provides interfaces for the key components of the system:
//
// # Key Management Interfaces
//
// KeyStore: Provisions device keys with tier fallback (secure element,
// hardware keystore, software), destroys them, and reports the active tier.
//
// DeviceKey: An opaque handle to a provisioned symmetric key. MAC
// computation and verification happen behind the handle; raw key material
// never crosses it.
//
// # Asset Source Interfaces
//
// AssetSource: Retrieves and publishes named assets (configuration documents
// and their detached signatures) across multiple source types (file, HTTP,
// S3, Vault, IPFS, SRV-discovered).
//
// SourceFactory: Creates asset sources from URI strings and aggregates them
// into ordered fallthrough chains for resilient configuration delivery.
//
// # Enforcement Interfaces
//
// ScreenBlocker and ProcessTerminator: Narrow hooks through which the policy
// executor realizes BLOCK and TERMINATE decisions without owning UI or
// process lifecycle concerns.
//
// # Type Definitions
//
// The package defines various types used throughout the system:
//
//   - KeyTier: Isolation level of a provisioned key (software,
//     hardware_isolated, secure_element)
//   - KeyScope: Binding of a key (generic vs device_bound)
//   - KeyIdentity: Device and application identity for bound derivations
//   - KeyAlias: Stable in-store key name
//   - AssetName / AssetLocation: Named assets and source URIs
//   - HMACKey / Signature: Aliases of the cryptoutils key and MAC types
//
// # Error Types
//
// Standard errors shared across components:
//
//   - ErrKeyUnavailable: Secure storage inaccessible or key unusable
//   - ErrConfigParse: Configuration document malformed
//   - ErrConfigVerification: Signature present but invalid
//   - ErrAssetNotFound: Requested asset missing from the source
//   - ErrBackendUnavailable: Asset source not accessible
//   - ErrInvalidLocationURI: Asset location URI malformed
//
// # Usage Patterns
//
// Components should depend on interfaces rather than concrete
// implementations:
//
//	func NewLoader(
//	    source interfaces.AssetSource,
//	    keys interfaces.KeyStore,
//	) *Loader {
//	    // ...
//	}
//
// This allows for better testability and flexibility in changing
// implementations.
package interfaces
