// Package configloader resolves the active security configuration through a
// fixed trust chain and keeps it fresh.
//
// # Load Chain
//
// Load walks three steps and always produces a configuration:
//
//  1. Signed asset: {name}.json plus detached {name}.sig, verified against
//     the key selected by the caller's KeyStrategy (generic fleet key or
//     device-bound key).
//  2. Unsigned asset: the same {name}.json accepted without verification.
//     Explicitly lower trust. Never silent: taking this step emits a
//     warn-level log and a config_downgrade audit event carrying the reason
//     the signed step failed.
//  3. Embedded default: every action ALLOW, baseline thresholds, zero I/O.
//
// Asset-not-found, parse failures, verification failures and key
// unavailability all fall through to the next step; Load has no error
// return.
//
// # Hot Reload
//
// Watcher re-runs the chain when the backing files of a file source change,
// debounced so a json+sig publish pair triggers one reload. Tampering with a
// watched file downgrades or falls back exactly like at startup.
//
// # Usage Example
//
//	verifier, err := configloader.NewVerifier(keys, log)
//	if err != nil {
//	    return err
//	}
//
//	loader, err := configloader.NewLoader(configloader.LoaderConfig{
//	    Source:   source,
//	    Verifier: verifier,
//	    Strategy: configloader.StrategyGeneric,
//	    Audit:    auditLog,
//	    Log:      log,
//	})
//	if err != nil {
//	    return err
//	}
//
//	result := loader.Load(ctx)
//	engine := policy.NewEngine(result.Config)
package configloader
