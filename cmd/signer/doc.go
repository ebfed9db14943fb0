// Package main (cmd/signer) implements the server-side signing tool for
// security configurations and distributed artifacts.
//
// Devices only accept a configuration as trusted when its HMAC-SHA256
// signature verifies against their provisioned key. This tool produces those
// signatures on the publishing side: over raw config bytes for the loader's
// signed step, and over binary artifact digests for release integrity.
//
// Commands:
//
//	sign             - HMAC-SHA256 over raw config bytes, hex to --out or stdout
//	verify           - Recompute and compare a signature, exit nonzero on mismatch
//	artifact         - Hash a binary (SHA-256) and sign the digest; JSON envelope or bare signature
//	keyshares init   - Split the fleet signing key into custodian shares
//	keyshares recover - Reconstruct the signing key from threshold shares
//	publish          - Store a {name}.json / {name}.sig pair into an asset source
//
// The signing key comes from --key (literal), --key-env (environment
// variable), or --key-file (file contents with trailing whitespace
// stripped). Signatures are canonical lowercase hex. Signing the exact bytes
// devices will fetch matters: the MAC covers the raw document, so any
// re-serialization in between breaks verification.
//
// The fleet signing key never needs to live on disk in one piece. keyshares
// init splits it for custodians; recover rebuilds it only when configs are
// being signed, and the share files reveal nothing below the threshold.
//
// Example workflow:
//
//  1. Split a fresh fleet signing key 2-of-3:
//     integrity-signer keyshares init --threshold=2 --total-shares=3
//
//  2. Reconstruct it for a signing session:
//     integrity-signer keyshares recover --share-file=fleet-share-1.json --share-file=fleet-share-3.json --key-out=fleet.key
//
//  3. Sign the config:
//     integrity-signer sign --key-file=fleet.key --in=security_config.json --out=security_config.sig
//
//  4. Publish the pair where devices look for it:
//     integrity-signer publish --source=file:///var/lib/integrity-guard/assets --config=security_config.json --sig-file=security_config.sig
//
// Devices verify with the generic-scope key, so a config signed here is
// valid fleet-wide once the signing key has been imported into each device's
// keystore.
package main
