// Package cryptoutils provides the HMAC primitives for tamper-evident
// configuration and artifact integrity.
//
// This package implements symmetric message authentication using HMAC-SHA256.
// It is used to sign policy configuration documents before distribution and
// to verify them on device, as well as to produce signed integrity envelopes
// for released binaries.
//
// # Key Functions
//
// ComputeHMACSHA256 - Computes an authentication code over a byte payload
//
// VerifyHMACSignature - Recomputes and compares in constant time
//
// SignArtifact - Hashes a file and wraps the MAC in a JSON envelope
//
// # Signature Encoding
//
// The canonical text encoding of a signature is lowercase hex. Decoding also
// accepts standard and raw base64 so signatures minted by callers using
// base64 MAC encoding verify unchanged. Decoding failures surface as a
// failed verification, never as an error: a forged or truncated signature is
// simply not valid.
//
// # Security Considerations
//
//   - Verification uses hmac.Equal, a constant-time comparison
//   - Key material is validated before use; an unusable key is reported as
//     ErrKeyUnavailable rather than producing an empty MAC
//   - Artifact envelopes authenticate the hex digest string of the file, so
//     verification recomputes the digest before checking the MAC
//
// # Usage Example
//
//	key, err := cryptoutils.NewHMACKey(material)
//	if err != nil {
//	    log.Fatalf("Bad key: %v", err)
//	}
//
//	sig, err := cryptoutils.ComputeHMACSHA256(configBytes, key)
//	if err != nil {
//	    log.Fatalf("Failed to sign: %v", err)
//	}
//
//	ok, err := cryptoutils.VerifyHMACSignature(configBytes, sig.String(), key)
//	if err != nil {
//	    log.Fatalf("Key unavailable: %v", err)
//	}
//	if !ok {
//	    log.Fatal("Configuration has been tampered with")
//	}
package cryptoutils
