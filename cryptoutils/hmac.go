package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrKeyUnavailable is returned when key material is missing or unusable for
// an HMAC operation.
var ErrKeyUnavailable = errors.New("hmac key unavailable")

// ComputeHMACSHA256 computes an HMAC-SHA256 authentication code over data.
// The only failure mode is unusable key material.
func ComputeHMACSHA256(data []byte, key HMACKey) (Signature, error) {
	if err := key.Validate(); err != nil {
		return Signature{}, fmt.Errorf("%w: %s", ErrKeyUnavailable, err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return Signature(mac.Sum(nil)), nil
}

// VerifyHMACSignature recomputes the MAC over data and compares it against
// the supplied signature text in constant time. Malformed signature text
// yields false, never an error; only unusable key material errors.
func VerifyHMACSignature(data []byte, signature string, key HMACKey) (bool, error) {
	expected, err := ComputeHMACSHA256(data, key)
	if err != nil {
		return false, err
	}

	supplied, err := ParseSignature(signature)
	if err != nil {
		return false, nil
	}

	return hmac.Equal(expected, supplied), nil
}
