package cryptoutils

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// HMACKey represents raw symmetric key material for HMAC-SHA256.
type HMACKey []byte

// NewHMACKey creates a new HMAC key from raw bytes with validation.
func NewHMACKey(data []byte) (HMACKey, error) {
	if len(data) == 0 {
		return HMACKey{}, errors.New("invalid HMAC key: empty key material")
	}
	return HMACKey(data), nil
}

// RandomHMACKey generates a fresh 32-byte HMAC key.
func RandomHMACKey() (HMACKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return HMACKey{}, fmt.Errorf("could not generate key material: %w", err)
	}
	return HMACKey(key), nil
}

// HMACKeyFromFile reads key material from a file, stripping trailing
// whitespace so keys produced by shell redirection keep their intended bytes.
func HMACKeyFromFile(path string) (HMACKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HMACKey{}, fmt.Errorf("could not read key file: %w", err)
	}
	return NewHMACKey([]byte(strings.TrimRight(string(data), " \t\r\n")))
}

// Validate checks if the key is usable.
func (k HMACKey) Validate() error {
	_, err := NewHMACKey(k)
	return err
}

// Fingerprint returns a short hex digest identifier for logging.
func (k HMACKey) Fingerprint() string {
	sum := sha256.Sum256(k)
	return hex.EncodeToString(sum[:4])
}

// Equal compares two keys for equality.
func (k HMACKey) Equal(other HMACKey) bool {
	return bytes.Equal(k, other)
}

// Signature represents a raw HMAC-SHA256 authentication code. Its canonical
// text form is lowercase hex; base64 is accepted when decoding.
type Signature []byte

// NewSignature creates a signature from raw MAC bytes with validation.
func NewSignature(data []byte) (Signature, error) {
	if len(data) != sha256.Size {
		return Signature{}, fmt.Errorf("invalid signature length %d: must be %d bytes", len(data), sha256.Size)
	}
	return Signature(data), nil
}

// ParseSignature decodes signature text. Hex is the canonical encoding;
// base64 (standard and raw) is accepted for payloads produced by callers
// that encode MACs with base64.
func ParseSignature(text string) (Signature, error) {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return Signature{}, errors.New("invalid signature: empty")
	}

	if raw, err := hex.DecodeString(clean); err == nil {
		return NewSignature(raw)
	}
	if raw, err := base64.StdEncoding.DecodeString(clean); err == nil {
		return NewSignature(raw)
	}
	if raw, err := base64.RawStdEncoding.DecodeString(clean); err == nil {
		return NewSignature(raw)
	}
	return Signature{}, errors.New("invalid signature: not hex or base64")
}

// Validate checks if the signature is well formed.
func (s Signature) Validate() error {
	_, err := NewSignature(s)
	return err
}

// String returns the canonical lowercase hex encoding.
func (s Signature) String() string {
	return hex.EncodeToString(s)
}

// Bytes returns the raw MAC bytes.
func (s Signature) Bytes() []byte {
	return s
}
