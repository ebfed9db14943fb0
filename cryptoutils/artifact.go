package cryptoutils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	// ArtifactEnvelopeVersion is the envelope schema version.
	ArtifactEnvelopeVersion = "1.0.0"

	artifactAlgorithm     = "HMAC-SHA256"
	artifactHashAlgorithm = "SHA-256"
)

// ArtifactEnvelope is the signed integrity record for a distributed binary.
// The MAC covers the hex digest string of the artifact, not the raw bytes,
// so the envelope stays verifiable without re-streaming the file through the
// signer.
type ArtifactEnvelope struct {
	ArtifactFile  string `json:"artifact_file"`
	ArtifactPath  string `json:"artifact_path"`
	ArtifactHash  string `json:"artifact_hash"`
	HMACSignature string `json:"hmac_signature"`
	KeyType       string `json:"key_type"`
	Timestamp     string `json:"timestamp"`
	Algorithm     string `json:"algorithm"`
	HashAlgorithm string `json:"hash_algorithm"`
	Version       string `json:"version"`
}

// HashFileSHA256 streams a file through SHA-256 and returns the hex digest.
func HashFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open artifact: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("could not hash artifact: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SignArtifact hashes the file at path and produces a signed envelope under
// the given key. keyType records the provenance tier of the key for audit.
func SignArtifact(path string, key HMACKey, keyType string) (*ArtifactEnvelope, error) {
	digest, err := HashFileSHA256(path)
	if err != nil {
		return nil, err
	}

	sig, err := ComputeHMACSHA256([]byte(digest), key)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return &ArtifactEnvelope{
		ArtifactFile:  filepath.Base(path),
		ArtifactPath:  abs,
		ArtifactHash:  digest,
		HMACSignature: sig.String(),
		KeyType:       keyType,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Algorithm:     artifactAlgorithm,
		HashAlgorithm: artifactHashAlgorithm,
		Version:       ArtifactEnvelopeVersion,
	}, nil
}

// Verify recomputes the digest of the file at path and checks it against the
// envelope's recorded hash and MAC. A changed file or a forged MAC both
// yield false.
func (e *ArtifactEnvelope) Verify(path string, key HMACKey) (bool, error) {
	digest, err := HashFileSHA256(path)
	if err != nil {
		return false, err
	}
	if digest != e.ArtifactHash {
		return false, nil
	}
	return VerifyHMACSignature([]byte(digest), e.HMACSignature, key)
}

// Marshal renders the envelope as indented JSON.
func (e *ArtifactEnvelope) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// ParseArtifactEnvelope decodes an envelope document.
func ParseArtifactEnvelope(data []byte) (*ArtifactEnvelope, error) {
	var env ArtifactEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("could not parse artifact envelope: %w", err)
	}
	if env.ArtifactHash == "" || env.HMACSignature == "" {
		return nil, fmt.Errorf("artifact envelope missing hash or signature")
	}
	return &env, nil
}

// VerifyArtifactSignature checks a bare signature (no envelope) against the
// file at path.
func VerifyArtifactSignature(path, signature string, key HMACKey) (bool, error) {
	digest, err := HashFileSHA256(path)
	if err != nil {
		return false, err
	}
	return VerifyHMACSignature([]byte(digest), signature, key)
}
