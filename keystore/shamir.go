package keystore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
)

// SplitSigningKey splits a fleet signing key into shares for distribution to
// custodians. Reconstructing the key requires threshold shares; fewer reveal
// nothing about it. The caller should securely erase the original key once
// the shares are distributed.
func SplitSigningKey(key cryptoutils.HMACKey, shares, threshold int) ([][]byte, error) {
	if len(key) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	out, err := shamir.Split(key, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split signing key: %w", err)
	}
	return out, nil
}

// CombineShares reconstructs a signing key from threshold shares.
func CombineShares(shares [][]byte) (cryptoutils.HMACKey, error) {
	if len(shares) < 2 {
		return nil, errors.New("need at least 2 shares")
	}
	key, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct signing key: %w", err)
	}
	return cryptoutils.NewHMACKey(key)
}

// ShareFingerprint returns a short digest identifying a share in logs and
// custody records without revealing it.
func ShareFingerprint(share []byte) string {
	sum := sha256.Sum256(share)
	return hex.EncodeToString(sum[:4])
}

// ShareRecovery collects shares one at a time until the threshold is
// reached, then reconstructs the signing key. The key exists only in memory
// and the shares are wiped once it is recovered.
type ShareRecovery struct {
	mu             sync.RWMutex
	threshold      int
	receivedShares map[int][]byte
	key            cryptoutils.HMACKey
	unlocked       bool
}

// NewShareRecovery creates a recovery session expecting threshold shares.
func NewShareRecovery(threshold int) (*ShareRecovery, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	return &ShareRecovery{
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
	}, nil
}

// SubmitShare adds one custodian's share. Submitting the same index twice
// replaces the earlier share. When the threshold number of distinct shares
// has been received the key is reconstructed automatically.
func (r *ShareRecovery) SubmitShare(shareIndex int, share []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unlocked {
		return errors.New("signing key is already recovered")
	}
	if len(share) == 0 {
		return errors.New("empty share")
	}

	buf := make([]byte, len(share))
	copy(buf, share)
	r.receivedShares[shareIndex] = buf

	return r.tryReconstruct()
}

// tryReconstruct combines the received shares once enough have arrived.
// After successful reconstruction all shares are wiped from memory.
func (r *ShareRecovery) tryReconstruct() error {
	if len(r.receivedShares) < r.threshold {
		return nil // Not enough shares yet, but this is not an error
	}

	shares := make([][]byte, 0, len(r.receivedShares))
	for _, share := range r.receivedShares {
		shares = append(shares, share)
	}

	key, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct signing key: %w", err)
	}

	r.key = key
	r.unlocked = true

	for i := range r.receivedShares {
		wipeBytes(r.receivedShares[i])
	}
	r.receivedShares = make(map[int][]byte)

	return nil
}

// IsUnlocked reports whether the signing key has been reconstructed.
func (r *ShareRecovery) IsUnlocked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unlocked
}

// Key returns the recovered signing key. It fails while shares are still
// missing.
func (r *ShareRecovery) Key() (cryptoutils.HMACKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.unlocked {
		return nil, fmt.Errorf("signing key is locked: have %d of %d shares", len(r.receivedShares), r.threshold)
	}
	return r.key, nil
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
