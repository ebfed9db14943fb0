package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
)

func TestSplitSigningKey(t *testing.T) {
	key, err := cryptoutils.RandomHMACKey()
	require.NoError(t, err, "Failed to generate test signing key")

	// Test valid parameters
	shares, err := SplitSigningKey(key, 5, 3)
	require.NoError(t, err, "Should split with valid parameters")
	assert.Equal(t, 5, len(shares), "Should generate 5 shares")

	// Test invalid parameters
	_, err = SplitSigningKey(key, 3, 5)
	assert.Error(t, err, "Should fail when threshold > total shares")

	_, err = SplitSigningKey(key, 5, 1)
	assert.Error(t, err, "Should fail when threshold < 2")

	// Test with too short key
	_, err = SplitSigningKey(cryptoutils.HMACKey("short"), 5, 3)
	assert.Error(t, err, "Should fail with signing key < 32 bytes")
}

func TestCombineShares(t *testing.T) {
	key, err := cryptoutils.RandomHMACKey()
	require.NoError(t, err, "Failed to generate test signing key")

	shares, err := SplitSigningKey(key, 5, 3)
	require.NoError(t, err, "Failed to split key")

	// Any threshold-sized subset reconstructs the key
	recovered, err := CombineShares([][]byte{shares[0], shares[2], shares[4]})
	require.NoError(t, err, "Combine should succeed with threshold shares")
	assert.True(t, key.Equal(recovered), "Recovered key should match the original")

	// Too few shares
	_, err = CombineShares([][]byte{shares[0]})
	assert.Error(t, err, "Should fail with a single share")
}

func TestShareRecovery(t *testing.T) {
	key, err := cryptoutils.RandomHMACKey()
	require.NoError(t, err, "Failed to generate test signing key")

	shares, err := SplitSigningKey(key, 5, 3)
	require.NoError(t, err, "Failed to split key")

	recovery, err := NewShareRecovery(3)
	require.NoError(t, err, "Failed to create recovery session")
	assert.False(t, recovery.IsUnlocked(), "Recovery should start locked")

	_, err = recovery.Key()
	assert.Error(t, err, "Key should not be readable while locked")

	// Below threshold the session stays locked without error
	require.NoError(t, recovery.SubmitShare(0, shares[0]))
	require.NoError(t, recovery.SubmitShare(1, shares[1]))
	assert.False(t, recovery.IsUnlocked(), "Two of three shares should not unlock")

	// Resubmitting the same index replaces the share, it does not count twice
	require.NoError(t, recovery.SubmitShare(1, shares[1]))
	assert.False(t, recovery.IsUnlocked(), "Duplicate submissions must not satisfy the threshold")

	// The third distinct share unlocks
	require.NoError(t, recovery.SubmitShare(4, shares[4]))
	assert.True(t, recovery.IsUnlocked(), "Threshold shares should unlock the key")

	recovered, err := recovery.Key()
	require.NoError(t, err, "Key should be readable once unlocked")
	assert.True(t, key.Equal(recovered), "Recovered key should match the original")

	// Further submissions are rejected
	err = recovery.SubmitShare(3, shares[3])
	assert.Error(t, err, "Submissions after unlock should be rejected")
}

func TestShareRecovery_InvalidInput(t *testing.T) {
	_, err := NewShareRecovery(1)
	assert.Error(t, err, "Should fail with threshold < 2")

	recovery, err := NewShareRecovery(2)
	require.NoError(t, err)

	err = recovery.SubmitShare(0, nil)
	assert.Error(t, err, "Should reject an empty share")
}

func TestShareFingerprint(t *testing.T) {
	key, err := cryptoutils.RandomHMACKey()
	require.NoError(t, err, "Failed to generate test signing key")

	shares, err := SplitSigningKey(key, 3, 2)
	require.NoError(t, err, "Failed to split key")

	fp := ShareFingerprint(shares[0])
	assert.Len(t, fp, 8, "Fingerprint should be 4 bytes of hex")
	assert.Equal(t, fp, ShareFingerprint(shares[0]), "Fingerprint should be stable")
	assert.NotEqual(t, fp, ShareFingerprint(shares[1]), "Distinct shares should fingerprint differently")
}
