package keystore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
	"github.com/miaadrajabi/integrity-guard/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIdentity(t *testing.T) interfaces.KeyIdentity {
	t.Helper()
	identity, err := interfaces.NewKeyIdentity("device-01", "guardd")
	require.NoError(t, err, "Failed to build test identity")
	return identity
}

func newTestSoftwareStore(t *testing.T, dir string) *SoftwareStore {
	t.Helper()
	store, err := NewSoftwareStore(SoftwareStoreConfig{
		Dir:      dir,
		Identity: testIdentity(t),
		Log:      testLogger(),
	})
	require.NoError(t, err, "Failed to create software store")
	return store
}

func TestSoftwareStore_Validation(t *testing.T) {
	identity := testIdentity(t)

	// Missing state directory
	_, err := NewSoftwareStore(SoftwareStoreConfig{Identity: identity})
	assert.Error(t, err, "Should fail without a state directory")

	// Missing identity
	_, err = NewSoftwareStore(SoftwareStoreConfig{Dir: t.TempDir()})
	assert.Error(t, err, "Should fail without an identity")

	// Invalid alias
	store := newTestSoftwareStore(t, t.TempDir())
	_, err = store.GetOrCreate(context.Background(), "bad alias", interfaces.ScopeGeneric)
	assert.Error(t, err, "Should reject aliases containing whitespace")
}

func TestSoftwareStore_StableDerivation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := []byte(`{"min_os_version":"14.0"}`)

	store := newTestSoftwareStore(t, dir)
	assert.Equal(t, interfaces.TierSoftware, store.Tier())
	require.NoError(t, store.IsSupported(ctx), "Software tier should always be supported")

	key, err := store.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err, "GetOrCreate should succeed")
	assert.Equal(t, AliasGenericKey, key.Alias())
	assert.Equal(t, interfaces.TierSoftware, key.Tier())
	assert.Equal(t, interfaces.ScopeGeneric, key.Scope())

	sig1, err := key.HMACSHA256(data)
	require.NoError(t, err, "Signing should succeed")

	// Same alias from the same store yields the same key material
	again, err := store.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err)
	sig2, err := again.HMACSHA256(data)
	require.NoError(t, err)
	assert.Equal(t, sig1.String(), sig2.String(), "Repeated GetOrCreate should return the same key")

	// A fresh store over the same directory loads the persisted seed
	reopened := newTestSoftwareStore(t, dir)
	key3, err := reopened.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err)
	sig3, err := key3.HMACSHA256(data)
	require.NoError(t, err)
	assert.Equal(t, sig1.String(), sig3.String(), "Keys should survive process restarts")

	// Round-trip through Verify
	ok, err := key.Verify(data, sig1.String())
	require.NoError(t, err)
	assert.True(t, ok, "Signature should verify")

	ok, err = key.Verify([]byte(`{"min_os_version":"13.0"}`), sig1.String())
	require.NoError(t, err)
	assert.False(t, ok, "Signature over different data should not verify")

	ok, err = key.Verify(data, "not-a-signature")
	require.NoError(t, err, "A malformed signature is a negative result, not an error")
	assert.False(t, ok)
}

func TestSoftwareStore_ScopeAndIdentitySeparation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := []byte("payload")

	store := newTestSoftwareStore(t, dir)

	generic, err := store.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err)
	bound, err := store.GetOrCreate(ctx, AliasDeviceBoundKey, interfaces.ScopeDeviceBound)
	require.NoError(t, err)

	genericSig, err := generic.HMACSHA256(data)
	require.NoError(t, err)
	boundSig, err := bound.HMACSHA256(data)
	require.NoError(t, err)
	assert.NotEqual(t, genericSig.String(), boundSig.String(), "Scopes should derive independent keys")

	// Same seed, different device identity
	otherIdentity, err := interfaces.NewKeyIdentity("device-02", "guardd")
	require.NoError(t, err)
	otherStore, err := NewSoftwareStore(SoftwareStoreConfig{Dir: dir, Identity: otherIdentity, Log: testLogger()})
	require.NoError(t, err)

	otherGeneric, err := otherStore.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err)
	otherGenericSig, err := otherGeneric.HMACSHA256(data)
	require.NoError(t, err)
	assert.Equal(t, genericSig.String(), otherGenericSig.String(), "Generic keys should not depend on device identity")

	otherBound, err := otherStore.GetOrCreate(ctx, AliasDeviceBoundKey, interfaces.ScopeDeviceBound)
	require.NoError(t, err)
	otherBoundSig, err := otherBound.HMACSHA256(data)
	require.NoError(t, err)
	assert.NotEqual(t, boundSig.String(), otherBoundSig.String(), "Device-bound keys should differ across devices")
}

func TestSoftwareStore_ImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := []byte("signed artifact")

	store := newTestSoftwareStore(t, dir)

	derived, err := store.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err)
	derivedSig, err := derived.HMACSHA256(data)
	require.NoError(t, err)

	material, err := cryptoutils.RandomHMACKey()
	require.NoError(t, err, "Failed to generate key material")

	imported, err := store.Import(ctx, AliasGenericKey, interfaces.ScopeGeneric, material)
	require.NoError(t, err, "Import should succeed")

	want, err := cryptoutils.ComputeHMACSHA256(data, material)
	require.NoError(t, err)
	got, err := imported.HMACSHA256(data)
	require.NoError(t, err)
	assert.Equal(t, want.String(), got.String(), "Imported key should sign with the supplied material")
	assert.NotEqual(t, derivedSig.String(), got.String(), "Import should replace the derived key")

	// Imported material survives a restart and takes precedence over derivation
	reopened := newTestSoftwareStore(t, dir)
	key, err := reopened.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err)
	sig, err := key.HMACSHA256(data)
	require.NoError(t, err)
	assert.Equal(t, want.String(), sig.String(), "Imported key should survive process restarts")
}

func TestSoftwareStore_ClearDestroysKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := []byte("payload")
	aliases := []interfaces.KeyAlias{AliasGenericKey, AliasDeviceBoundKey}

	store := newTestSoftwareStore(t, dir)

	key, err := store.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err)
	before, err := key.HMACSHA256(data)
	require.NoError(t, err)

	material, err := cryptoutils.RandomHMACKey()
	require.NoError(t, err)
	_, err = store.Import(ctx, AliasDeviceBoundKey, interfaces.ScopeDeviceBound, material)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, aliases), "Clear should succeed")

	_, err = os.Stat(filepath.Join(dir, seedFileName))
	assert.True(t, os.IsNotExist(err), "Clear should remove the seed file")
	_, err = os.Stat(store.importedPath(AliasDeviceBoundKey))
	assert.True(t, os.IsNotExist(err), "Clear should remove imported key files")

	// A fresh seed is generated on the next request, so old signatures no
	// longer verify.
	rekeyed, err := store.GetOrCreate(ctx, AliasGenericKey, interfaces.ScopeGeneric)
	require.NoError(t, err, "GetOrCreate should re-provision after clear")
	after, err := rekeyed.HMACSHA256(data)
	require.NoError(t, err)
	assert.NotEqual(t, before.String(), after.String(), "Post-clear keys must not reproduce old signatures")

	ok, err := rekeyed.Verify(data, before.String())
	require.NoError(t, err)
	assert.False(t, ok, "Old signatures must fail against the re-provisioned key")

	// Clearing an already empty store is not an error
	assert.NoError(t, store.Clear(ctx, aliases))
}
