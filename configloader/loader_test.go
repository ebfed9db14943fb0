package configloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
	"github.com/miaadrajabi/integrity-guard/interfaces"
	"github.com/miaadrajabi/integrity-guard/policy"
)

const validConfigJSON = `{
  "policy": {
    "onRoot": "BLOCK",
    "onEmulator": "WARN",
    "onDebugger": "TERMINATE"
  },
  "thresholds": {
    "rootSignalsToBlock": 2,
    "emulatorSignalsToBlock": 3
  }
}`

// fakeAssetSource is a map-backed asset source with an injectable failure.
type fakeAssetSource struct {
	mu       sync.Mutex
	assets   map[string][]byte
	fetchErr error
}

func newFakeAssetSource() *fakeAssetSource {
	return &fakeAssetSource{assets: make(map[string][]byte)}
}

func (f *fakeAssetSource) put(name, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[name] = []byte(data)
}

func (f *fakeAssetSource) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	data, ok := f.assets[name.String()]
	if !ok {
		return nil, interfaces.ErrAssetNotFound
	}
	return data, nil
}

func (f *fakeAssetSource) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[name.String()] = data
	return nil
}

func (f *fakeAssetSource) Available(ctx context.Context) bool { return true }
func (f *fakeAssetSource) Name() string                       { return "fake" }
func (f *fakeAssetSource) LocationURI() string                { return "fake://" }

// fakeKey implements interfaces.DeviceKey over in-memory material.
type fakeKey struct {
	scope    interfaces.KeyScope
	material cryptoutils.HMACKey
}

func (k *fakeKey) Alias() interfaces.KeyAlias { return interfaces.KeyAlias("fake-key") }
func (k *fakeKey) Tier() interfaces.KeyTier   { return interfaces.TierSoftware }
func (k *fakeKey) Scope() interfaces.KeyScope { return k.scope }

func (k *fakeKey) HMACSHA256(data []byte) (interfaces.Signature, error) {
	return cryptoutils.ComputeHMACSHA256(data, k.material)
}

func (k *fakeKey) Verify(data []byte, signature string) (bool, error) {
	return cryptoutils.VerifyHMACSignature(data, signature, k.material)
}

// fakeKeyStore hands out deterministic per-scope keys, or fails entirely.
type fakeKeyStore struct {
	err error
}

func (f *fakeKeyStore) materialFor(scope interfaces.KeyScope) cryptoutils.HMACKey {
	material := make([]byte, 32)
	for i := range material {
		material[i] = byte(i + int(scope)*100)
	}
	return material
}

func (f *fakeKeyStore) GetOrCreateKey(ctx context.Context, scope interfaces.KeyScope) (interfaces.DeviceKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeKey{scope: scope, material: f.materialFor(scope)}, nil
}

func (f *fakeKeyStore) ImportKey(ctx context.Context, scope interfaces.KeyScope, material interfaces.HMACKey) (interfaces.DeviceKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeKey{scope: scope, material: cryptoutils.HMACKey(material)}, nil
}

func (f *fakeKeyStore) ClearAllKeys(ctx context.Context) error        { return f.err }
func (f *fakeKeyStore) IsHighestTierAvailable(ctx context.Context) bool { return false }
func (f *fakeKeyStore) ActiveTier(ctx context.Context) interfaces.KeyTier {
	return interfaces.TierSoftware
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []interfaces.AuditEvent
}

func (r *recordingSink) Record(ctx context.Context, event interfaces.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) kinds() []interfaces.AuditKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]interfaces.AuditKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (r *recordingSink) find(kind interfaces.AuditKind) (interfaces.AuditEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return interfaces.AuditEvent{}, false
}

func newTestLoader(t *testing.T, source interfaces.AssetSource, keys interfaces.KeyStore, sink interfaces.AuditSink) *Loader {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier, err := NewVerifier(keys, log)
	require.NoError(t, err)

	loader, err := NewLoader(LoaderConfig{
		Source:   source,
		Verifier: verifier,
		Strategy: StrategyGeneric,
		Audit:    sink,
		Log:      log,
	})
	require.NoError(t, err)
	return loader
}

// signFor computes the canonical signature text for data under the store's
// generic key.
func signFor(t *testing.T, keys *fakeKeyStore, data string) string {
	t.Helper()
	sig, err := cryptoutils.ComputeHMACSHA256([]byte(data), keys.materialFor(interfaces.ScopeGeneric))
	require.NoError(t, err)
	return sig.String()
}

func TestLoaderSignedHappyPath(t *testing.T) {
	source := newFakeAssetSource()
	keys := &fakeKeyStore{}
	sink := &recordingSink{}

	source.put("security_config.json", validConfigJSON)
	source.put("security_config.sig", signFor(t, keys, validConfigJSON)+"\n")

	loader := newTestLoader(t, source, keys, sink)
	result := loader.Load(context.Background())

	assert.Equal(t, ProvenanceSigned, result.Provenance)
	assert.True(t, result.Verified())
	assert.Equal(t, "fake", result.Source)
	assert.Equal(t, policy.ActionBlock, result.Config.Policy.OnRoot)
	assert.Equal(t, policy.ActionTerminate, result.Config.Policy.OnDebugger)
	assert.Equal(t, policy.ActionAllow, result.Config.Policy.OnVpn, "unset fields default to ALLOW")
	assert.Equal(t, 3, result.Config.Thresholds.EmulatorSignalsToBlock)

	// A clean signed load records no downgrade
	assert.Equal(t, []interfaces.AuditKind{interfaces.AuditConfigLoad}, sink.kinds())

	current, ok := loader.Current()
	require.True(t, ok)
	assert.Equal(t, result.Provenance, current.Provenance)
	assert.False(t, current.LoadedAt.IsZero())
}

func TestLoaderTamperedConfigDowngrades(t *testing.T) {
	source := newFakeAssetSource()
	keys := &fakeKeyStore{}
	sink := &recordingSink{}

	// Signature is over different bytes than the stored config
	source.put("security_config.json", validConfigJSON)
	source.put("security_config.sig", signFor(t, keys, `{"tampered":true}`))

	loader := newTestLoader(t, source, keys, sink)
	result := loader.Load(context.Background())

	assert.Equal(t, ProvenanceUnsigned, result.Provenance, "tampered payload must not be accepted as signed")
	assert.False(t, result.Verified())
	assert.Equal(t, policy.ActionBlock, result.Config.Policy.OnRoot, "payload still parses on the unsigned path")

	downgrade, found := sink.find(interfaces.AuditConfigDowngrade)
	require.True(t, found, "downgrade must be audited")
	assert.Contains(t, downgrade.Reason, "verification")
}

func TestLoaderMissingSignatureDowngrades(t *testing.T) {
	source := newFakeAssetSource()
	keys := &fakeKeyStore{}
	sink := &recordingSink{}

	source.put("security_config.json", validConfigJSON)

	loader := newTestLoader(t, source, keys, sink)
	result := loader.Load(context.Background())

	assert.Equal(t, ProvenanceUnsigned, result.Provenance)

	downgrade, found := sink.find(interfaces.AuditConfigDowngrade)
	require.True(t, found)
	assert.Contains(t, downgrade.Reason, "security_config.sig")
}

func TestLoaderMalformedSignatureDowngrades(t *testing.T) {
	source := newFakeAssetSource()
	keys := &fakeKeyStore{}
	sink := &recordingSink{}

	source.put("security_config.json", validConfigJSON)
	source.put("security_config.sig", "%%%not-a-signature%%%")

	loader := newTestLoader(t, source, keys, sink)
	result := loader.Load(context.Background())

	assert.Equal(t, ProvenanceUnsigned, result.Provenance, "malformed signature falls through, never errors")
}

func TestLoaderKeyUnavailableDowngrades(t *testing.T) {
	source := newFakeAssetSource()
	keys := &fakeKeyStore{err: fmt.Errorf("%w: no usable key tier", interfaces.ErrKeyUnavailable)}
	sink := &recordingSink{}

	source.put("security_config.json", validConfigJSON)
	source.put("security_config.sig", "aabbcc")

	loader := newTestLoader(t, source, keys, sink)
	result := loader.Load(context.Background())

	assert.Equal(t, ProvenanceUnsigned, result.Provenance, "key trouble must not take the config down")

	downgrade, found := sink.find(interfaces.AuditConfigDowngrade)
	require.True(t, found)
	assert.Contains(t, downgrade.Reason, "key unavailable")
}

func TestLoaderEmptySourceYieldsDefault(t *testing.T) {
	source := newFakeAssetSource()
	keys := &fakeKeyStore{}
	sink := &recordingSink{}

	loader := newTestLoader(t, source, keys, sink)
	result := loader.Load(context.Background())

	assert.Equal(t, ProvenanceDefault, result.Provenance)
	assert.Equal(t, policy.DefaultConfig(), result.Config)

	event, found := sink.find(interfaces.AuditConfigLoad)
	require.True(t, found)
	assert.Contains(t, event.Detail, "provenance=default")
}

func TestLoaderUnreachableSourceYieldsDefault(t *testing.T) {
	source := newFakeAssetSource()
	source.fetchErr = interfaces.ErrBackendUnavailable
	keys := &fakeKeyStore{}

	loader := newTestLoader(t, source, keys, &recordingSink{})
	result := loader.Load(context.Background())

	assert.Equal(t, ProvenanceDefault, result.Provenance)
	assert.Equal(t, policy.DefaultConfig(), result.Config)
}

func TestLoaderRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{{`},
		{"unknown action", `{"policy":{"onRoot":"NUKE"}}`},
		{"lowercase action", `{"policy":{"onRoot":"block"}}`},
		{"negative threshold", `{"thresholds":{"rootSignalsToBlock":-1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeAssetSource()
			keys := &fakeKeyStore{}

			// Even a correctly signed document falls through when it
			// doesn't parse.
			source.put("security_config.json", tt.doc)
			source.put("security_config.sig", signFor(t, keys, tt.doc))

			loader := newTestLoader(t, source, keys, &recordingSink{})
			result := loader.Load(context.Background())

			assert.Equal(t, ProvenanceDefault, result.Provenance)
			assert.Equal(t, policy.DefaultConfig(), result.Config)
		})
	}
}

func TestLoaderDeviceBoundStrategy(t *testing.T) {
	source := newFakeAssetSource()
	keys := &fakeKeyStore{}

	// Signature under the generic key must not verify device-bound
	source.put("security_config.json", validConfigJSON)
	source.put("security_config.sig", signFor(t, keys, validConfigJSON))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier, err := NewVerifier(keys, log)
	require.NoError(t, err)

	loader, err := NewLoader(LoaderConfig{
		Source:   source,
		Verifier: verifier,
		Strategy: StrategyDeviceBound,
		Log:      log,
	})
	require.NoError(t, err)

	result := loader.Load(context.Background())
	assert.Equal(t, ProvenanceUnsigned, result.Provenance, "wrong-scope signature must not verify")
	assert.Equal(t, StrategyDeviceBound, result.Strategy)
}

func TestNewLoaderValidation(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier, err := NewVerifier(&fakeKeyStore{}, log)
	require.NoError(t, err)

	_, err = NewLoader(LoaderConfig{Verifier: verifier})
	assert.Error(t, err, "source is required")

	_, err = NewLoader(LoaderConfig{Source: newFakeAssetSource()})
	assert.Error(t, err, "verifier is required")

	_, err = NewLoader(LoaderConfig{
		Source:   newFakeAssetSource(),
		Verifier: verifier,
		BaseName: "bad name",
	})
	assert.Error(t, err, "base name with whitespace is rejected")

	loader, err := NewLoader(LoaderConfig{Source: newFakeAssetSource(), Verifier: verifier})
	require.NoError(t, err)

	configName, sigName := loader.AssetNames()
	assert.Equal(t, "security_config.json", configName.String())
	assert.Equal(t, "security_config.sig", sigName.String())

	_, ok := loader.Current()
	assert.False(t, ok, "no snapshot before the first load")
}
