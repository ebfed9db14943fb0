package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miaadrajabi/integrity-guard/configloader"
	"github.com/miaadrajabi/integrity-guard/enforce"
	"github.com/miaadrajabi/integrity-guard/interfaces"
	"github.com/miaadrajabi/integrity-guard/keystore"
	"github.com/miaadrajabi/integrity-guard/policy"
	"github.com/miaadrajabi/integrity-guard/storage"
)

const guardConfigJSON = `{
  "policy": {
    "onRoot": "BLOCK",
    "onEmulator": "WARN",
    "onDebugger": "TERMINATE",
    "onMitm": "DEGRADE"
  },
  "thresholds": {
    "rootSignalsToBlock": 2,
    "emulatorSignalsToBlock": 2
  }
}`

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

func (r *recordingSink) countKind(kind interfaces.AuditKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// hookRecorder captures enforcement hook invocations.
type hookRecorder struct {
	mu           sync.Mutex
	screens      []string
	terminations []string
}

func (r *hookRecorder) ShowBlockingScreen(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens = append(r.screens, reason)
	return nil
}

func (r *hookRecorder) Terminate(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminations = append(r.terminations, reason)
	return nil
}

// testGuard wires a handler over real storage, keystore and loader
// components backed by a temp directory.
type testGuard struct {
	handler *Handler
	loader  *configloader.Loader
	source  *storage.FileSource
	keys    interfaces.KeyStore
	sink    *recordingSink
	hooks   *hookRecorder
}

func newTestGuard(t *testing.T) *testGuard {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	identity, err := interfaces.NewKeyIdentity("device-01", "guardd")
	require.NoError(t, err)
	software, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{
		Dir:      filepath.Join(dir, "keys"),
		Identity: identity,
		Log:      log,
	})
	require.NoError(t, err)
	keys, err := keystore.NewProvisioner(log, software)
	require.NoError(t, err)

	source, err := storage.NewFileSource(filepath.Join(dir, "assets"), log)
	require.NoError(t, err)

	verifier, err := configloader.NewVerifier(keys, log)
	require.NoError(t, err)

	sink := &recordingSink{}
	loader, err := configloader.NewLoader(configloader.LoaderConfig{
		Source:   source,
		Verifier: verifier,
		Strategy: configloader.StrategyGeneric,
		Audit:    sink,
		Log:      log,
	})
	require.NoError(t, err)

	hooks := &hookRecorder{}
	executor := enforce.NewExecutor(enforce.ExecutorConfig{
		Screen:     hooks,
		Terminator: hooks,
		Audit:      sink,
		Log:        log,
	})

	handler, err := NewHandler(HandlerConfig{
		Loader:   loader,
		Keys:     keys,
		Executor: executor,
		Audit:    sink,
		Log:      log,
	})
	require.NoError(t, err)

	return &testGuard{
		handler: handler,
		loader:  loader,
		source:  source,
		keys:    keys,
		sink:    sink,
		hooks:   hooks,
	}
}

// publishSigned stores the config document with a matching signature.
func (g *testGuard) publishSigned(t *testing.T, configJSON string) {
	t.Helper()

	ctx := context.Background()
	key, err := g.keys.GetOrCreateKey(ctx, interfaces.ScopeGeneric)
	require.NoError(t, err)
	sig, err := key.HMACSHA256([]byte(configJSON))
	require.NoError(t, err)

	configName, sigName := g.loader.AssetNames()
	require.NoError(t, g.source.Store(ctx, configName, []byte(configJSON)))
	require.NoError(t, g.source.Store(ctx, sigName, []byte(sig.String())))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandleStatus(t *testing.T) {
	g := newTestGuard(t)
	g.publishSigned(t, guardConfigJSON)
	g.loader.Load(context.Background())

	w := httptest.NewRecorder()
	g.handler.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])

	cfg, ok := body["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "signed", cfg["provenance"])
	assert.Equal(t, true, cfg["verified"])
	assert.Equal(t, "generic", cfg["strategy"])
	assert.NotEmpty(t, cfg["loaded_at"])

	key, ok := body["key"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "software", key["active_tier"])
	assert.Equal(t, false, key["highest_tier_available"])
}

func TestHandleStatusBeforeLoad(t *testing.T) {
	g := newTestGuard(t)

	w := httptest.NewRecorder()
	g.handler.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "config")
}

func TestHandleConfig(t *testing.T) {
	g := newTestGuard(t)
	g.publishSigned(t, guardConfigJSON)
	g.loader.Load(context.Background())

	w := httptest.NewRecorder()
	g.handler.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "signed", w.Header().Get("X-Config-Provenance"))

	cfg, err := policy.ParseConfig(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, policy.ActionBlock, cfg.Policy.OnRoot)
	assert.Equal(t, policy.ActionTerminate, cfg.Policy.OnDebugger)
	assert.Equal(t, 2, cfg.Thresholds.RootSignalsToBlock)
}

func TestHandleConfigNoneLoaded(t *testing.T) {
	g := newTestGuard(t)

	w := httptest.NewRecorder()
	g.handler.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleReload(t *testing.T) {
	g := newTestGuard(t)
	g.publishSigned(t, guardConfigJSON)
	g.loader.Load(context.Background())

	// Tamper with the config after signing; the reload must downgrade.
	tampered := strings.Replace(guardConfigJSON, `"BLOCK"`, `"WARN"`, 1)
	configName, _ := g.loader.AssetNames()
	require.NoError(t, g.source.Store(context.Background(), configName, []byte(tampered)))

	w := httptest.NewRecorder()
	g.handler.HandleReload(w, httptest.NewRequest(http.MethodPost, "/api/v1/config/reload", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "reloaded", body["status"])
	assert.Equal(t, "unsigned", body["provenance"])
	assert.Equal(t, false, body["verified"])

	result, ok := g.loader.Current()
	require.True(t, ok)
	assert.Equal(t, configloader.ProvenanceUnsigned, result.Provenance)
	assert.Equal(t, policy.ActionWarn, result.Config.Policy.OnRoot)
}

func TestHandleSignals(t *testing.T) {
	g := newTestGuard(t)
	g.publishSigned(t, guardConfigJSON)
	g.loader.Load(context.Background())

	payload := `{"rootSignals": 3, "debugger": true}`
	w := httptest.NewRecorder()
	g.handler.HandleSignals(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)

	decisions, ok := body["decisions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, decisions, 6)

	max, ok := body["max"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "TERMINATE", max["action"])
	assert.Equal(t, "debugger=true", max["reason"])
	assert.Equal(t, false, body["enforced"])

	// BLOCK on root plus TERMINATE on debugger; ALLOW decisions stay out
	// of the audit log.
	assert.Equal(t, 2, g.sink.countKind(interfaces.AuditDecision))
	assert.Empty(t, g.hooks.screens)
	assert.Empty(t, g.hooks.terminations)
}

func TestHandleSignalsEnforce(t *testing.T) {
	g := newTestGuard(t)
	g.publishSigned(t, guardConfigJSON)
	g.loader.Load(context.Background())

	payload := `{"debugger": true, "enforce": true}`
	w := httptest.NewRecorder()
	g.handler.HandleSignals(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["enforced"])

	assert.Equal(t, []string{"debugger=true"}, g.hooks.screens)
	assert.Equal(t, []string{"debugger=true"}, g.hooks.terminations)
	assert.Equal(t, 1, g.sink.countKind(interfaces.AuditEnforcement))
}

func TestHandleSignalsEnforceDisabled(t *testing.T) {
	g := newTestGuard(t)
	g.publishSigned(t, guardConfigJSON)
	g.loader.Load(context.Background())

	handler, err := NewHandler(HandlerConfig{
		Loader: g.loader,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	payload := `{"debugger": true, "enforce": true}`
	w := httptest.NewRecorder()
	handler.HandleSignals(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(payload)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSignalsValidation(t *testing.T) {
	g := newTestGuard(t)
	g.publishSigned(t, guardConfigJSON)
	g.loader.Load(context.Background())

	w := httptest.NewRecorder()
	g.handler.HandleSignals(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	g.handler.HandleSignals(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(`{"rootSignals": -1}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSignalsNoConfig(t *testing.T) {
	g := newTestGuard(t)

	w := httptest.NewRecorder()
	g.handler.HandleSignals(w, httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(`{"debugger": true}`)))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewHandlerValidation(t *testing.T) {
	_, err := NewHandler(HandlerConfig{})
	require.Error(t, err)
}
