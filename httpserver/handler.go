package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miaadrajabi/integrity-guard/configloader"
	"github.com/miaadrajabi/integrity-guard/enforce"
	"github.com/miaadrajabi/integrity-guard/interfaces"
	"github.com/miaadrajabi/integrity-guard/metrics"
	"github.com/miaadrajabi/integrity-guard/policy"

	"github.com/miaadrajabi/integrity-guard/audit"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes the guard's API requests. It reads configuration state
// from the loader's atomic snapshot and evaluates submitted observations
// against the active policy.
type Handler struct {
	loader   *configloader.Loader
	keys     interfaces.KeyStore
	executor *enforce.Executor
	audit    interfaces.AuditSink
	log      *slog.Logger
}

// HandlerConfig carries the handler dependencies. Loader is required; Keys
// enables the key section of the status response; Executor enables
// enforcement of API-submitted observations.
type HandlerConfig struct {
	Loader   *configloader.Loader
	Keys     interfaces.KeyStore
	Executor *enforce.Executor
	Audit    interfaces.AuditSink
	Log      *slog.Logger
}

// NewHandler creates an API handler with the given dependencies.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Loader == nil {
		return nil, errors.New("handler requires a config loader")
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Handler{
		loader:   cfg.Loader,
		keys:     cfg.Keys,
		executor: cfg.Executor,
		audit:    cfg.Audit,
		log:      cfg.Log,
	}, nil
}

// HandleStatus reports the active configuration provenance and key tier.
//
// URL format: GET /api/v1/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
	}

	if result, ok := h.loader.Current(); ok {
		response["config"] = map[string]interface{}{
			"provenance": string(result.Provenance),
			"verified":   result.Verified(),
			"source":     result.Source,
			"strategy":   result.Strategy.String(),
			"loaded_at":  result.LoadedAt.Format(time.RFC3339),
		}
	}

	if h.keys != nil {
		response["key"] = map[string]interface{}{
			"active_tier":            h.keys.ActiveTier(r.Context()).String(),
			"highest_tier_available": h.keys.IsHighestTierAvailable(r.Context()),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// HandleConfig returns the active security configuration document. The
// provenance travels in the X-Config-Provenance header so callers can tell
// a served default from fleet configuration.
//
// URL format: GET /api/v1/config
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	result, ok := h.loader.Current()
	if !ok {
		http.Error(w, "No configuration loaded", http.StatusServiceUnavailable)
		return
	}

	data, err := result.Config.Marshal()
	if err != nil {
		h.log.Error("Failed to marshal active config", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Config-Provenance", string(result.Provenance))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleReload forces a load through the signed/unsigned/default chain and
// reports the outcome.
//
// URL format: POST /api/v1/config/reload
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	result := h.loader.Load(r.Context())
	metrics.RecordConfigLoad(string(result.Provenance), result.Source)

	h.log.Info("Configuration reloaded via API",
		slog.String("provenance", string(result.Provenance)),
		slog.String("source", result.Source))

	response := map[string]interface{}{
		"status":     "reloaded",
		"provenance": string(result.Provenance),
		"verified":   result.Verified(),
		"source":     result.Source,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// signalsRequest is an observation set plus the enforcement switch.
type signalsRequest struct {
	policy.Observations
	Enforce bool `json:"enforce"`
}

// HandleSignals evaluates an observation set against the active policy and
// returns the per-signal decisions. With "enforce": true the most severe
// decision is also executed, which may end the guarded process group.
//
// URL format: POST /api/v1/signals
func (h *Handler) HandleSignals(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req signalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.RootSignals < 0 || req.EmulatorSignals < 0 {
		http.Error(w, "Signal counts must not be negative", http.StatusBadRequest)
		return
	}

	result, ok := h.loader.Current()
	if !ok {
		http.Error(w, "No configuration loaded", http.StatusServiceUnavailable)
		return
	}

	engine := policy.NewEngine(result.Config)
	decisions := engine.Evaluate(req.Observations)
	maxDecision := policy.MaxSeverity(decisions)

	for _, decision := range decisions {
		metrics.RecordDecision(signalName(decision.Reason), decision.Action.String())
		if decision.Action != policy.ActionAllow {
			h.recordDecision(r, decision)
		}
	}

	enforced := false
	if req.Enforce {
		if h.executor == nil {
			http.Error(w, "Enforcement not enabled", http.StatusBadRequest)
			return
		}
		h.executor.Execute(r.Context(), maxDecision)
		enforced = true
		h.log.Info("Enforced policy decision",
			slog.String("decision", enforce.Summary(maxDecision)))
	}

	response := map[string]interface{}{
		"decisions": decisions,
		"max":       maxDecision,
		"enforced":  enforced,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) recordDecision(r *http.Request, decision policy.PolicyDecision) {
	event := interfaces.AuditEvent{
		Kind:   interfaces.AuditDecision,
		Signal: signalName(decision.Reason),
		Action: decision.Action.String(),
		Reason: decision.Reason,
	}
	if err := h.audit.Record(r.Context(), event); err != nil {
		h.log.Debug("Failed to record decision event", "err", err)
	}
}

// signalName extracts the signal part of a "<signal>=<value>" reason.
func signalName(reason string) string {
	name, _, _ := strings.Cut(reason, "=")
	return name
}
