package configloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/miaadrajabi/integrity-guard/audit"
	"github.com/miaadrajabi/integrity-guard/interfaces"
	"github.com/miaadrajabi/integrity-guard/metrics"
	"github.com/miaadrajabi/integrity-guard/policy"
)

// Provenance records which step of the load chain produced a configuration.
type Provenance string

const (
	// ProvenanceSigned means the config passed signature verification.
	ProvenanceSigned Provenance = "signed"

	// ProvenanceUnsigned means the config was accepted without a valid
	// signature. Lower trust; always surfaced as a downgrade.
	ProvenanceUnsigned Provenance = "unsigned"

	// ProvenanceDefault means no asset yielded a usable config and the
	// embedded baseline is active.
	ProvenanceDefault Provenance = "default"
)

// DefaultBaseName is the asset base name the loader reads when none is
// configured: security_config.json plus security_config.sig.
const DefaultBaseName = "security_config"

// LoadResult is an immutable snapshot of one trip through the load chain.
type LoadResult struct {
	Config     policy.SecurityConfig
	Provenance Provenance
	Source     string
	Strategy   KeyStrategy
	LoadedAt   time.Time
}

// Verified reports whether the active config passed signature verification.
func (r LoadResult) Verified() bool {
	return r.Provenance == ProvenanceSigned
}

// LoaderConfig carries the loader dependencies.
type LoaderConfig struct {
	// Source is the asset source (or multi-source) configs are read from.
	Source interfaces.AssetSource

	// Verifier checks config signatures.
	Verifier *Verifier

	// Strategy selects the verification key: generic for server-signed
	// fleet configs, device-bound for locally sealed ones.
	Strategy KeyStrategy

	// BaseName overrides DefaultBaseName.
	BaseName string

	// Audit receives load and downgrade events. Defaults to a no-op sink.
	Audit interfaces.AuditSink

	Log *slog.Logger
}

func (cfg *LoaderConfig) validate() error {
	if cfg.Source == nil {
		return fmt.Errorf("config loader requires an asset source")
	}
	if cfg.Verifier == nil {
		return fmt.Errorf("config loader requires a verifier")
	}
	if cfg.BaseName == "" {
		cfg.BaseName = DefaultBaseName
	}
	if strings.ContainsAny(cfg.BaseName, "/\\ \t\n") {
		return fmt.Errorf("invalid asset base name %q", cfg.BaseName)
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return nil
}

// Loader resolves the active configuration through a fixed chain: signed
// asset, then unsigned asset, then the embedded default. Load never fails;
// every taxonomy error is absorbed as fallthrough to the next step.
type Loader struct {
	source     interfaces.AssetSource
	verifier   *Verifier
	strategy   KeyStrategy
	configName interfaces.AssetName
	sigName    interfaces.AssetName
	audit      interfaces.AuditSink
	log        *slog.Logger

	current atomic.Pointer[LoadResult]
}

// NewLoader creates a loader for the given source and verification strategy.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	configName, err := interfaces.NewAssetName(cfg.BaseName + ".json")
	if err != nil {
		return nil, err
	}
	sigName, err := interfaces.NewAssetName(cfg.BaseName + ".sig")
	if err != nil {
		return nil, err
	}

	return &Loader{
		source:     cfg.Source,
		verifier:   cfg.Verifier,
		strategy:   cfg.Strategy,
		configName: configName,
		sigName:    sigName,
		audit:      cfg.Audit,
		log:        cfg.Log,
	}, nil
}

// AssetNames returns the config and signature asset names the loader reads.
func (l *Loader) AssetNames() (config, signature interfaces.AssetName) {
	return l.configName, l.sigName
}

// Load walks the chain and returns the best available configuration. It
// never returns an error: a completely empty or unreachable source yields
// the embedded default.
func (l *Loader) Load(ctx context.Context) LoadResult {
	result := l.load(ctx)
	result.LoadedAt = time.Now().UTC()
	l.current.Store(&result)

	l.recordAudit(ctx, interfaces.AuditEvent{
		Kind:   interfaces.AuditConfigLoad,
		Detail: fmt.Sprintf("provenance=%s source=%s strategy=%s", result.Provenance, result.Source, result.Strategy),
	})

	return result
}

// Current returns the most recent load result, if any.
func (l *Loader) Current() (LoadResult, bool) {
	if r := l.current.Load(); r != nil {
		return *r, true
	}
	return LoadResult{}, false
}

func (l *Loader) load(ctx context.Context) LoadResult {
	sourceName := l.source.Name()

	configBytes, fetchErr := l.source.Fetch(ctx, l.configName)
	if fetchErr != nil {
		l.log.Warn("No usable configuration asset, using embedded default",
			slog.String("asset", l.configName.String()),
			slog.String("source", sourceName),
			"err", fetchErr)
		return LoadResult{
			Config:     policy.DefaultConfig(),
			Provenance: ProvenanceDefault,
			Source:     sourceName,
			Strategy:   l.strategy,
		}
	}

	// Step 1: signed asset.
	signedErr := l.tryVerify(ctx, configBytes)
	if signedErr == nil {
		cfg, parseErr := policy.ParseConfig(configBytes)
		if parseErr == nil {
			l.log.Info("Loaded signed configuration",
				slog.String("asset", l.configName.String()),
				slog.String("source", sourceName),
				slog.String("strategy", l.strategy.String()))
			return LoadResult{
				Config:     cfg,
				Provenance: ProvenanceSigned,
				Source:     sourceName,
				Strategy:   l.strategy,
			}
		}
		signedErr = parseErr
	}

	if errors.Is(signedErr, interfaces.ErrConfigVerification) {
		metrics.RecordVerificationFailure()
	}

	// Step 2: unsigned asset. Same bytes, explicitly lower trust; surfaced
	// as a downgrade, never silent.
	cfg, parseErr := policy.ParseConfig(configBytes)
	if parseErr == nil {
		l.log.Warn("Configuration downgrade: serving unsigned config",
			slog.String("asset", l.configName.String()),
			slog.String("source", sourceName),
			"err", signedErr)
		l.recordAudit(ctx, interfaces.AuditEvent{
			Kind:   interfaces.AuditConfigDowngrade,
			Reason: signedErr.Error(),
			Detail: fmt.Sprintf("source=%s asset=%s", sourceName, l.configName),
		})
		return LoadResult{
			Config:     cfg,
			Provenance: ProvenanceUnsigned,
			Source:     sourceName,
			Strategy:   l.strategy,
		}
	}

	// Step 3: embedded default.
	l.log.Warn("No usable configuration asset, using embedded default",
		slog.String("asset", l.configName.String()),
		slog.String("source", sourceName),
		"signed_err", signedErr,
		"parse_err", parseErr)
	return LoadResult{
		Config:     policy.DefaultConfig(),
		Provenance: ProvenanceDefault,
		Source:     sourceName,
		Strategy:   l.strategy,
	}
}

// tryVerify fetches the detached signature and checks it over the config
// bytes. A nil return means the signed path holds.
func (l *Loader) tryVerify(ctx context.Context, configBytes []byte) error {
	sigBytes, err := l.source.Fetch(ctx, l.sigName)
	if err != nil {
		return fmt.Errorf("signature asset %s: %w", l.sigName, err)
	}

	signature := strings.TrimSpace(string(sigBytes))
	ok, err := l.verifier.Verify(ctx, configBytes, signature, l.strategy)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: signature mismatch for %s", interfaces.ErrConfigVerification, l.configName)
	}
	return nil
}

func (l *Loader) recordAudit(ctx context.Context, event interfaces.AuditEvent) {
	if err := l.audit.Record(ctx, event); err != nil {
		l.log.Debug("Failed to record audit event", "err", err)
	}
}
