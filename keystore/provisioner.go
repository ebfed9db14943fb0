package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// Key aliases for the two config-signing scopes.
const (
	AliasGenericKey     interfaces.KeyAlias = "config-hmac-generic"
	AliasDeviceBoundKey interfaces.KeyAlias = "config-hmac-device"
)

func aliasForScope(scope interfaces.KeyScope) interfaces.KeyAlias {
	if scope == interfaces.ScopeDeviceBound {
		return AliasDeviceBoundKey
	}
	return AliasGenericKey
}

// Provisioner selects the strongest usable tier and serves keys from it,
// degrading gracefully when hardware tiers are absent. It implements
// interfaces.KeyStore.
type Provisioner struct {
	log    *slog.Logger
	stores []TierStore

	mu         sync.Mutex
	aliasLocks map[interfaces.KeyAlias]*sync.Mutex
	keys       map[interfaces.KeyAlias]interfaces.DeviceKey
	active     TierStore
}

var _ interfaces.KeyStore = (*Provisioner)(nil)

// NewProvisioner builds a provisioner over the given tier stores. Stores are
// consulted strongest tier first regardless of argument order.
func NewProvisioner(log *slog.Logger, stores ...TierStore) (*Provisioner, error) {
	if len(stores) == 0 {
		return nil, errors.New("keystore: no tier stores configured")
	}
	if log == nil {
		log = slog.Default()
	}

	ordered := make([]TierStore, len(stores))
	copy(ordered, stores)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier() > ordered[j].Tier()
	})

	return &Provisioner{
		log:        log,
		stores:     ordered,
		aliasLocks: make(map[interfaces.KeyAlias]*sync.Mutex),
		keys:       make(map[interfaces.KeyAlias]interfaces.DeviceKey),
	}, nil
}

// GetOrCreateKey returns the key for the scope, provisioning it at the
// strongest available tier on first use. Concurrent first-time calls for one
// alias are serialized so exactly one key is created.
func (p *Provisioner) GetOrCreateKey(ctx context.Context, scope interfaces.KeyScope) (interfaces.DeviceKey, error) {
	alias := aliasForScope(scope)

	if key, ok := p.cachedKey(alias); ok {
		return key, nil
	}

	lock := p.lockFor(alias)
	lock.Lock()
	defer lock.Unlock()

	if key, ok := p.cachedKey(alias); ok {
		return key, nil
	}

	store, err := p.activeStore(ctx)
	if err != nil {
		return nil, err
	}

	key, err := store.GetOrCreate(ctx, alias, scope)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.keys[alias] = key
	p.mu.Unlock()

	p.log.Debug("device key ready", "alias", alias.String(), "scope", scope.String(), "tier", key.Tier().String())
	return key, nil
}

// ImportKey installs externally supplied material for the scope at the
// active tier, replacing any cached key.
func (p *Provisioner) ImportKey(ctx context.Context, scope interfaces.KeyScope, material interfaces.HMACKey) (interfaces.DeviceKey, error) {
	if err := material.Validate(); err != nil {
		return nil, err
	}

	alias := aliasForScope(scope)
	lock := p.lockFor(alias)
	lock.Lock()
	defer lock.Unlock()

	store, err := p.activeStore(ctx)
	if err != nil {
		return nil, err
	}

	key, err := store.Import(ctx, alias, scope, material)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.keys[alias] = key
	p.mu.Unlock()

	p.log.Info("imported device key", "alias", alias.String(), "scope", scope.String(), "tier", key.Tier().String())
	return key, nil
}

// ClearAllKeys destroys key material in every configured tier, not just the
// active one. The key cache and tier selection reset so the next call
// re-probes and re-provisions.
func (p *Provisioner) ClearAllKeys(ctx context.Context) error {
	aliases := []interfaces.KeyAlias{AliasGenericKey, AliasDeviceBoundKey}

	// Hold every alias lock so no provisioning races the wipe.
	for _, alias := range aliases {
		lock := p.lockFor(alias)
		lock.Lock()
		defer lock.Unlock()
	}

	var errs []error
	for _, store := range p.stores {
		if err := store.IsSupported(ctx); err != nil {
			p.log.Debug("skipping unavailable tier during clear", "tier", store.Tier().String(), "err", err)
			continue
		}
		if err := store.Clear(ctx, aliases); err != nil {
			errs = append(errs, fmt.Errorf("%s tier: %w", store.Tier().String(), err))
		}
	}

	p.mu.Lock()
	p.keys = make(map[interfaces.KeyAlias]interfaces.DeviceKey)
	p.active = nil
	p.mu.Unlock()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.log.Warn("all device keys cleared")
	return nil
}

// IsHighestTierAvailable reports whether the secure element tier is usable
// right now. The probe is live, not cached, so callers see hardware that
// came or went since startup.
func (p *Provisioner) IsHighestTierAvailable(ctx context.Context) bool {
	for _, store := range p.stores {
		if store.Tier() == interfaces.TierSecureElement {
			return store.IsSupported(ctx) == nil
		}
	}
	return false
}

// ActiveTier reports the tier new keys would be provisioned at.
func (p *Provisioner) ActiveTier(ctx context.Context) interfaces.KeyTier {
	store, err := p.activeStore(ctx)
	if err != nil {
		return interfaces.TierSoftware
	}
	return store.Tier()
}

func (p *Provisioner) cachedKey(alias interfaces.KeyAlias) (interfaces.DeviceKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.keys[alias]
	return key, ok
}

func (p *Provisioner) lockFor(alias interfaces.KeyAlias) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.aliasLocks[alias]
	if !ok {
		l = &sync.Mutex{}
		p.aliasLocks[alias] = l
	}
	return l
}

// activeStore probes tiers strongest first and caches the first usable one.
func (p *Provisioner) activeStore(ctx context.Context) (TierStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return p.active, nil
	}

	for _, store := range p.stores {
		if err := store.IsSupported(ctx); err != nil {
			p.log.Warn("key tier unavailable, degrading", "tier", store.Tier().String(), "err", err)
			continue
		}
		p.log.Info("key tier selected", "tier", store.Tier().String())
		p.active = store
		return store, nil
	}
	return nil, fmt.Errorf("%w: no usable key tier", interfaces.ErrKeyUnavailable)
}
