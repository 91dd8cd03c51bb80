package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// Selection policies.
const (
	PolicyDurable   = "durable"
	PolicyEphemeral = "ephemeral"
	PolicyAuto      = "auto"
)

// SelectorConfig picks the active backend.
type SelectorConfig struct {
	Policy string
	// DualWrite mirrors uploads to the non-active backend when it is implemented.
	DualWrite bool
	// EphemeralEnabled gates the auto policy.
	EphemeralEnabled bool
	ProbeTimeout     time.Duration
}

// Selector chooses which ContentStore handles new uploads and resolves
// stores by provider name for reads of existing pointers.
type Selector struct {
	durable   ContentStore
	ephemeral ContentStore
	cfg       SelectorConfig
	log       *zap.Logger
}

// NewSelector validates the policy. A nil store is replaced by an UnimplementedStore.
func NewSelector(durable, ephemeral ContentStore, cfg SelectorConfig, log *zap.Logger) (*Selector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if durable == nil {
		durable = NewUnimplementedStore(ProviderDurable)
	}
	if ephemeral == nil {
		ephemeral = NewUnimplementedStore(ProviderEphemeral)
	}

	cfg.Policy = strings.ToLower(strings.TrimSpace(cfg.Policy))
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyDurable
	case PolicyDurable, PolicyEphemeral, PolicyAuto:
	default:
		return nil, fmt.Errorf("storage: unknown provider policy %q", cfg.Policy)
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}

	return &Selector{durable: durable, ephemeral: ephemeral, cfg: cfg, log: log}, nil
}

// Durable returns the durable store.
func (s *Selector) Durable() ContentStore { return s.durable }

// Ephemeral returns the ephemeral store.
func (s *Selector) Ephemeral() ContentStore { return s.ephemeral }

// Store resolves a provider name to its store.
func (s *Selector) Store(provider string) (ContentStore, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderDurable:
		return s.durable, nil
	case ProviderEphemeral:
		return s.ephemeral, nil
	}
	return nil, apperrors.ErrBadRequest.WithMessage("unknown storage provider %q", provider)
}

// ActiveProvider applies the policy. Auto prefers ephemeral only when it is
// enabled, implemented and its API answers a liveness probe.
func (s *Selector) ActiveProvider(ctx context.Context) string {
	switch s.cfg.Policy {
	case PolicyEphemeral:
		return ProviderEphemeral
	case PolicyAuto:
		if s.ephemeralLive(ctx) {
			return ProviderEphemeral
		}
		return ProviderDurable
	}
	return ProviderDurable
}

// Active returns the store for new uploads, wrapped for dual-write when configured.
func (s *Selector) Active(ctx context.Context) ContentStore {
	primary, backup := s.durable, s.ephemeral
	if s.ActiveProvider(ctx) == ProviderEphemeral {
		primary, backup = s.ephemeral, s.durable
	}
	if s.cfg.DualWrite && IsImplemented(backup) {
		return NewDualWriteStore(primary, backup, s.log)
	}
	return primary
}

func (s *Selector) ephemeralLive(ctx context.Context) bool {
	if !s.cfg.EphemeralEnabled || !IsImplemented(s.ephemeral) {
		return false
	}
	prober, ok := AsLivenessProber(s.ephemeral)
	if !ok {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	live := prober.Live(probeCtx)
	if !live {
		s.log.Warn("ephemeral backend not reachable, selecting durable")
	}
	return live
}

// AsExpiring unwraps decorators until it finds an ExpiringStore.
func AsExpiring(store ContentStore) (ExpiringStore, bool) {
	for store != nil {
		if expiring, ok := store.(ExpiringStore); ok {
			return expiring, true
		}
		u, ok := store.(unwrapper)
		if !ok {
			return nil, false
		}
		store = u.Unwrap()
	}
	return nil, false
}

// AsLivenessProber unwraps decorators until it finds a LivenessProber.
func AsLivenessProber(store ContentStore) (LivenessProber, bool) {
	for store != nil {
		if prober, ok := store.(LivenessProber); ok {
			return prober, true
		}
		u, ok := store.(unwrapper)
		if !ok {
			return nil, false
		}
		store = u.Unwrap()
	}
	return nil, false
}
