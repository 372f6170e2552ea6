package jwtvalidation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// IssuerConfigResolver resolves an issuer identifier to its IssuerConfig,
// lazily health-checking every configured issuer's JwksLoader on first
// use and then publishing a read-only snapshot so every later lookup is
// lock-free. Concurrent cold-start callers collapse onto a single warm-up
// pass via singleflight, the same mechanism HttpJwksLoader uses to
// collapse concurrent Init calls.
type IssuerConfigResolver struct {
	mu             sync.Mutex
	mutableCache   map[string]*IssuerConfig
	pending        []*IssuerConfig
	all            []*IssuerConfig
	immutableCache atomic.Pointer[map[string]*IssuerConfig]

	warmUp  singleflight.Group
	counter *SecurityEventCounter
	log     zerolog.Logger
}

// NewIssuerConfigResolver seeds the resolver with every configured
// issuer. No health checks happen until the first ResolveConfig call.
func NewIssuerConfigResolver(configs []*IssuerConfig, counter *SecurityEventCounter, log zerolog.Logger) *IssuerConfigResolver {
	pending := make([]*IssuerConfig, len(configs))
	copy(pending, configs)
	return &IssuerConfigResolver{
		mutableCache: make(map[string]*IssuerConfig),
		pending:      pending,
		all:          append([]*IssuerConfig(nil), configs...),
		counter:      counter,
		log:          log,
	}
}

// ResolveConfig returns the IssuerConfig trusted for issuer, or a
// NoIssuerConfig ValidationError. Once every configured issuer has been
// health-checked, this is a single lock-free map read.
func (r *IssuerConfigResolver) ResolveConfig(ctx context.Context, issuer string) (*IssuerConfig, *ValidationError) {
	if snapshot := r.immutableCache.Load(); snapshot != nil {
		return lookupOrMiss(*snapshot, issuer, r.counter)
	}

	_, _, _ = r.warmUp.Do("warmup", func() (interface{}, error) {
		r.runWarmUp(ctx)
		return nil, nil
	})

	if snapshot := r.immutableCache.Load(); snapshot != nil {
		return lookupOrMiss(*snapshot, issuer, r.counter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lookupOrMiss(r.mutableCache, issuer, r.counter)
}

// runWarmUp health-checks every pending issuer once and publishes the
// lock-free snapshot. Safe to call more than once (e.g. a second
// singleflight call racing the first's snapshot publish): with pending
// already drained, it just republishes the same snapshot.
func (r *IssuerConfigResolver) runWarmUp(ctx context.Context) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, cfg := range pending {
		if !cfg.Enabled {
			r.counter.Increment(IssuerConfigSkipped)
			r.log.Info().Str("issuer", cfg.IssuerIdentifier).Msg("issuer config disabled, skipping")
			continue
		}
		status, _ := cfg.JwksLoader.Init(ctx, r.counter)
		if status == LoaderError {
			r.counter.Increment(IssuerConfigUnhealthy)
			r.log.Warn().Str("issuer", cfg.IssuerIdentifier).Msg("issuer config unhealthy, dropping")
			continue
		}
		r.mu.Lock()
		r.mutableCache[cfg.IssuerIdentifier] = cfg
		r.mu.Unlock()
	}

	r.mu.Lock()
	snapshot := make(map[string]*IssuerConfig, len(r.mutableCache))
	for k, v := range r.mutableCache {
		snapshot[k] = v
	}
	r.mu.Unlock()
	r.immutableCache.Store(&snapshot)
}

// AllConfigs returns every issuer config known to the resolver,
// regardless of warm-up state, for shutdown bookkeeping (Close needs to
// reach every JwksLoader even if some issuers were never resolved).
func (r *IssuerConfigResolver) AllConfigs() []*IssuerConfig {
	out := make([]*IssuerConfig, len(r.all))
	copy(out, r.all)
	return out
}

func lookupOrMiss(m map[string]*IssuerConfig, issuer string, counter *SecurityEventCounter) (*IssuerConfig, *ValidationError) {
	if cfg, ok := m[issuer]; ok {
		return cfg, nil
	}
	counter.Increment(NoIssuerConfig)
	return nil, newValidationErrorClaim(NoIssuerConfig, "no issuer configuration matches token issuer", "iss")
}
