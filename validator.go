package jwtvalidation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuioss/jwt-validation/internal/log"
)

// MeasurementConfig selects which of the fifteen measurement types are
// sampled and how deep each stripe's window is.
type MeasurementConfig struct {
	WindowSize   int
	EnabledTypes map[MeasurementType]bool
}

// ValidatorConfig is the full construction-time configuration for a
// TokenValidator. It is consumed once by NewTokenValidator; there is no
// runtime reconfiguration (§4.5 invariants: "no dynamic config reload is
// supported in the core").
type ValidatorConfig struct {
	Issuers     []*IssuerConfig
	Parser      ParserConfig
	Cache       AccessTokenCacheConfig
	Measurement MeasurementConfig

	// EvictionInterval is the access-token cache's background sweep
	// cadence (§4.6, default 10s).
	EvictionInterval time.Duration

	Clock     Clock
	Scheduler Scheduler
	Logger    zerolog.Logger
}

func (c *ValidatorConfig) applyDefaults() {
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = NewSystemClock()
	}
}

// TokenValidator is the public facade: it owns the pipeline, the issuer
// resolver, the access-token cache, the security-event counter and the
// measurement monitor, and is safe for concurrent use by arbitrary
// goroutines after construction.
type TokenValidator struct {
	pipeline    *pipeline
	counter     *SecurityEventCounter
	monitor     *MeasurementMonitor
	cache       *AccessTokenCache
	scheduler   Scheduler
	cancelSweep func()
	ownsSched   bool
	log         zerolog.Logger
}

// NewTokenValidator validates config and constructs a TokenValidator. An
// invalid configuration (no issuers, a duplicate issuer identifier) fails
// loudly here rather than surfacing later per §7's construction-failure
// policy.
func NewTokenValidator(config ValidatorConfig) (*TokenValidator, error) {
	if len(config.Issuers) == 0 {
		return nil, fmt.Errorf("jwtvalidation: at least one issuer config is required")
	}
	seen := make(map[string]bool, len(config.Issuers))
	for _, cfg := range config.Issuers {
		if cfg.IssuerIdentifier == "" {
			return nil, fmt.Errorf("jwtvalidation: issuer config has empty issuerIdentifier")
		}
		if cfg.JwksLoader == nil {
			return nil, fmt.Errorf("jwtvalidation: issuer %q has no JwksLoader", cfg.IssuerIdentifier)
		}
		if seen[cfg.IssuerIdentifier] {
			return nil, fmt.Errorf("jwtvalidation: duplicate issuer identifier %q", cfg.IssuerIdentifier)
		}
		seen[cfg.IssuerIdentifier] = true
	}

	config.applyDefaults()

	baseLogger := config.Logger
	scopedLog := log.Component(baseLogger, "validator")

	ownsSched := config.Scheduler == nil
	scheduler := config.Scheduler
	if ownsSched {
		scheduler = NewCronScheduler()
	}

	counter := NewSecurityEventCounter()
	monitor := NewMeasurementMonitor(config.Measurement.WindowSize, config.Measurement.EnabledTypes)
	resolver := NewIssuerConfigResolver(config.Issuers, counter, log.Component(baseLogger, "issuer-resolver"))
	cache := NewAccessTokenCache(config.Cache, config.Clock)

	p := newPipeline(config.Parser, counter, monitor, resolver, cache, config.Clock, log.Component(baseLogger, "pipeline"))

	v := &TokenValidator{
		pipeline:  p,
		counter:   counter,
		monitor:   monitor,
		cache:     cache,
		scheduler: scheduler,
		ownsSched: ownsSched,
		log:       scopedLog,
	}

	v.cancelSweep = scheduler.ScheduleAtFixedRate(context.Background(), func(context.Context) {
		cache.EvictExpired()
	}, config.EvictionInterval)

	return v, nil
}

func (v *TokenValidator) scopedCtx() (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(context.Background(), correlationIDKey{}, id), id
}

type correlationIDKey struct{}

// Validate decodes and verifies raw as an access token.
func (v *TokenValidator) Validate(raw string) (AccessTokenContent, *ValidationError) {
	ctx, cid := v.scopedCtx()
	content, verr := v.pipeline.run(ctx, raw, TokenTypeAccess)
	if verr != nil {
		v.log.Debug().Str("correlation_id", cid).Str("event_type", verr.EventType.String()).Msg("access token validation failed")
		return AccessTokenContent{}, verr
	}
	return AccessTokenContent{content}, nil
}

// ValidateIdToken decodes and verifies raw as an ID token.
func (v *TokenValidator) ValidateIdToken(raw string) (IdTokenContent, *ValidationError) {
	ctx, cid := v.scopedCtx()
	content, verr := v.pipeline.run(ctx, raw, TokenTypeID)
	if verr != nil {
		v.log.Debug().Str("correlation_id", cid).Str("event_type", verr.EventType.String()).Msg("ID token validation failed")
		return IdTokenContent{}, verr
	}
	return IdTokenContent{content}, nil
}

// ValidateRefreshToken decodes and verifies raw as a refresh token.
func (v *TokenValidator) ValidateRefreshToken(raw string) (RefreshTokenContent, *ValidationError) {
	ctx, cid := v.scopedCtx()
	content, verr := v.pipeline.run(ctx, raw, TokenTypeRefresh)
	if verr != nil {
		v.log.Debug().Str("correlation_id", cid).Str("event_type", verr.EventType.String()).Msg("refresh token validation failed")
		return RefreshTokenContent{}, verr
	}
	return RefreshTokenContent{content}, nil
}

// PerformanceMonitor exposes the shared MeasurementMonitor.
func (v *TokenValidator) PerformanceMonitor() *MeasurementMonitor { return v.monitor }

// SecurityEventCounter exposes the shared SecurityEventCounter.
func (v *TokenValidator) SecurityEventCounter() *SecurityEventCounter { return v.counter }

// Close shuts down every issuer's JwksLoader, cancels the cache eviction
// sweep, and stops the scheduler if the validator created it itself.
func (v *TokenValidator) Close() {
	if v.cancelSweep != nil {
		v.cancelSweep()
	}
	for _, cfg := range v.pipeline.resolver.AllConfigs() {
		cfg.JwksLoader.Close()
	}
	if v.ownsSched {
		if cs, ok := v.scheduler.(*cronScheduler); ok {
			cs.Stop()
		}
	}
}
