package jwtvalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// HttpJwksLoaderConfig configures a single issuer's key acquisition.
type HttpJwksLoaderConfig struct {
	JwksURL            string
	WellKnownURL       string
	RefreshInterval    time.Duration
	GracePeriod        time.Duration
	MaxRetiredKeySets  int
	AlgorithmWhitelist map[string]bool
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
}

func (c *HttpJwksLoaderConfig) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 600 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Minute
	}
	if c.MaxRetiredKeySets <= 0 {
		c.MaxRetiredKeySets = 3
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
}

type retiredKeySet struct {
	keys      *jwksKeySet
	retiredAt time.Time
}

// HttpJwksLoader implements JwksLoader against a remote JWKS endpoint
// (direct URL or resolved from an OIDC well-known document), keeping keys
// fresh via a scheduled background refresh and surviving transient
// network/parse failures by preserving the last good key set.
type HttpJwksLoader struct {
	issuer string
	config HttpJwksLoaderConfig

	httpClient HTTPClient
	clock      Clock
	scheduler  Scheduler
	log        zerolog.Logger

	status      atomic.Int32
	currentKeys atomic.Pointer[jwksKeySet]
	retired     atomic.Pointer[[]retiredKeySet]
	etag        atomic.Pointer[string]
	resolvedURL atomic.Pointer[string]
	lastSuccess atomic.Pointer[time.Time]

	counter atomic.Pointer[SecurityEventCounter]

	initGroup singleflight.Group
	retiredMu sync.Mutex
	cancel    func()
	closed    atomic.Bool
}

// NewHttpJwksLoader constructs a loader in the UNDEFINED state. No network
// activity happens until Init is called.
func NewHttpJwksLoader(issuer string, config HttpJwksLoaderConfig, httpClient HTTPClient, clock Clock, scheduler Scheduler, logger zerolog.Logger) *HttpJwksLoader {
	config.applyDefaults()
	l := &HttpJwksLoader{
		issuer:     issuer,
		config:     config,
		httpClient: httpClient,
		clock:      clock,
		scheduler:  scheduler,
		log:        logger,
	}
	l.status.Store(int32(LoaderUndefined))
	empty := []retiredKeySet{}
	l.retired.Store(&empty)
	return l
}

func (l *HttpJwksLoader) Status() LoaderStatus {
	return LoaderStatus(l.status.Load())
}

// Init triggers the first load if one hasn't happened yet. Concurrent
// callers are collapsed onto the same in-flight attempt via singleflight,
// which is observably equivalent to "the first caller triggers load,
// others observe the same future".
func (l *HttpJwksLoader) Init(ctx context.Context, counter *SecurityEventCounter) (LoaderStatus, error) {
	l.counter.Store(counter)
	// Only bypass singleflight once a load has actually finished: a
	// caller that observes LoaderLoading must still wait for the
	// in-flight attempt rather than returning a transient status.
	if status := l.Status(); status == LoaderOK || status == LoaderError {
		return status, nil
	}
	_, err, _ := l.initGroup.Do("init", func() (interface{}, error) {
		if l.Status() != LoaderUndefined {
			return nil, nil
		}
		l.status.Store(int32(LoaderLoading))
		loadErr := l.refresh(ctx)
		l.cancel = l.scheduler.ScheduleAtFixedRate(ctx, func(bgCtx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					l.countEvent(l.counter.Load(), JwksFetchFailed)
					l.log.Error().Interface("panic", r).Str("issuer", l.issuer).Msg("background JWKS refresh panicked")
				}
			}()
			if l.closed.Load() {
				return
			}
			if rErr := l.refresh(bgCtx); rErr != nil {
				l.log.Warn().Err(rErr).Str("issuer", l.issuer).Msg("background JWKS refresh failed")
			}
		}, l.config.RefreshInterval)
		return nil, loadErr
	})
	status := l.Status()
	if err != nil && status == LoaderError {
		return status, err
	}
	return status, nil
}

// GetKeyInfo resolves kid against the current key set, falling back to
// retired keys still within their grace period; on a miss it iterates
// retired entries newest-first and returns the first match. This never blocks: both
// currentKeys and retired are read via a single atomic load.
func (l *HttpJwksLoader) GetKeyInfo(kid string) (KeyInfo, bool) {
	if current := l.currentKeys.Load(); current != nil {
		if k, ok := current.lookup(kid); ok {
			return k, true
		}
	}
	now := l.clock.Now()
	retiredList := l.retired.Load()
	if retiredList == nil {
		return KeyInfo{}, false
	}
	for i := 0; i < len(*retiredList); i++ {
		entry := (*retiredList)[i]
		if entry.retiredAt.Add(l.config.GracePeriod).Before(now) {
			continue
		}
		if k, ok := entry.keys.lookup(kid); ok {
			return k, true
		}
	}
	return KeyInfo{}, false
}

func (l *HttpJwksLoader) Close() {
	l.closed.Store(true)
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *HttpJwksLoader) resolveJwksURL(ctx context.Context) (string, error) {
	if l.config.JwksURL != "" {
		return l.config.JwksURL, nil
	}
	resp, err := l.httpClient.Get(ctx, l.config.WellKnownURL, nil)
	if err != nil || resp.StatusCode != 200 {
		if cached := l.resolvedURL.Load(); cached != nil {
			return *cached, nil
		}
		if err == nil {
			err = fmt.Errorf("well-known endpoint returned status %d", resp.StatusCode)
		}
		return "", err
	}
	var doc struct {
		JwksURI string `json:"jwks_uri"`
	}
	if jerr := json.Unmarshal(resp.Body, &doc); jerr != nil || doc.JwksURI == "" {
		if cached := l.resolvedURL.Load(); cached != nil {
			return *cached, nil
		}
		return "", fmt.Errorf("well-known document missing jwks_uri")
	}
	l.resolvedURL.Store(&doc.JwksURI)
	return doc.JwksURI, nil
}

// refresh executes the load algorithm of §4.4: resolve URL, conditional
// GET, parse, swap-and-retire on rotation, classify every failure into
// exactly one SecurityEventCounter event.
func (l *HttpJwksLoader) refresh(ctx context.Context) error {
	counter := l.counter.Load()

	jwksURL, err := l.resolveJwksURL(ctx)
	if err != nil {
		l.countEvent(counter, WellKnownResolutionFailed)
		return l.handleFetchFailure(err)
	}

	headers := map[string]string{}
	if etag := l.etag.Load(); etag != nil {
		headers["If-None-Match"] = *etag
	}

	resp, err := l.fetchWithBackoff(ctx, jwksURL, headers)
	if err != nil {
		l.countEvent(counter, JwksFetchFailed)
		return l.handleFetchFailure(err)
	}

	now := l.clock.Now()
	switch resp.StatusCode {
	case 304:
		l.lastSuccess.Store(&now)
		l.status.Store(int32(LoaderOK))
		return nil
	case 200:
		return l.applyLoaded(resp, counter, now)
	default:
		l.countEvent(counter, JwksFetchFailed)
		return l.handleFetchFailure(fmt.Errorf("unexpected JWKS status %d", resp.StatusCode))
	}
}

func (l *HttpJwksLoader) fetchWithBackoff(ctx context.Context, url string, headers map[string]string) (*HTTPResponse, error) {
	var resp *HTTPResponse
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = l.config.RefreshInterval
	operation := func() error {
		r, err := l.httpClient.Get(ctx, url, headers)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	if l.currentKeys.Load() != nil {
		// Cached keys already serve readers; a single attempt is enough,
		// the next scheduled tick is the real retry.
		if err := operation(); err != nil {
			return nil, err
		}
		return resp, nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (l *HttpJwksLoader) applyLoaded(resp *HTTPResponse, counter *SecurityEventCounter, now time.Time) error {
	newSet, err := parseJWKS(resp.Body, l.config.AlgorithmWhitelist, now)
	if err != nil {
		l.countEvent(counter, JwksJSONParseFailed)
		l.log.Warn().Str("issuer", l.issuer).Err(err).Msg("JWKS JSON parse failed")
		if l.currentKeys.Load() != nil {
			l.status.Store(int32(LoaderOK))
			return nil
		}
		l.status.Store(int32(LoaderError))
		return err
	}

	old := l.currentKeys.Load()
	if !old.equivalentTo(newSet) {
		l.currentKeys.Store(newSet)
		if old != nil {
			l.retireKeySet(old, now)
			l.countEvent(counter, KeyRotationDetected)
		}
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		l.etag.Store(&etag)
	}
	l.lastSuccess.Store(&now)
	l.status.Store(int32(LoaderOK))
	return nil
}

func (l *HttpJwksLoader) retireKeySet(old *jwksKeySet, now time.Time) {
	l.retiredMu.Lock()
	defer l.retiredMu.Unlock()
	current := *l.retired.Load()
	next := make([]retiredKeySet, 0, len(current)+1)
	next = append(next, retiredKeySet{keys: old, retiredAt: now})
	for _, entry := range current {
		if now.Sub(entry.retiredAt) < l.config.GracePeriod {
			next = append(next, entry)
		}
	}
	if len(next) > l.config.MaxRetiredKeySets {
		next = next[:l.config.MaxRetiredKeySets]
	}
	l.retired.Store(&next)
}

func (l *HttpJwksLoader) handleFetchFailure(cause error) error {
	if l.currentKeys.Load() != nil {
		l.status.Store(int32(LoaderOK))
		l.log.Warn().Str("issuer", l.issuer).Err(cause).Msg("JWKS fetch failed, serving cached keys")
		return nil
	}
	l.status.Store(int32(LoaderError))
	return fmt.Errorf("JWKS fetch failed for issuer %s: %w", l.issuer, cause)
}

func (l *HttpJwksLoader) countEvent(counter *SecurityEventCounter, t EventType) {
	if counter != nil {
		counter.Increment(t)
	}
}
