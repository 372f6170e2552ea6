package jwtvalidation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	status LoaderStatus
	keys   map[string]KeyInfo
}

func (s *stubLoader) Init(context.Context, *SecurityEventCounter) (LoaderStatus, error) {
	return s.status, nil
}
func (s *stubLoader) GetKeyInfo(kid string) (KeyInfo, bool) {
	k, ok := s.keys[kid]
	return k, ok
}
func (s *stubLoader) Status() LoaderStatus { return s.status }
func (s *stubLoader) Close()               {}

func TestIssuerConfigResolver_ResolvesHealthyIssuer(t *testing.T) {
	healthy := NewIssuerConfig("https://issuer-a", &stubLoader{status: LoaderOK})
	counter := NewSecurityEventCounter()
	resolver := NewIssuerConfigResolver([]*IssuerConfig{healthy}, counter, zerolog.Nop())

	cfg, verr := resolver.ResolveConfig(context.Background(), "https://issuer-a")
	require.Nil(t, verr)
	assert.Same(t, healthy, cfg)
}

func TestIssuerConfigResolver_UnknownIssuerMisses(t *testing.T) {
	healthy := NewIssuerConfig("https://issuer-a", &stubLoader{status: LoaderOK})
	counter := NewSecurityEventCounter()
	resolver := NewIssuerConfigResolver([]*IssuerConfig{healthy}, counter, zerolog.Nop())

	_, verr := resolver.ResolveConfig(context.Background(), "https://unknown-issuer")
	require.NotNil(t, verr)
	assert.Equal(t, NoIssuerConfig, verr.EventType)
	assert.Equal(t, uint64(1), counter.Count(NoIssuerConfig))
}

func TestIssuerConfigResolver_UnhealthyIssuerIsDropped(t *testing.T) {
	unhealthy := NewIssuerConfig("https://issuer-b", &stubLoader{status: LoaderError})
	counter := NewSecurityEventCounter()
	resolver := NewIssuerConfigResolver([]*IssuerConfig{unhealthy}, counter, zerolog.Nop())

	_, verr := resolver.ResolveConfig(context.Background(), "https://issuer-b")
	require.NotNil(t, verr)
	assert.Equal(t, NoIssuerConfig, verr.EventType)
	assert.Equal(t, uint64(1), counter.Count(IssuerConfigUnhealthy))
}

func TestIssuerConfigResolver_DisabledIssuerIsSkipped(t *testing.T) {
	disabled := NewIssuerConfig("https://issuer-c", &stubLoader{status: LoaderOK}, WithDisabled())
	counter := NewSecurityEventCounter()
	resolver := NewIssuerConfigResolver([]*IssuerConfig{disabled}, counter, zerolog.Nop())

	_, verr := resolver.ResolveConfig(context.Background(), "https://issuer-c")
	require.NotNil(t, verr)
	assert.Equal(t, uint64(1), counter.Count(IssuerConfigSkipped))
}

func TestIssuerConfigResolver_WarmUpIsOncePerResolver(t *testing.T) {
	callCount := 0
	loader := &countingLoader{onInit: func() { callCount++ }}
	cfg := NewIssuerConfig("https://issuer-a", loader)
	resolver := NewIssuerConfigResolver([]*IssuerConfig{cfg}, NewSecurityEventCounter(), zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, _ = resolver.ResolveConfig(context.Background(), "https://issuer-a")
	}
	assert.Equal(t, 1, callCount, "once every config is warmed up, later lookups should be the lock-free fast path")
}

func TestIssuerConfigResolver_ConcurrentWarmUpCollapsesOntoOneInit(t *testing.T) {
	var callCount int32
	loader := &countingLoader{onInit: func() { atomic.AddInt32(&callCount, 1) }}
	cfg := NewIssuerConfig("https://issuer-a", loader)
	resolver := NewIssuerConfigResolver([]*IssuerConfig{cfg}, NewSecurityEventCounter(), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, verr := resolver.ResolveConfig(context.Background(), "https://issuer-a")
			assert.Nil(t, verr)
			assert.NotNil(t, cfg)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&callCount), "concurrent cold-start callers should collapse onto one warm-up pass")
}

func TestIssuerConfigResolver_AllConfigsIncludesUnresolved(t *testing.T) {
	a := NewIssuerConfig("https://issuer-a", &stubLoader{status: LoaderOK})
	b := NewIssuerConfig("https://issuer-b", &stubLoader{status: LoaderOK})
	resolver := NewIssuerConfigResolver([]*IssuerConfig{a, b}, NewSecurityEventCounter(), zerolog.Nop())

	all := resolver.AllConfigs()
	assert.Len(t, all, 2)
}

type countingLoader struct {
	onInit func()
}

func (c *countingLoader) Init(context.Context, *SecurityEventCounter) (LoaderStatus, error) {
	c.onInit()
	return LoaderOK, nil
}
func (c *countingLoader) GetKeyInfo(string) (KeyInfo, bool) { return KeyInfo{}, false }
func (c *countingLoader) Status() LoaderStatus              { return LoaderOK }
func (c *countingLoader) Close()                            {}
