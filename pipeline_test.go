package jwtvalidation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuioss/jwt-validation/internal/testutil"
)

type staticKeyLoader struct {
	keys map[string]KeyInfo
}

func (l *staticKeyLoader) Init(context.Context, *SecurityEventCounter) (LoaderStatus, error) {
	return LoaderOK, nil
}
func (l *staticKeyLoader) GetKeyInfo(kid string) (KeyInfo, bool) {
	k, ok := l.keys[kid]
	return k, ok
}
func (l *staticKeyLoader) Status() LoaderStatus { return LoaderOK }
func (l *staticKeyLoader) Close()               {}

func newTestPipeline(t *testing.T, iss *testutil.RSAIssuer, issuerURL string, clock Clock, opts ...IssuerConfigOption) (*pipeline, *SecurityEventCounter) {
	t.Helper()
	loader := &staticKeyLoader{keys: map[string]KeyInfo{
		iss.KeyID: {Algorithm: "RS256", PublicKey: &iss.PrivateKey.PublicKey, KeyID: iss.KeyID},
	}}
	cfg := NewIssuerConfig(issuerURL, loader, opts...)
	counter := NewSecurityEventCounter()
	monitor := NewMeasurementMonitor(10, nil)
	resolver := NewIssuerConfigResolver([]*IssuerConfig{cfg}, counter, zerolog.Nop())
	cache := NewAccessTokenCache(AccessTokenCacheConfig{MaxSize: 10}, clock)
	return newPipeline(ParserConfig{}, counter, monitor, resolver, cache, clock, zerolog.Nop()), counter
}

func TestPipeline_HappyPath(t *testing.T) {
	iss, err := testutil.NewRSAIssuer("key-1")
	require.NoError(t, err)

	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, counter := newTestPipeline(t, iss, "https://issuer.example", clock)

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
		"jti": "abc-123",
	})
	require.NoError(t, err)

	content, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.Nil(t, verr)
	assert.Equal(t, "user-1", content.Claims()["sub"].AsString())
	assert.Equal(t, uint64(1), counter.Count(AccessTokenCreated))
}

func TestPipeline_EmptyToken(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)

	_, verr := p.run(context.Background(), "", TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, TokenEmpty, verr.EventType)
}

func TestPipeline_MalformedFormat(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)

	_, verr := p.run(context.Background(), "not-a-jwt", TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, InvalidJWTFormat, verr.EventType)
}

func TestPipeline_TokenSizeExceeded(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)
	p.parser.MaxTokenSize = 10

	huge := strings.Repeat("a", 20) + ".b.c"
	_, verr := p.run(context.Background(), huge, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, TokenSizeExceeded, verr.EventType)
}

func TestPipeline_ExpiredToken(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)
	p.parser.ClockSkew = 0

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(-time.Minute).Unix()),
		"iat": float64(clock.Now().Add(-time.Hour).Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, TokenExpired, verr.EventType)
}

func TestPipeline_NotYetValidToken(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)
	p.parser.ClockSkew = 0

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
		"nbf": float64(clock.Now().Add(time.Minute).Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, TokenNbfFuture, verr.EventType)
}

func TestPipeline_UnknownKidFails(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	other, _ := testutil.NewRSAIssuer("key-2")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)

	token, err := other.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, KeyNotFound, verr.EventType)
}

func TestPipeline_TamperedSignatureFails(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), testutil.TamperSignature(token), TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, SignatureValidationFailed, verr.EventType)
}

func TestPipeline_AudienceMismatch(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock, WithAudience("expected-client"))

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"aud": "other-client",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, AudienceMismatch, verr.EventType)
}

func TestPipeline_AzpMismatch(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock, WithExpectedClientID("expected-client"))

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"azp": "other-client",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, AzpMismatch, verr.EventType)
}

func TestPipeline_ForeignIssuerFailsWithNoIssuerConfig(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://different-issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, NoIssuerConfig, verr.EventType, "a token whose iss has no matching config fails at resolution, before the iss-equality check ever runs")
}

func TestPipeline_UnsupportedAlgorithm(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)

	header := map[string]interface{}{"alg": "none", "typ": "JWT", "kid": "key-1"}
	payload := map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	}
	_ = header
	_ = payload

	// build manually since SignRS256 always forces alg=RS256
	token, err := iss.SignRS256(nil, payload)
	require.NoError(t, err)
	parts := strings.SplitN(token, ".", 3)
	noneHeader := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0" // {"alg":"none","typ":"JWT"}
	tampered := noneHeader + "." + parts[1] + "." + parts[2]

	_, verr := p.run(context.Background(), tampered, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, UnsupportedAlgorithm, verr.EventType)
}

func TestPipeline_MissingRecommendedJtiWarnsButSucceeds(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, counter := newTestPipeline(t, iss, "https://issuer.example", clock)

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.Nil(t, verr)
	assert.Equal(t, uint64(1), counter.Count(MissingRecommendedElement))
}

func TestPipeline_AccessTokenCacheHitSkipsRevalidation(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, counter := newTestPipeline(t, iss, "https://issuer.example", clock)

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
		"jti": "abc-123",
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.Nil(t, verr)

	_, verr = p.run(context.Background(), token, TokenTypeAccess)
	require.Nil(t, verr)
	assert.Equal(t, uint64(1), counter.Count(AccessTokenCacheHit))
}

func TestPipeline_DuplicateJSONKeyRejected(t *testing.T) {
	_, err := decodeJSONObjectNoDup([]byte(`{"sub":"a","sub":"b"}`))
	assert.Error(t, err)
}

func TestPipeline_ClaimsFixtures(t *testing.T) {
	iss, err := testutil.NewRSAIssuer("key-1")
	require.NoError(t, err)
	clock := NewFixedClock(time.Unix(1700000000, 0))

	fixtureYAML := []byte(`
cases:
  - name: valid token with scope and audience
    claims:
      iss: https://issuer.example
      sub: user-1
      aud: expected-client
      scope: "read write"
      exp: 1700003600
      iat: 1700000000
    expectSuccess: true
  - name: token missing iat
    claims:
      iss: https://issuer.example
      sub: user-1
      exp: 1700003600
    expectSuccess: false
    expectedEvent: MISSING_CLAIM
`)
	fixtures, err := testutil.LoadClaimsFixtures(fixtureYAML)
	require.NoError(t, err)
	require.Len(t, fixtures, 2)

	for _, fixture := range fixtures {
		fixture := fixture
		t.Run(fixture.Name, func(t *testing.T) {
			p, _ := newTestPipeline(t, iss, "https://issuer.example", clock, WithAudience("expected-client"))

			token, err := iss.SignRS256(nil, fixture.Claims)
			require.NoError(t, err)

			content, verr := p.run(context.Background(), token, TokenTypeAccess)
			if fixture.ExpectSuccess {
				require.Nil(t, verr)
				assert.Equal(t, "user-1", content.Claims()["sub"].AsString())
			} else {
				require.NotNil(t, verr)
				assert.Equal(t, fixture.ExpectedEvent, verr.EventType.String())
			}
		})
	}
}

func TestPipeline_MissingSubClaim(t *testing.T) {
	iss, _ := testutil.NewRSAIssuer("key-1")
	clock := NewFixedClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(t, iss, "https://issuer.example", clock)

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
	})
	require.NoError(t, err)

	_, verr := p.run(context.Background(), token, TokenTypeAccess)
	require.NotNil(t, verr)
	assert.Equal(t, MissingClaim, verr.EventType)
	assert.Equal(t, "sub", verr.ClaimName)
}
