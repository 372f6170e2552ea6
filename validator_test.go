package jwtvalidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuioss/jwt-validation/internal/testutil"
)

func TestNewTokenValidator_RequiresAtLeastOneIssuer(t *testing.T) {
	_, err := NewTokenValidator(ValidatorConfig{})
	assert.Error(t, err)
}

func TestNewTokenValidator_RejectsEmptyIssuerIdentifier(t *testing.T) {
	cfg := &IssuerConfig{IssuerIdentifier: "", JwksLoader: &stubLoader{status: LoaderOK}}
	_, err := NewTokenValidator(ValidatorConfig{Issuers: []*IssuerConfig{cfg}})
	assert.Error(t, err)
}

func TestNewTokenValidator_RejectsNilJwksLoader(t *testing.T) {
	cfg := &IssuerConfig{IssuerIdentifier: "https://issuer.example"}
	_, err := NewTokenValidator(ValidatorConfig{Issuers: []*IssuerConfig{cfg}})
	assert.Error(t, err)
}

func TestNewTokenValidator_RejectsDuplicateIssuerIdentifiers(t *testing.T) {
	a := NewIssuerConfig("https://issuer.example", &stubLoader{status: LoaderOK})
	b := NewIssuerConfig("https://issuer.example", &stubLoader{status: LoaderOK})
	_, err := NewTokenValidator(ValidatorConfig{Issuers: []*IssuerConfig{a, b}})
	assert.Error(t, err)
}

func TestTokenValidator_ValidateEndToEnd(t *testing.T) {
	iss, err := testutil.NewRSAIssuer("key-1")
	require.NoError(t, err)

	loader := &staticKeyLoader{keys: map[string]KeyInfo{
		iss.KeyID: {Algorithm: "RS256", PublicKey: &iss.PrivateKey.PublicKey, KeyID: iss.KeyID},
	}}
	clock := NewFixedClock(time.Unix(1700000000, 0))
	cfg := NewIssuerConfig("https://issuer.example", loader)

	validator, err := NewTokenValidator(ValidatorConfig{
		Issuers: []*IssuerConfig{cfg},
		Clock:   clock,
	})
	require.NoError(t, err)
	defer validator.Close()

	token, err := iss.SignRS256(nil, map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": float64(clock.Now().Add(time.Hour).Unix()),
		"iat": float64(clock.Now().Unix()),
		"jti": "abc-123",
	})
	require.NoError(t, err)

	content, verr := validator.Validate(token)
	require.Nil(t, verr)
	assert.Equal(t, "user-1", content.Subject())
	assert.Equal(t, uint64(1), validator.SecurityEventCounter().Count(AccessTokenCreated))
}

func TestTokenValidator_ValidateRejectsBadToken(t *testing.T) {
	loader := &stubLoader{status: LoaderOK}
	cfg := NewIssuerConfig("https://issuer.example", loader)

	validator, err := NewTokenValidator(ValidatorConfig{Issuers: []*IssuerConfig{cfg}})
	require.NoError(t, err)
	defer validator.Close()

	_, verr := validator.Validate("not-a-jwt")
	require.NotNil(t, verr)
	assert.Equal(t, InvalidJWTFormat, verr.EventType)
}

func TestTokenValidator_CloseClosesEveryLoader(t *testing.T) {
	closed := false
	loader := &closeTrackingLoader{stubLoader: stubLoader{status: LoaderOK}, onClose: func() { closed = true }}
	cfg := NewIssuerConfig("https://issuer.example", loader)

	validator, err := NewTokenValidator(ValidatorConfig{Issuers: []*IssuerConfig{cfg}})
	require.NoError(t, err)

	validator.Close()
	assert.True(t, closed)
}

type closeTrackingLoader struct {
	stubLoader
	onClose func()
}

func (c *closeTrackingLoader) Close() { c.onClose() }
