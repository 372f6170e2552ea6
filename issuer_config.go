package jwtvalidation

import "strings"

// IssuerConfig describes one trusted token issuer. It is immutable once
// constructed; IssuerConfigResolver never mutates it after publication.
type IssuerConfig struct {
	IssuerIdentifier   string
	Enabled            bool
	JwksLoader         JwksLoader
	ExpectedAudience   map[string]bool
	ExpectedClientID   string
	ClaimMappers       map[string]ClaimMapper
	AlgorithmWhitelist map[string]bool
}

// IssuerConfigOption customizes an IssuerConfig at construction.
type IssuerConfigOption func(*IssuerConfig)

// WithAudience restricts accepted tokens to those whose aud claim
// intersects the given set.
func WithAudience(audiences ...string) IssuerConfigOption {
	return func(c *IssuerConfig) {
		for _, a := range audiences {
			c.ExpectedAudience[a] = true
		}
	}
}

// WithExpectedClientID requires the azp claim to equal clientID.
func WithExpectedClientID(clientID string) IssuerConfigOption {
	return func(c *IssuerConfig) { c.ExpectedClientID = clientID }
}

// WithAlgorithmWhitelist restricts accepted signing algorithms. Names are
// upper-cased to match the case-insensitive whitelist comparison of §4.7.
func WithAlgorithmWhitelist(algorithms ...string) IssuerConfigOption {
	return func(c *IssuerConfig) {
		c.AlgorithmWhitelist = make(map[string]bool, len(algorithms))
		for _, a := range algorithms {
			c.AlgorithmWhitelist[strings.ToUpper(a)] = true
		}
	}
}

// WithClaimMapper registers a mapper for a named claim, overriding any
// default mapper for that name.
func WithClaimMapper(claimName string, mapper ClaimMapper) IssuerConfigOption {
	return func(c *IssuerConfig) { c.ClaimMappers[claimName] = mapper }
}

// WithDisabled marks the config disabled; it is skipped during issuer
// resolution warm-up and logs ISSUER_CONFIG_SKIPPED.
func WithDisabled() IssuerConfigOption {
	return func(c *IssuerConfig) { c.Enabled = false }
}

// defaultClaimMappers returns the mapper set every issuer config starts
// with unless overridden: scope splitting and Keycloak's conventional
// roles/groups claims.
func defaultClaimMappers() map[string]ClaimMapper {
	return map[string]ClaimMapper{
		"scope":  ScopeMapper{},
		"roles":  KeycloakDefaultRolesMapper{},
		"groups": KeycloakDefaultGroupsMapper{},
	}
}

// NewIssuerConfig constructs an enabled IssuerConfig trusting tokens
// issued by identifier and signed by keys resolved through loader.
// Default algorithm whitelist is RS256/RS384/RS512/ES256/ES384/ES512.
func NewIssuerConfig(identifier string, loader JwksLoader, opts ...IssuerConfigOption) *IssuerConfig {
	c := &IssuerConfig{
		IssuerIdentifier: identifier,
		Enabled:          true,
		JwksLoader:       loader,
		ExpectedAudience: map[string]bool{},
		ClaimMappers:     defaultClaimMappers(),
		AlgorithmWhitelist: map[string]bool{
			"RS256": true, "RS384": true, "RS512": true,
			"ES256": true, "ES384": true, "ES512": true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
