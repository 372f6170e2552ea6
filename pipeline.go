package jwtvalidation

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ParserConfig bounds the raw token and its decoded segments, and sets
// the clock skew tolerance applied to exp/nbf comparisons.
type ParserConfig struct {
	MaxTokenSize       int
	MaxDecodedPartSize int
	ClockSkew          time.Duration
}

func (c *ParserConfig) applyDefaults() {
	if c.MaxTokenSize <= 0 {
		c.MaxTokenSize = 8192
	}
	if c.MaxDecodedPartSize <= 0 {
		c.MaxDecodedPartSize = 16384
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = 60 * time.Second
	}
}

// audienceMapper normalizes the aud claim, which the wire format allows
// to be either a single string or a JSON array of strings, into a
// STRING_LIST ClaimValue.
type audienceMapper struct{}

func (audienceMapper) Map(payload map[string]interface{}, claimName string) (ClaimValue, bool, *ValidationError) {
	raw, ok := payload[claimName]
	if !ok {
		return ClaimValue{}, false, nil
	}
	if s, ok := raw.(string); ok {
		return newStringListClaim(s, []string{s}), true, nil
	}
	if list, ok := toStringSlice(raw); ok {
		return newStringListClaim(renderStringList(list), list), true, nil
	}
	return ClaimValue{}, true, newValidationErrorClaim(MissingClaim, "aud claim is neither a string nor a string array", claimName)
}

// pipeline is the 11-stage state machine (§4.7) that turns a raw compact
// JWT into a typed content object, orchestrating the issuer resolver,
// access-token cache, security-event counter, and measurement monitor.
type pipeline struct {
	parser   ParserConfig
	counter  *SecurityEventCounter
	monitor  *MeasurementMonitor
	resolver *IssuerConfigResolver
	cache    *AccessTokenCache
	clock    Clock
	log      zerolog.Logger
}

func newPipeline(parser ParserConfig, counter *SecurityEventCounter, monitor *MeasurementMonitor, resolver *IssuerConfigResolver, cache *AccessTokenCache, clock Clock, log zerolog.Logger) *pipeline {
	parser.applyDefaults()
	return &pipeline{parser: parser, counter: counter, monitor: monitor, resolver: resolver, cache: cache, clock: clock, log: log}
}

func (p *pipeline) fail(t EventType, message string) (baseTokenContent, *ValidationError) {
	p.counter.Increment(t)
	return baseTokenContent{}, newValidationError(t, message)
}

func (p *pipeline) failClaim(t EventType, message, claim string) (baseTokenContent, *ValidationError) {
	p.counter.Increment(t)
	return baseTokenContent{}, newValidationErrorClaim(t, message, claim)
}

func (p *pipeline) failWith(verr *ValidationError) (baseTokenContent, *ValidationError) {
	return baseTokenContent{}, verr
}

// run executes stages 1-10 in strict order, short-circuiting on the first
// failure. Stage 0 (COMPLETE_VALIDATION) brackets the whole call.
func (p *pipeline) run(ctx context.Context, raw string, tokenType TokenType) (baseTokenContent, *ValidationError) {
	overall := startStage(p.monitor, p.clock, MeasurementCompleteValidation)
	defer overall.stop()

	// Stage 1: TOKEN_FORMAT_CHECK
	s1 := startStage(p.monitor, p.clock, MeasurementTokenFormatCheck)
	if len(raw) == 0 {
		s1.stop()
		return p.fail(TokenEmpty, "token is empty")
	}
	if len(raw) > p.parser.MaxTokenSize {
		s1.stop()
		return p.fail(TokenSizeExceeded, "token exceeds configured maximum size")
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		s1.stop()
		return p.fail(InvalidJWTFormat, "token is not a three-segment compact JWT")
	}
	s1.stop()

	// Stage 2: TOKEN_PARSING
	s2 := startStage(p.monitor, p.clock, MeasurementTokenParsing)
	headerBytes, err := decodeJWTSegment(parts[0])
	if err != nil {
		s2.stop()
		return p.fail(FailedToDecodeHeader, "header segment is not valid base64url")
	}
	payloadBytes, err := decodeJWTSegment(parts[1])
	if err != nil {
		s2.stop()
		return p.fail(FailedToDecodePayload, "payload segment is not valid base64url")
	}
	signatureBytes, err := decodeJWTSegment(parts[2])
	if err != nil {
		s2.stop()
		return p.fail(FailedToDecodeJWT, "signature segment is not valid base64url")
	}
	if len(headerBytes) > p.parser.MaxDecodedPartSize || len(payloadBytes) > p.parser.MaxDecodedPartSize {
		s2.stop()
		return p.fail(DecodedPartSizeExceeded, "decoded segment exceeds configured maximum size")
	}
	header, err := decodeJSONObjectNoDup(headerBytes)
	if err != nil {
		s2.stop()
		return p.fail(FailedToDecodeHeader, "header is not a well-formed JSON object")
	}
	payload, err := decodeJSONObjectNoDup(payloadBytes)
	if err != nil {
		s2.stop()
		return p.fail(FailedToDecodePayload, "payload is not a well-formed JSON object")
	}
	signedData := []byte(parts[0] + "." + parts[1])
	s2.stop()

	// Stage 3: ISSUER_EXTRACTION
	s3 := startStage(p.monitor, p.clock, MeasurementIssuerExtraction)
	issuer, ok := payload["iss"].(string)
	if !ok || issuer == "" {
		s3.stop()
		return p.failClaim(MissingClaim, "payload has no iss claim", "iss")
	}
	s3.stop()

	// Stage 4: CACHE_LOOKUP (access tokens only)
	if tokenType == TokenTypeAccess && p.cache != nil {
		s4 := startStage(p.monitor, p.clock, MeasurementCacheLookup)
		if content, hit := p.cache.Lookup(raw); hit {
			p.counter.Increment(AccessTokenCacheHit)
			s4.stop()
			return content.baseTokenContent, nil
		}
		s4.stop()
	}

	// Stage 5: ISSUER_CONFIG_RESOLUTION
	s5 := startStage(p.monitor, p.clock, MeasurementIssuerConfigResolution)
	issuerCfg, verr := p.resolver.ResolveConfig(ctx, issuer)
	s5.stop()
	if verr != nil {
		return p.failWith(verr)
	}

	// Stage 6: HEADER_VALIDATION
	s6 := startStage(p.monitor, p.clock, MeasurementHeaderValidation)
	algRaw, ok := header["alg"].(string)
	if !ok || algRaw == "" {
		s6.stop()
		return p.fail(UnsupportedAlgorithm, "header has no alg")
	}
	alg := strings.ToUpper(algRaw)
	if !issuerCfg.AlgorithmWhitelist[alg] {
		s6.stop()
		return p.fail(UnsupportedAlgorithm, "alg is not in the issuer's algorithm whitelist")
	}
	if typVal, present := header["typ"]; present {
		if typ, ok := typVal.(string); !ok || (typ != "" && !strings.EqualFold(typ, "JWT")) {
			s6.stop()
			return p.fail(UnsupportedAlgorithm, "typ is present but not JWT")
		}
	}
	kid, _ := header["kid"].(string)
	s6.stop()

	// Stage 7: SIGNATURE_VALIDATION
	s7 := startStage(p.monitor, p.clock, MeasurementSignatureValidation)
	keyInfo, ok := issuerCfg.JwksLoader.GetKeyInfo(kid)
	if !ok {
		s7.stop()
		return p.fail(KeyNotFound, "no signing key matches the token's kid")
	}
	signingMethod := jwt.GetSigningMethod(alg)
	if signingMethod == nil {
		s7.stop()
		return p.fail(UnsupportedAlgorithm, "alg has no registered signing method")
	}
	if err := signingMethod.Verify(string(signedData), signatureBytes, keyInfo.PublicKey); err != nil {
		s7.stop()
		return p.fail(SignatureValidationFailed, "signature verification failed")
	}
	s7.stop()

	// Stage 8: TOKEN_BUILDING
	s8 := startStage(p.monitor, p.clock, MeasurementTokenBuilding)
	claims := make(map[string]ClaimValue)
	standardMappers := []struct {
		name   string
		mapper ClaimMapper
	}{
		{"sub", IdentityMapper{}},
		{"iss", IdentityMapper{}},
		{"jti", IdentityMapper{}},
		{"azp", IdentityMapper{}},
		{"exp", OffsetDateTimeMapper{}},
		{"nbf", OffsetDateTimeMapper{}},
		{"iat", OffsetDateTimeMapper{}},
		{"aud", audienceMapper{}},
	}
	for _, sm := range standardMappers {
		if verr := mapIntoErr(claims, payload, sm.name, sm.mapper); verr != nil {
			p.counter.Increment(verr.EventType)
			s8.stop()
			return p.failWith(verr)
		}
	}
	for name, mapper := range issuerCfg.ClaimMappers {
		if verr := mapIntoErr(claims, payload, name, mapper); verr != nil {
			p.counter.Increment(verr.EventType)
			s8.stop()
			return p.failWith(verr)
		}
	}
	rawPayload := string(payloadBytes)
	s8.stop()

	// Stage 9: CLAIMS_VALIDATION
	s9 := startStage(p.monitor, p.clock, MeasurementClaimsValidation)
	now := p.clock.Now()

	expClaim, hasExp := claims["exp"]
	if !hasExp {
		s9.stop()
		return p.failClaim(MissingClaim, "required exp claim is missing", "exp")
	}
	if !now.Before(expClaim.AsTime().Add(p.parser.ClockSkew)) {
		s9.stop()
		return p.fail(TokenExpired, "token has expired")
	}

	if nbfClaim, hasNbf := claims["nbf"]; hasNbf {
		if now.Before(nbfClaim.AsTime().Add(-p.parser.ClockSkew)) {
			s9.stop()
			return p.fail(TokenNbfFuture, "token is not yet valid")
		}
	}

	if _, hasSub := claims["sub"]; !hasSub {
		s9.stop()
		return p.failClaim(MissingClaim, "required sub claim is missing", "sub")
	}
	if _, hasIat := claims["iat"]; !hasIat {
		s9.stop()
		return p.failClaim(MissingClaim, "required iat claim is missing", "iat")
	}

	if issClaim := claims["iss"].AsString(); issClaim != issuerCfg.IssuerIdentifier {
		s9.stop()
		return p.fail(IssuerMismatch, "iss claim does not match the resolved issuer config")
	}

	if len(issuerCfg.ExpectedAudience) > 0 {
		matched := false
		if audClaim, ok := claims["aud"]; ok {
			for _, a := range audClaim.AsStringList() {
				if issuerCfg.ExpectedAudience[a] {
					matched = true
					break
				}
			}
		}
		if !matched {
			s9.stop()
			return p.fail(AudienceMismatch, "aud claim does not intersect the expected audience")
		}
	}

	if issuerCfg.ExpectedClientID != "" {
		if claims["azp"].AsString() != issuerCfg.ExpectedClientID {
			s9.stop()
			return p.fail(AzpMismatch, "azp claim does not match the expected client id")
		}
	}

	if tokenType == TokenTypeAccess {
		if _, hasJti := claims["jti"]; !hasJti {
			p.counter.Increment(MissingRecommendedElement)
			p.log.Warn().Str("issuer", issuer).Msg("access token is missing the recommended jti claim")
		}
	}
	s9.stop()

	content := baseTokenContent{claims: claims, rawToken: raw, tokenType: tokenType, rawPayload: rawPayload}

	// Stage 10: CACHE_STORE (access tokens only)
	if tokenType == TokenTypeAccess && p.cache != nil {
		s10 := startStage(p.monitor, p.clock, MeasurementCacheStore)
		p.cache.Store(raw, AccessTokenContent{content})
		s10.stop()
	}

	switch tokenType {
	case TokenTypeAccess:
		p.counter.Increment(AccessTokenCreated)
	case TokenTypeID:
		p.counter.Increment(IDTokenCreated)
	case TokenTypeRefresh:
		p.counter.Increment(RefreshTokenCreated)
	}

	return content, nil
}

func mapIntoErr(claims map[string]ClaimValue, payload map[string]interface{}, name string, mapper ClaimMapper) *ValidationError {
	v, present, err := mapper.Map(payload, name)
	if err != nil {
		return err
	}
	if present {
		claims[name] = v
	}
	return nil
}
