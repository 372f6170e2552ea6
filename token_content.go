package jwtvalidation

import "time"

// TokenType distinguishes the three token content variants.
type TokenType int

const (
	TokenTypeAccess TokenType = iota
	TokenTypeID
	TokenTypeRefresh
)

func (t TokenType) String() string {
	switch t {
	case TokenTypeAccess:
		return "ACCESS_TOKEN"
	case TokenTypeID:
		return "ID_TOKEN"
	case TokenTypeRefresh:
		return "REFRESH_TOKEN"
	default:
		return "UNKNOWN_TOKEN"
	}
}

// decodedToken groups the pieces stage 2 (TOKEN_PARSING) extracts from a
// compact JWT. The pipeline holds these pieces in local variables and does
// not construct this type. signedData is the exact byte range
// "header_b64.payload_b64" as it appeared on the wire, never re-encoded,
// so signature verification is byte-exact.
type decodedToken struct {
	rawToken       string
	header         map[string]interface{}
	payload        map[string]interface{}
	signatureBytes []byte
	signedData     []byte
	rawPayload     string
}

// baseTokenContent holds the fields common to every token content
// variant, per the data model's "All expose" list.
type baseTokenContent struct {
	claims     map[string]ClaimValue
	rawToken   string
	tokenType  TokenType
	rawPayload string
}

func (b baseTokenContent) Claims() map[string]ClaimValue { return b.claims }
func (b baseTokenContent) RawToken() string              { return b.rawToken }
func (b baseTokenContent) TokenType() TokenType           { return b.tokenType }
func (b baseTokenContent) RawPayload() string            { return b.rawPayload }

func (b baseTokenContent) claimString(name string) string {
	if c, ok := b.claims[name]; ok {
		return c.AsString()
	}
	return ""
}

func (b baseTokenContent) claimTime(name string) time.Time {
	if c, ok := b.claims[name]; ok {
		return c.AsTime()
	}
	return time.Time{}
}

func (b baseTokenContent) claimStringList(name string) []string {
	if c, ok := b.claims[name]; ok {
		return c.AsStringList()
	}
	return nil
}

// AccessTokenContent is the typed result of a successful validate() call.
type AccessTokenContent struct {
	baseTokenContent
}

func (a AccessTokenContent) Subject() string       { return a.claimString("sub") }
func (a AccessTokenContent) Issuer() string        { return a.claimString("iss") }
func (a AccessTokenContent) JwtID() string         { return a.claimString("jti") }
func (a AccessTokenContent) AuthorizedParty() string { return a.claimString("azp") }
func (a AccessTokenContent) ExpiresAt() time.Time  { return a.claimTime("exp") }
func (a AccessTokenContent) NotBefore() time.Time  { return a.claimTime("nbf") }
func (a AccessTokenContent) IssuedAt() time.Time   { return a.claimTime("iat") }

// Audience returns the aud claim as a set-like string slice regardless of
// whether the wire representation was a single string or a JSON array.
func (a AccessTokenContent) Audience() []string { return a.claimStringList("aud") }

// Scope returns the space-separated scope claim split into individual
// scope tokens.
func (a AccessTokenContent) Scope() []string { return a.claimStringList("scope") }

// Roles returns mapper-produced roles (e.g. Keycloak realm_access.roles).
func (a AccessTokenContent) Roles() []string { return a.claimStringList("roles") }

// Groups returns mapper-produced groups.
func (a AccessTokenContent) Groups() []string { return a.claimStringList("groups") }

// IdTokenContent is the typed result of a successful validateIdToken() call.
type IdTokenContent struct {
	baseTokenContent
}

func (i IdTokenContent) Subject() string      { return i.claimString("sub") }
func (i IdTokenContent) Issuer() string       { return i.claimString("iss") }
func (i IdTokenContent) ExpiresAt() time.Time { return i.claimTime("exp") }

// RefreshTokenContent is the typed result of a successful
// validateRefreshToken() call.
type RefreshTokenContent struct {
	baseTokenContent
}

func (r RefreshTokenContent) Subject() string { return r.claimString("sub") }
func (r RefreshTokenContent) Issuer() string  { return r.claimString("iss") }
