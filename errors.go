package jwtvalidation

import (
	"fmt"

	"github.com/rs/zerolog"
)

// EventType enumerates every discrete outcome the validator reports to the
// SecurityEventCounter: structural failures, semantic claim failures,
// signature/config failures, JWKS operational events, and successes.
type EventType int

const (
	// Structure
	TokenEmpty EventType = iota
	TokenSizeExceeded
	InvalidJWTFormat
	FailedToDecodeJWT
	FailedToDecodeHeader
	FailedToDecodePayload
	DecodedPartSizeExceeded

	// Semantic
	MissingClaim
	MissingRecommendedElement
	TokenExpired
	TokenNbfFuture
	AudienceMismatch
	AzpMismatch
	IssuerMismatch

	// Signature / config
	NoIssuerConfig
	SignatureValidationFailed
	KeyNotFound
	UnsupportedAlgorithm

	// JWKS operations
	JwksFetchFailed
	JwksJSONParseFailed
	FailedToReadJwksFile
	KeyRotationDetected
	IssuerConfigSkipped
	IssuerConfigUnhealthy
	WellKnownResolutionFailed

	// Successes
	AccessTokenCreated
	IDTokenCreated
	RefreshTokenCreated
	AccessTokenCacheHit

	eventTypeCount
)

var eventTypeNames = [eventTypeCount]string{
	TokenEmpty:                "TOKEN_EMPTY",
	TokenSizeExceeded:         "TOKEN_SIZE_EXCEEDED",
	InvalidJWTFormat:          "INVALID_JWT_FORMAT",
	FailedToDecodeJWT:         "FAILED_TO_DECODE_JWT",
	FailedToDecodeHeader:      "FAILED_TO_DECODE_HEADER",
	FailedToDecodePayload:     "FAILED_TO_DECODE_PAYLOAD",
	DecodedPartSizeExceeded:   "DECODED_PART_SIZE_EXCEEDED",
	MissingClaim:              "MISSING_CLAIM",
	MissingRecommendedElement: "MISSING_RECOMMENDED_ELEMENT",
	TokenExpired:              "TOKEN_EXPIRED",
	TokenNbfFuture:            "TOKEN_NBF_FUTURE",
	AudienceMismatch:          "AUDIENCE_MISMATCH",
	AzpMismatch:               "AZP_MISMATCH",
	IssuerMismatch:            "ISSUER_MISMATCH",
	NoIssuerConfig:            "NO_ISSUER_CONFIG",
	SignatureValidationFailed: "SIGNATURE_VALIDATION_FAILED",
	KeyNotFound:               "KEY_NOT_FOUND",
	UnsupportedAlgorithm:      "UNSUPPORTED_ALGORITHM",
	JwksFetchFailed:           "JWKS_FETCH_FAILED",
	JwksJSONParseFailed:       "JWKS_JSON_PARSE_FAILED",
	FailedToReadJwksFile:      "FAILED_TO_READ_JWKS_FILE",
	KeyRotationDetected:       "KEY_ROTATION_DETECTED",
	IssuerConfigSkipped:       "ISSUER_CONFIG_SKIPPED",
	IssuerConfigUnhealthy:     "ISSUER_CONFIG_UNHEALTHY",
	WellKnownResolutionFailed: "WELL_KNOWN_RESOLUTION_FAILED",
	AccessTokenCreated:        "ACCESS_TOKEN_CREATED",
	IDTokenCreated:            "ID_TOKEN_CREATED",
	RefreshTokenCreated:       "REFRESH_TOKEN_CREATED",
	AccessTokenCacheHit:       "ACCESS_TOKEN_CACHE_HIT",
}

func (t EventType) String() string {
	if t < 0 || t >= eventTypeCount {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// MarshalText lets EventType serialize to JSON/YAML/zerolog as its name
// instead of its ordinal.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ValidationError is the sole error type returned by the public validate
// methods. It names the event category, an optional offending claim, and
// a non-sensitive cause; it never carries raw token material.
type ValidationError struct {
	EventType EventType
	Message   string
	ClaimName string
	Cause     error
}

func (e *ValidationError) Error() string {
	if e.ClaimName != "" {
		return fmt.Sprintf("%s: %s (claim=%s)", e.EventType, e.Message, e.ClaimName)
	}
	return fmt.Sprintf("%s: %s", e.EventType, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match against the exported sentinel errors by event
// category rather than pointer identity, since every real failure builds
// a fresh *ValidationError rather than returning a sentinel directly.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.EventType == e.EventType
}

// MarshalZerologObject lets handlers write `.Err(valErr)`-style structured
// fields without flattening the error into a single message string.
func (e *ValidationError) MarshalZerologObject(evt *zerolog.Event) {
	evt.Str("event_type", e.EventType.String())
	evt.Str("message", e.Message)
	if e.ClaimName != "" {
		evt.Str("claim_name", e.ClaimName)
	}
}

func newValidationError(t EventType, message string) *ValidationError {
	return &ValidationError{EventType: t, Message: message}
}

func newValidationErrorClaim(t EventType, message, claim string) *ValidationError {
	return &ValidationError{EventType: t, Message: message, ClaimName: claim}
}

func newValidationErrorCause(t EventType, message string, cause error) *ValidationError {
	return &ValidationError{EventType: t, Message: message, Cause: cause}
}

// Sentinel errors so callers can use errors.Is against a stable category
// independent of the exact message.
var (
	ErrTokenExpired     = newValidationError(TokenExpired, "token has expired")
	ErrSignatureInvalid = newValidationError(SignatureValidationFailed, "signature validation failed")
	ErrNoIssuerConfig   = newValidationError(NoIssuerConfig, "no issuer configuration matches token issuer")
	ErrKeyNotFound      = newValidationError(KeyNotFound, "no matching signing key found")
	ErrInvalidJWTFormat = newValidationError(InvalidJWTFormat, "malformed compact JWT")
)
