package jwtvalidation

import (
	"strconv"
	"strings"
	"time"
)

// ClaimValueType is the tag of the ClaimValue sum type.
type ClaimValueType int

const (
	ClaimString ClaimValueType = iota
	ClaimStringList
	ClaimDateTime
	ClaimInteger
	ClaimBoolean
)

// ClaimValue is a tagged union over the claim representations the
// validator understands. It keeps both the original serialized form (for
// logging/debugging without re-encoding) and the parsed value, and
// distinguishes an explicitly empty claim from one that was never mapped
// at all (a mapper call simply isn't made for an absent claim).
type ClaimValue struct {
	Type    ClaimValueType
	Raw     string
	str     string
	strList []string
	t       time.Time
	i       int64
	b       bool
	empty   bool
}

func newStringClaim(raw, v string) ClaimValue {
	return ClaimValue{Type: ClaimString, Raw: raw, str: v, empty: v == ""}
}

func newStringListClaim(raw string, v []string) ClaimValue {
	return ClaimValue{Type: ClaimStringList, Raw: raw, strList: v, empty: len(v) == 0}
}

func newDateTimeClaim(raw string, v time.Time) ClaimValue {
	return ClaimValue{Type: ClaimDateTime, Raw: raw, t: v}
}

func newIntegerClaim(raw string, v int64) ClaimValue {
	return ClaimValue{Type: ClaimInteger, Raw: raw, i: v}
}

func newBooleanClaim(raw string, v bool) ClaimValue {
	return ClaimValue{Type: ClaimBoolean, Raw: raw, b: v}
}

// IsEmpty reports whether the claim was present but carried an
// empty/zero-length value, as opposed to being absent from the payload.
func (c ClaimValue) IsEmpty() bool { return c.empty }

func (c ClaimValue) AsString() string       { return c.str }
func (c ClaimValue) AsStringList() []string { return c.strList }
func (c ClaimValue) AsTime() time.Time      { return c.t }
func (c ClaimValue) AsInt64() int64         { return c.i }
func (c ClaimValue) AsBool() bool           { return c.b }

// ClaimMapper extracts a typed ClaimValue from a decoded JSON payload.
// present is false when the named claim does not occur in the payload at
// all; err is non-nil only when the claim is present but malformed for
// this mapper.
type ClaimMapper interface {
	Map(payload map[string]interface{}, claimName string) (value ClaimValue, present bool, err *ValidationError)
}

// IdentityMapper preserves any scalar claim verbatim as a string.
type IdentityMapper struct{}

func (IdentityMapper) Map(payload map[string]interface{}, claimName string) (ClaimValue, bool, *ValidationError) {
	raw, ok := payload[claimName]
	if !ok {
		return ClaimValue{}, false, nil
	}
	s := scalarToString(raw)
	return newStringClaim(s, s), true, nil
}

// StringListMapper requires the claim to be a JSON array of strings.
type StringListMapper struct{}

func (StringListMapper) Map(payload map[string]interface{}, claimName string) (ClaimValue, bool, *ValidationError) {
	raw, ok := payload[claimName]
	if !ok {
		return ClaimValue{}, false, nil
	}
	list, ok := toStringSlice(raw)
	if !ok {
		return ClaimValue{}, true, newValidationErrorClaim(MissingClaim, "claim is not a string array", claimName)
	}
	return newStringListClaim(renderStringList(list), list), true, nil
}

// ScopeMapper splits a space-separated scope string into a list, dropping
// empty tokens produced by repeated whitespace.
type ScopeMapper struct{}

func (ScopeMapper) Map(payload map[string]interface{}, claimName string) (ClaimValue, bool, *ValidationError) {
	raw, ok := payload[claimName]
	if !ok {
		return ClaimValue{}, false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return ClaimValue{}, true, newValidationErrorClaim(MissingClaim, "scope claim is not a string", claimName)
	}
	fields := strings.Fields(s)
	return newStringListClaim(s, fields), true, nil
}

// OffsetDateTimeMapper parses a numeric epoch-seconds claim into a time.
type OffsetDateTimeMapper struct{}

func (OffsetDateTimeMapper) Map(payload map[string]interface{}, claimName string) (ClaimValue, bool, *ValidationError) {
	raw, ok := payload[claimName]
	if !ok {
		return ClaimValue{}, false, nil
	}
	secs, ok := toFloat64(raw)
	if !ok {
		return ClaimValue{}, true, newValidationErrorClaim(MissingClaim, "claim is not numeric epoch seconds", claimName)
	}
	return newDateTimeClaim(scalarToString(raw), time.Unix(int64(secs), 0).UTC()), true, nil
}

// KeycloakDefaultRolesMapper reads Keycloak's nested realm_access.roles
// array. A missing nesting produces an empty (not absent) claim.
type KeycloakDefaultRolesMapper struct{}

func (KeycloakDefaultRolesMapper) Map(payload map[string]interface{}, claimName string) (ClaimValue, bool, *ValidationError) {
	realmAccess, ok := payload["realm_access"].(map[string]interface{})
	if !ok {
		return newStringListClaim("", nil), true, nil
	}
	list, ok := toStringSlice(realmAccess["roles"])
	if !ok {
		return newStringListClaim("", nil), true, nil
	}
	return newStringListClaim(renderStringList(list), list), true, nil
}

// KeycloakDefaultGroupsMapper reads the top-level groups array. A missing
// claim produces an empty (not absent) claim.
type KeycloakDefaultGroupsMapper struct{}

func (KeycloakDefaultGroupsMapper) Map(payload map[string]interface{}, claimName string) (ClaimValue, bool, *ValidationError) {
	list, ok := toStringSlice(payload["groups"])
	if !ok {
		return newStringListClaim("", nil), true, nil
	}
	return newStringListClaim(renderStringList(list), list), true, nil
}

func scalarToString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func toStringSlice(v interface{}) ([]string, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		s, ok := el.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func toFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func renderStringList(list []string) string {
	return strings.Join(list, " ")
}
