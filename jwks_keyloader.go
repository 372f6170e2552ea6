package jwtvalidation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
)

// jwksKeySet is the immutable, in-memory result of parsing one JWKS
// document: a key-id-indexed lookup table built once and never mutated.
// HttpJwksLoader swaps whole instances of this type atomically; it is
// never mutated in place, which is what makes GetKeyInfo lock-free.
type jwksKeySet struct {
	keys      map[string]KeyInfo
	singleKey *KeyInfo
	issuedAt  time.Time
}

// parseJWKS decodes an RFC 7517 JWKS document into a jwksKeySet. Keys
// whose algorithm is not on algorithmWhitelist are skipped rather than
// rejecting the whole document, since a JWKS commonly mixes signing and
// encryption keys or keys for algorithms this issuer config doesn't
// accept.
func parseJWKS(data []byte, algorithmWhitelist map[string]bool, now time.Time) (*jwksKeySet, error) {
	var raw josejwk.JSONWebKeySet
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing JWKS document: %w", err)
	}

	keys := make(map[string]KeyInfo, len(raw.Keys))
	for _, k := range raw.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && len(algorithmWhitelist) > 0 {
			if !algorithmWhitelist[strings.ToUpper(k.Algorithm)] {
				continue
			}
		}
		if k.Key == nil {
			continue
		}
		info := KeyInfo{Algorithm: strings.ToUpper(k.Algorithm), PublicKey: k.Key, KeyID: k.KeyID}
		keys[k.KeyID] = info
	}

	set := &jwksKeySet{keys: keys, issuedAt: now}
	if len(keys) == 1 {
		for _, v := range keys {
			vv := v
			set.singleKey = &vv
		}
	}
	return set, nil
}

// lookup resolves kid against this key set only (no retired-key fallback;
// that is HttpJwksLoader's concern). An empty kid falls back to the
// single-key default per §4.3.
func (s *jwksKeySet) lookup(kid string) (KeyInfo, bool) {
	if s == nil {
		return KeyInfo{}, false
	}
	if kid != "" {
		if k, ok := s.keys[kid]; ok {
			return k, true
		}
		return KeyInfo{}, false
	}
	if s.singleKey != nil {
		return *s.singleKey, true
	}
	return KeyInfo{}, false
}

// equivalentTo reports whether two key sets carry the same key IDs and
// algorithms, used to decide whether a refresh actually rotated keys
// (§4.4 step 5: "if the new set differs from the current one").
func (s *jwksKeySet) equivalentTo(other *jwksKeySet) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.keys) != len(other.keys) {
		return false
	}
	for kid, k := range s.keys {
		ok, present := other.keys[kid]
		if !present || ok.Algorithm != k.Algorithm {
			return false
		}
	}
	return true
}
