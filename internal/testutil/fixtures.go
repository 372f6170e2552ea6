// Package testutil builds signed JWTs and JWKS documents for table-driven
// tests, keeping fixtures built inline rather than hand-encoding
// base64url literals.
package testutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

const cryptoSHA256 = crypto.SHA256

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// RSAIssuer holds a generated RSA key pair and JWKS document for one test
// issuer, keyed by the kid passed to NewRSAIssuer.
type RSAIssuer struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	JWKSJSON   []byte
}

// NewRSAIssuer generates a fresh 2048-bit RSA key and its JWKS
// representation.
func NewRSAIssuer(kid string) (*RSAIssuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	jwks := map[string]interface{}{
		"keys": []map[string]interface{}{
			{
				"kty": "RSA",
				"kid": kid,
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(bigIntToBytes(int64(key.PublicKey.E))),
			},
		},
	}
	body, err := json.Marshal(jwks)
	if err != nil {
		return nil, err
	}
	return &RSAIssuer{KeyID: kid, PrivateKey: key, JWKSJSON: body}, nil
}

func bigIntToBytes(v int64) []byte {
	return big.NewInt(v).Bytes()
}

// SignRS256 builds a compact JWT with the given header/payload maps,
// signed with issuer's private key using RS256.
func (iss *RSAIssuer) SignRS256(header, payload map[string]interface{}) (string, error) {
	if header == nil {
		header = map[string]interface{}{}
	}
	header["alg"] = "RS256"
	header["typ"] = "JWT"
	header["kid"] = iss.KeyID

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	hashed := sha256Sum(signingInput)
	sig, err := rsa.SignPKCS1v15(rand.Reader, iss.PrivateKey, cryptoSHA256, hashed)
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// TamperSignature flips the last byte of a token's signature segment,
// producing a token that fails signature verification without touching
// its claims.
func TamperSignature(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return token
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(sig) == 0 {
		return token
	}
	sig[len(sig)-1] ^= 0xFF
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}
