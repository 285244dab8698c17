// Package jwt implements the compact HS256 tokens exchanged between
// services. Tokens are short-lived and signed with a shared secret; no
// other algorithm is accepted, which also closes the alg-substitution
// class of attacks.
package jwt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Alg is the only signing algorithm service tokens use.
const Alg = "HS256"

const (
	// partCount is header.payload.signature.
	partCount = 3

	// maxTokenLength bounds what Parse will even look at. Service tokens
	// carry three small claims; anything near this limit is garbage.
	maxTokenLength = 4096
)

// Claims is the decoded token payload.
type Claims = map[string]any

// Token is a parsed, signature-verified service token.
type Token struct {
	Claims Claims
	Header map[string]any
}

var (
	// ErrInvalidToken indicates the token string is malformed or cannot be decoded.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnsupportedAlgorithm indicates the token header names an algorithm other than HS256.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	// ErrSignatureInvalid indicates the HMAC signature does not match.
	ErrSignatureInvalid = errors.New("signature verification failed")
	// ErrTokenExpired indicates the exp claim is in the past.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenIssuedInFuture indicates the iat claim is in the future.
	ErrTokenIssuedInFuture = errors.New("token issued in the future")
)

// Sign produces a compact HS256 serialization of claims.
func Sign(claims Claims, secret []byte) (string, error) {
	header := map[string]string{"alg": Alg, "typ": "JWT"}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	sig := computeHMAC([]byte(signingInput), secret)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Parse decodes tokenString and verifies its HS256 signature against secret
// using a constant-time comparison. It does not validate time claims;
// callers follow up with ValidateTimeClaims.
func Parse(tokenString string, secret []byte) (*Token, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("empty token string: %w", ErrInvalidToken)
	}

	if len(tokenString) > maxTokenLength {
		return nil, fmt.Errorf("token exceeds %d bytes: %w", maxTokenLength, ErrInvalidToken)
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != partCount {
		return nil, fmt.Errorf("token must have %d parts: %w", partCount, ErrInvalidToken)
	}

	header, err := parseHeader(parts[0])
	if err != nil {
		return nil, err
	}

	if err := verifySignature(parts, secret); err != nil {
		return nil, err
	}

	claims, err := parseClaims(parts[1])
	if err != nil {
		return nil, err
	}

	return &Token{Claims: claims, Header: header}, nil
}

func parseHeader(headerPart string) (map[string]any, error) {
	headerBytes, err := base64.RawURLEncoding.DecodeString(headerPart)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", ErrInvalidToken)
	}

	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", ErrInvalidToken)
	}

	alg, ok := header["alg"].(string)
	if !ok || alg == "" {
		return nil, fmt.Errorf("missing alg in header: %w", ErrInvalidToken)
	}

	if alg != Alg {
		return nil, fmt.Errorf("algorithm %q: %w", alg, ErrUnsupportedAlgorithm)
	}

	return header, nil
}

func verifySignature(parts []string, secret []byte) error {
	expected := computeHMAC([]byte(parts[0]+"."+parts[1]), secret)

	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("decode signature: %w", ErrInvalidToken)
	}

	if !hmac.Equal(expected, actual) {
		return ErrSignatureInvalid
	}

	return nil
}

func parseClaims(payloadPart string) (Claims, error) {
	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", ErrInvalidToken)
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", ErrInvalidToken)
	}

	return claims, nil
}

func computeHMAC(data, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)

	return mac.Sum(nil)
}

// ValidateTimeClaimsAt checks exp and iat against now. Absent claims skip
// their check.
func ValidateTimeClaimsAt(claims Claims, now time.Time) error {
	if exp, ok := claimTime(claims, "exp"); ok && now.After(exp) {
		return fmt.Errorf("token expired at %s: %w", exp.Format(time.RFC3339), ErrTokenExpired)
	}

	if iat, ok := claimTime(claims, "iat"); ok && now.Before(iat) {
		return fmt.Errorf("token issued at %s: %w", iat.Format(time.RFC3339), ErrTokenIssuedInFuture)
	}

	return nil
}

// ValidateTimeClaims checks exp and iat against the current UTC time.
func ValidateTimeClaims(claims Claims) error {
	return ValidateTimeClaimsAt(claims, time.Now().UTC())
}

// claimTime reads a Unix-seconds claim. encoding/json decodes numbers as
// float64; json.Number is handled for decoders configured with UseNumber.
func claimTime(claims Claims, key string) (time.Time, bool) {
	raw, exists := claims[key]
	if !exists {
		return time.Time{}, false
	}

	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}

		return time.Unix(int64(f), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
