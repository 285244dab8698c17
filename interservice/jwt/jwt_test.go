//go:build unit

package jwt

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("shared-service-secret")

func TestSignAndParse(t *testing.T) {
	t.Parallel()

	claims := Claims{
		"service": "payments",
		"iat":     float64(1748779200),
		"exp":     float64(1748779260),
	}

	tokenString, err := Sign(claims, testSecret)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(tokenString, ".")+1, "compact serialization has three parts")

	token, err := Parse(tokenString, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "payments", token.Claims["service"])
	assert.Equal(t, Alg, token.Header["alg"])
	assert.Equal(t, "JWT", token.Header["typ"])
}

func TestParse_WrongSecret(t *testing.T) {
	t.Parallel()

	tokenString, err := Sign(Claims{"service": "ledger"}, testSecret)
	require.NoError(t, err)

	_, err = Parse(tokenString, []byte("a-different-secret"))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestParse_TamperedPayload(t *testing.T) {
	t.Parallel()

	tokenString, err := Sign(Claims{"service": "ledger"}, testSecret)
	require.NoError(t, err)

	parts := strings.Split(tokenString, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"service":"admin"}`))

	_, err = Parse(parts[0]+"."+forged+"."+parts[2], testSecret)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one part", "abc"},
		{"two parts", "abc.def"},
		{"four parts", "a.b.c.d"},
		{"bad header encoding", "!!!.payload.sig"},
		{"oversized", strings.Repeat("a", maxTokenLength+1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tc.token, testSecret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestParse_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	// A header claiming "none" must be rejected before any signature check.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"service":"ledger"}`))

	_, err := Parse(header+"."+payload+".", testSecret)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	header = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))

	_, err = Parse(header+"."+payload+".sig", testSecret)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestValidateTimeClaimsAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid window", func(t *testing.T) {
		t.Parallel()

		claims := Claims{
			"iat": float64(now.Add(-30 * time.Second).Unix()),
			"exp": float64(now.Add(30 * time.Second).Unix()),
		}
		assert.NoError(t, ValidateTimeClaimsAt(claims, now))
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()

		claims := Claims{"exp": float64(now.Add(-time.Second).Unix())}
		assert.ErrorIs(t, ValidateTimeClaimsAt(claims, now), ErrTokenExpired)
	})

	t.Run("issued in the future", func(t *testing.T) {
		t.Parallel()

		claims := Claims{"iat": float64(now.Add(time.Minute).Unix())}
		assert.ErrorIs(t, ValidateTimeClaimsAt(claims, now), ErrTokenIssuedInFuture)
	})

	t.Run("absent claims are skipped", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, ValidateTimeClaimsAt(Claims{"service": "x"}, now))
	})

	t.Run("non-numeric claim is ignored", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, ValidateTimeClaimsAt(Claims{"exp": "soon"}, now))
	})
}
