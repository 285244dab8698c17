// Package auth issues and verifies the short-lived service tokens that
// identify callers on inter-service requests.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice/jwt"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = time.Minute

	// cacheSize bounds the issuer cache. One entry per calling identity;
	// most processes issue for exactly one.
	cacheSize = 128
)

var (
	// ErrMissingSecret indicates token signing was requested without a shared secret.
	ErrMissingSecret = errors.New("service token secret is not configured")
	// ErrMissingService indicates a token was requested for an empty service identity.
	ErrMissingService = errors.New("service identity is empty")
	// ErrInvalidServiceClaim indicates a verified token carries no usable service claim.
	ErrInvalidServiceClaim = errors.New("token has no service claim")
)

// Config holds service token settings.
type Config struct {
	// Enabled switches token issuance on. When false, Issuer.Token returns
	// an empty string and no header should be attached.
	Enabled bool
	// Secret is the HMAC secret shared across services.
	Secret string
	// TTL is the token lifetime. Zero means DefaultTTL.
	TTL time.Duration
}

// Claims is the decoded identity carried by a verified service token.
type Claims struct {
	Service   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Issuer mints signed service tokens and caches them until they near
// expiry, so the signing cost is paid roughly once per TTL rather than per
// request. Safe for concurrent use.
type Issuer struct {
	config Config
	now    func() time.Time

	mu    sync.Mutex
	cache *lru.Cache[string, cachedToken]
}

// NewIssuer creates an Issuer. It fails only when tokens are enabled
// without a secret.
func NewIssuer(config Config) (*Issuer, error) {
	if config.Enabled && config.Secret == "" {
		return nil, ErrMissingSecret
	}

	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}

	cache, err := lru.New[string, cachedToken](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}

	return &Issuer{
		config: config,
		now:    time.Now,
		cache:  cache,
	}, nil
}

// Token returns a valid signed token identifying service, reusing the
// cached one while at least a quarter of its lifetime remains. It returns
// "" with no error when issuance is disabled.
func (i *Issuer) Token(service string) (string, error) {
	if !i.config.Enabled {
		return "", nil
	}

	if service == "" {
		return "", ErrMissingService
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()

	if cached, ok := i.cache.Get(service); ok {
		if cached.expiresAt.Sub(now) > i.config.TTL/4 {
			return cached.value, nil
		}
	}

	expiresAt := now.Add(i.config.TTL)

	value, err := jwt.Sign(jwt.Claims{
		"service": service,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}, []byte(i.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}

	i.cache.Add(service, cachedToken{value: value, expiresAt: expiresAt})

	return value, nil
}

// Invalidate drops the cached token for service, forcing the next Token
// call to sign a fresh one.
func (i *Issuer) Invalidate(service string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.cache.Remove(service)
}

// Purge drops every cached token.
func (i *Issuer) Purge() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.cache.Purge()
}

// Verify checks tokenString's signature and time claims against secret and
// returns the caller identity it carries.
func Verify(tokenString, secret string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, []byte(secret))
	if err != nil {
		return nil, err
	}

	if err := jwt.ValidateTimeClaims(token.Claims); err != nil {
		return nil, err
	}

	service, ok := token.Claims["service"].(string)
	if !ok || service == "" {
		return nil, ErrInvalidServiceClaim
	}

	claims := &Claims{Service: service}

	if iat, ok := token.Claims["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}

	if exp, ok := token.Claims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}

	return claims, nil
}
