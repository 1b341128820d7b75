package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"shalomjobs.org/internal/kv"
)

const (
	issuer          = "shalomjobs"
	secretKey       = "auth_secret"
	DefaultTokenTTL = 24 * time.Hour
)

// Claims is the signed session payload: the public account fields plus
// the registered claims (iat, exp, jti).
type Claims struct {
	Account
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 session tokens. The signing secret never
// leaves the server.
type Codec struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	secret []byte
}

// NewCodec builds a Codec. An empty secret is generated on first use and
// persisted in store.
func NewCodec(store kv.Store, secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	c := &Codec{store: store, ttl: ttl, now: time.Now}
	if s := strings.TrimSpace(secret); s != "" {
		c.secret = []byte(s)
	}
	return c
}

func (c *Codec) loadSecret(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secret != nil {
		return c.secret, nil
	}

	raw, err := c.store.Get(ctx, secretKey)
	switch {
	case err == nil && len(raw) > 0:
		c.secret = raw
		return c.secret, nil
	case err != nil && !errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("auth: load secret: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("auth: generate secret: %w", err)
	}
	secret := []byte(hex.EncodeToString(buf))
	if err := c.store.Set(ctx, secretKey, secret); err != nil {
		return nil, fmt.Errorf("auth: persist secret: %w", err)
	}
	c.secret = secret
	return c.secret, nil
}

// Issue signs a token for acc.
func (c *Codec) Issue(ctx context.Context, acc Account) (string, *Claims, error) {
	if strings.TrimSpace(acc.ID) == "" {
		return "", nil, errors.New("auth: account id is required")
	}
	secret, err := c.loadSecret(ctx)
	if err != nil {
		return "", nil, err
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := &Claims{
		Account: acc.Public(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   acc.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies token and returns its claims. Every failure wraps
// ErrInvalidToken; a bad signature is ErrTokenTampered.
func (c *Codec) Parse(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secret, err := c.loadSecret(ctx)
	if err != nil {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrTokenTampered
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.Subject != claims.Account.ID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify reports whether token is well formed, correctly signed and unexpired.
func (c *Codec) Verify(ctx context.Context, token string) bool {
	_, err := c.Parse(ctx, token)
	return err == nil
}
