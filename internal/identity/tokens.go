package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers expired, malformed and mis-signed bearer tokens.
var ErrInvalidToken = errors.New("invalid token")

// Tokens mints and verifies the HS256 bearer tokens the service surface
// uses to identify callers after authentication.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokens creates a token minter. The signing secret must be at least
// 32 bytes for HMAC-SHA256.
func NewTokens(secret []byte, issuer string, ttl time.Duration) (*Tokens, error) {
	if len(secret) < 32 {
		return nil, errors.New("token signing secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("token TTL must be positive")
	}

	return &Tokens{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
	}, nil
}

// Mint issues a signed token for a user.
func (t *Tokens) Mint(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify parses a token and returns the user ID it was minted for.
func (t *Tokens) Verify(tokenStr string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	return userID, nil
}
