package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/christopherjohns/chatline/internal/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "chatline"

var (
	ErrInvalidToken = apperr.New(apperr.KindAuthentication, "INVALID_TOKEN", "missing or invalid identity token")
	ErrRevokedToken = apperr.New(apperr.KindAuthentication, "REVOKED_TOKEN", "identity token has been revoked")
)

// Claims is the payload carried inside an identity token.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity returns the user the token was issued to.
func (c *Claims) Identity() user.Identity {
	return user.Identity{ID: c.UserID, Username: c.Username}
}

// Verifier resolves an opaque token to the identity it was issued for.
type Verifier interface {
	Verify(token string) (user.Identity, error)
}

// Tokens issues and verifies HS256 identity tokens.
type Tokens struct {
	secret  []byte
	ttl     time.Duration
	revoked *Revocations
	now     func() time.Time
}

// NewTokens creates a token issuer/verifier. revoked may be nil.
func NewTokens(secret string, ttl time.Duration, revoked *Revocations) *Tokens {
	return &Tokens{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: revoked,
		now:     time.Now,
	}
}

// TTL is how long freshly issued tokens stay valid.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for id.
func (t *Tokens) Issue(id user.Identity) (string, error) {
	now := t.now()
	claims := &Claims{
		UserID:   id.ID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   id.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature, expiry and revocation state of token.
func (t *Tokens) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, apperr.Wrap(ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, apperr.Wrap(ErrInvalidToken, errors.New("incomplete claims"))
	}
	if t.revoked != nil && t.revoked.Revoked(claims.ID) {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// Verify implements Verifier.
func (t *Tokens) Verify(token string) (user.Identity, error) {
	claims, err := t.Parse(token)
	if err != nil {
		return user.Identity{}, err
	}
	return claims.Identity(), nil
}

// Revoke invalidates token until its natural expiry. Invalid tokens are ignored.
func (t *Tokens) Revoke(token string) {
	if t.revoked == nil {
		return
	}
	claims, err := t.Parse(token)
	if err != nil {
		return
	}
	t.revoked.Add(claims.ID, claims.ExpiresAt.Time)
}
