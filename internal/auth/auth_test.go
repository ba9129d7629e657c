package auth

import (
	"testing"
	"time"

	"github.com/christopherjohns/chatline/internal/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("secret", time.Hour, nil)

	token, err := tokens.Issue(user.Identity{ID: "u1", Username: "alice"})
	req.NoError(err)

	id, err := tokens.Verify(token)
	req.NoError(err)
	req.Equal("u1", id.ID)
	req.Equal("alice", id.Username)
}

func TestVerifyRejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour, nil)
	good, err := tokens.Issue(user.Identity{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	expired := NewTokens("secret", time.Hour, nil)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(user.Identity{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": mustIssue(t, NewTokens("other", time.Hour, nil)),
		"expired":      old,
		"alg none":     unsigned,
		"tampered":     good + "x",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Verify(tok)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRevokedTokenIsRejected(t *testing.T) {
	req := require.New(t)
	revs := NewRevocations(time.Minute)
	defer revs.Close()
	tokens := NewTokens("secret", time.Hour, revs)

	token := mustIssue(t, tokens)
	other := mustIssue(t, tokens)

	tokens.Revoke(token)

	_, err := tokens.Verify(token)
	req.ErrorIs(err, ErrRevokedToken)

	_, err = tokens.Verify(other)
	req.NoError(err, "revocation is per token, not per user")
}

func TestRevocationsReap(t *testing.T) {
	req := require.New(t)
	revs := NewRevocations(time.Hour)
	defer revs.Close()

	now := time.Now()
	revs.Add("past", now.Add(-time.Second))
	revs.Add("future", now.Add(time.Hour))
	revs.Add("", now.Add(time.Hour))
	req.Equal(2, revs.Count())

	revs.reap(now)
	req.False(revs.Revoked("past"))
	req.True(revs.Revoked("future"))
}

func TestPasswordHashing(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("hunter22")
	req.NoError(err)
	req.NotEqual("hunter22", hash)

	ok, err := ComparePassword("hunter22", hash)
	req.NoError(err)
	req.True(ok)

	ok, err = ComparePassword("wrong", hash)
	req.NoError(err)
	req.False(ok)
}

func TestValidateCredentials(t *testing.T) {
	require.NoError(t, ValidateCredentials(Credentials{Username: "alice", Password: "secret"}))
	require.Error(t, ValidateCredentials(Credentials{Username: "al", Password: "secret"}))
	require.Error(t, ValidateCredentials(Credentials{Username: "alice", Password: "123"}))
	require.Error(t, ValidateCredentials(Credentials{Username: "   ", Password: "secret"}))
}

func mustIssue(t *testing.T, tokens *Tokens) string {
	t.Helper()
	token, err := tokens.Issue(user.Identity{ID: "u1", Username: "alice"})
	require.NoError(t, err)
	return token
}
