package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.NoError(t, h.Compare(hash, "s3cret"))
	assert.Error(t, h.Compare(hash, "nope"))

	_, err = h.Hash("")
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Minute)
	token, err := svc.GenerateToken("ops", "admin")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = NewTokenService("other", time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenRejectsExpiredAndUnsigned(t *testing.T) {
	svc := NewTokenService("secret", time.Minute)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(none)
	assert.Error(t, err)

	_, err = NewTokenService("", 0).GenerateToken("ops", "")
	assert.Error(t, err)
}
