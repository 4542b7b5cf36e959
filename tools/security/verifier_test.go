package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"PPRelay/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("relay-test-secret")
	ctx        = context.Background()
)

func TestVerifierHS256(t *testing.T) {
	opts := DefaultOptions(testSecret)
	token, _, err := Generate(opts, "u1", map[string]any{
		"given_name":  "Ada",
		"family_name": "Lovelace",
		"username":    "ada",
		"image_url":   "https://img/ada.png",
	})
	require.NoError(t, err)

	id, err := NewVerifier(opts).Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "Ada Lovelace", id.DisplayName)
	assert.Equal(t, "ada", id.Username)
	assert.Equal(t, "https://img/ada.png", id.AvatarURL)
}

func TestVerifierRejects(t *testing.T) {
	opts := DefaultOptions(testSecret)
	v := NewVerifier(opts)

	_, err := v.Verify(ctx, "")
	assert.True(t, errs.Is(err, errs.ErrAuth))

	_, err = v.Verify(ctx, "not-a-jwt")
	assert.True(t, errs.Is(err, errs.ErrAuth))

	other := DefaultOptions([]byte("another-secret"))
	token, _, err := Generate(other, "u1", nil)
	require.NoError(t, err)
	_, err = v.Verify(ctx, token)
	assert.True(t, errs.Is(err, errs.ErrAuth))

	expired := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := expired.SignedString(testSecret)
	require.NoError(t, err)
	_, err = v.Verify(ctx, signed)
	assert.True(t, errs.Is(err, errs.ErrAuth))

	noSub := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err = noSub.SignedString(testSecret)
	require.NoError(t, err)
	_, err = v.Verify(ctx, signed)
	assert.True(t, errs.Is(err, errs.ErrAuth))
}

func TestVerifierRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	opts, err := RS256Options(pemBytes)
	require.NoError(t, err)

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{
		"sub":                "u2",
		"name":               "Grace",
		"preferred_username": "grace",
		"picture":            "https://img/grace.png",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	id, err := NewVerifier(opts).Verify(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.ID)
	assert.Equal(t, "Grace", id.DisplayName)
	assert.Equal(t, "grace", id.Username)
	assert.Equal(t, "https://img/grace.png", id.AvatarURL)

	// HMAC token must not pass an RS256 verifier
	hs, _, err := Generate(DefaultOptions(testSecret), "u2", nil)
	require.NoError(t, err)
	_, err = NewVerifier(opts).Verify(ctx, hs)
	assert.Error(t, err)
}

func TestIdentityFallsBackToUsername(t *testing.T) {
	c := &JWTClaims{jwtlib.MapClaims{"sub": "u3", "username": "carol"}}
	id := IdentityFromClaims(c)
	assert.Equal(t, "carol", id.DisplayName)
}
