package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestHashRefreshTokenHex_UsesHMACWhenKeySet(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	plain := HashRefreshTokenHex("tok")
	require.Equal(t, HashSHA256Hex("tok"), plain)
	require.Len(t, plain, 64)

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	keyed := HashRefreshTokenHex("tok")
	require.NotEqual(t, plain, keyed)
	require.Equal(t, HashHMACSHA256Hex("tok", []byte("0123456789abcdef0123456789abcdef")), keyed)
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "  ")
	_, err := HMACKeyFromEnv(32)
	require.ErrorIs(t, err, ErrHMACKeyMissing)

	t.Setenv(HMACEnvKey, "short")
	_, err = HMACKeyFromEnv(32)
	require.ErrorIs(t, err, ErrHMACKeyTooShort)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	require.Empty(t, Fingerprint(""))
	fp := Fingerprint("secret-token")
	require.Len(t, fp, fingerprintLen)
	require.Equal(t, fp, Fingerprint("secret-token"))
	require.NotContains(t, fp, "secret")
}

func TestExpiresAt(t *testing.T) {
	t.Parallel()

	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any-key-works-here"))
	require.NoError(t, err)

	got, ok := ExpiresAt(signed)
	require.True(t, ok)
	require.True(t, exp.Equal(got))

	_, ok = ExpiresAt("opaque-token")
	require.False(t, ok)
	_, ok = ExpiresAt("")
	require.False(t, ok)
}
