package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// cheap keeps Argon2id fast in tests.
func cheap() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()
	cfg := cheap()

	h, err := cfg.Hash("correct horse battery")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$"))

	ok, err := cfg.Verify(h, "correct horse battery")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cfg.Verify(h, "wrong horse battery")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_RejectsMalformedHashes(t *testing.T) {
	t.Parallel()
	cfg := cheap()

	for _, enc := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1,x=2$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5a2V5a2V5a2V5a2V5",
	} {
		_, err := cfg.Verify(enc, "pw")
		require.ErrorIs(t, err, ErrInvalidHash, enc)
	}
}

func TestVerify_RefusesExpensiveHash(t *testing.T) {
	t.Parallel()
	cfg := cheap()

	enc := "$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5"
	_, err := cfg.Verify(enc, "pw")
	require.ErrorIs(t, err, ErrInvalidHash)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16
	cfg.Policy.RejectVeryWeak = true

	tests := []struct {
		pw   string
		want error
	}{
		{"short", ErrPasswordTooShort},
		{"this password is far too long", ErrPasswordTooLong},
		{"aaaaaaaaaa", ErrWeakPassword},
		{"12345678901", ErrWeakPassword},
		{"Password123", ErrWeakPassword},
		{"tolerable-pass", nil},
	}
	for _, tt := range tests {
		require.ErrorIs(t, cfg.Validate(tt.pw), tt.want, tt.pw)
	}
}
