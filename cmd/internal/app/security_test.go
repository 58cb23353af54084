package app

import (
	"strings"
	"testing"

	"inframon/cmd/security/token"

	"github.com/stretchr/testify/require"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url      string
		insecure bool
		wantErr  bool
	}{
		{url: "https://mon.example.com/api/v1"},
		{url: "http://127.0.0.1:8065/api/v1"},
		{url: "http://localhost:8065/api/v1"},
		{url: "http://[::1]:8065/api/v1"},
		{url: "http://mon.example.com/api/v1", wantErr: true},
		{url: "http://mon.example.com/api/v1", insecure: true},
		{url: "ftp://mon.example.com", wantErr: true},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.APIURL = tc.url
		cfg.AllowInsecure = tc.insecure
		err := ValidateSecurityConfig(cfg)
		if tc.wantErr {
			require.Error(t, err, tc.url)
		} else {
			require.NoError(t, err, tc.url)
		}
	}
}

func TestValidateServerSecurity(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ValidateServerSecurity(cfg))

	cfg.RequireTokenHMAC = true
	t.Setenv(token.HMACEnvKey, "")
	require.ErrorContains(t, ValidateServerSecurity(cfg), "missing")

	t.Setenv(token.HMACEnvKey, "short")
	require.ErrorContains(t, ValidateServerSecurity(cfg), "too short")

	t.Setenv(token.HMACEnvKey, strings.Repeat("s", 32))
	require.NoError(t, ValidateServerSecurity(cfg))
}
