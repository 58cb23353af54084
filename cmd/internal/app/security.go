package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"inframon/cmd/security/token"
)

var errInsecureAPI = errors.New("security policy: api_url must use https for non-loopback hosts (set INFRAMON_ALLOW_INSECURE=true to override)")

// ValidateSecurityConfig enforces the client's transport policy at startup.
// Credentials are bearer tokens, so sending them in clear text to anything
// but the local machine is refused unless explicitly allowed.
func ValidateSecurityConfig(cfg Config) error {
	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return fmt.Errorf("security policy: api_url: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !cfg.AllowInsecure && !isLoopback(u.Hostname()) {
			return errInsecureAPI
		}
	default:
		return fmt.Errorf("security policy: api_url scheme %q not supported", u.Scheme)
	}
	return nil
}

// ValidateServerSecurity applies the dev server's token hashing policy.
func ValidateServerSecurity(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}
	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("security policy: INFRAMON_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: INFRAMON_REQUIRE_TOKEN_HMAC=true but %s is too short (min 32 bytes)", token.HMACEnvKey)
		default:
			return err
		}
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
