// Package token provides token primitives shared by the client and the dev
// auth server.
//
//   - Refresh tokens are stored server-side only as a digest:
//     SHA-256(token), or HMAC-SHA256(token, key) when INFRAMON_TOKEN_HMAC_KEY is set.
//   - Fingerprint gives a short, non-reversible tag for logs.
//   - ExpiresAt reads the exp claim of a JWT access credential for display.
//     It does not verify the signature.
package token
