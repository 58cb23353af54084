package devserver

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"inframon/cmd/identity/ids"
	"inframon/cmd/security/token"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errTokenInvalid   = errors.New("devserver: invalid access token")
	errRefreshInvalid = errors.New("devserver: invalid refresh token")
	errRefreshReused  = errors.New("devserver: refresh token reuse detected")
	errRefreshExpired = errors.New("devserver: refresh token expired")
)

// accessClaims carries the user id twice: as the standard subject and as
// the numeric user_id the production backend reads.
type accessClaims struct {
	UserID    int64  `json:"user_id"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

func (ti tokenIssuer) issue(userID int64, sid string, now time.Time) (string, error) {
	claims := accessClaims{
		UserID:    userID,
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
}

func (ti tokenIssuer) parse(raw string, now time.Time) (accessClaims, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return ti.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return accessClaims{}, fmt.Errorf("%w: %w", errTokenInvalid, err)
	}
	if claims.UserID <= 0 || claims.SessionID == "" {
		return accessClaims{}, errTokenInvalid
	}
	return claims, nil
}

type refreshSession struct {
	id        string
	userID    int64
	hash      string
	expiresAt time.Time
	revoked   bool
}

// sessionStore keeps refresh sessions keyed by the hash of the current
// refresh token. Retired hashes are remembered so that replaying a rotated
// token revokes the whole session.
type sessionStore struct {
	mu      sync.Mutex
	byID    map[string]*refreshSession
	current map[string]string
	retired map[string]string
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		byID:    make(map[string]*refreshSession),
		current: make(map[string]string),
		retired: make(map[string]string),
	}
}

func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *sessionStore) create(userID int64, now time.Time, ttl time.Duration) (string, string, error) {
	sid, err := ids.NewULID(now)
	if err != nil {
		return "", "", err
	}
	raw, err := newRefreshToken()
	if err != nil {
		return "", "", err
	}

	rs := &refreshSession{
		id:        sid,
		userID:    userID,
		hash:      token.HashRefreshTokenHex(raw),
		expiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sid] = rs
	s.current[rs.hash] = sid
	return sid, raw, nil
}

// use validates a refresh token. With rotate set the token is retired and
// a replacement returned; otherwise the returned token is empty.
func (s *sessionStore) use(raw string, now time.Time, rotate bool) (refreshSession, string, error) {
	h := token.HashRefreshTokenHex(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sid, ok := s.retired[h]; ok {
		if rs, ok := s.byID[sid]; ok {
			rs.revoked = true
		}
		return refreshSession{}, "", errRefreshReused
	}

	sid, ok := s.current[h]
	if !ok {
		return refreshSession{}, "", errRefreshInvalid
	}
	rs := s.byID[sid]
	if rs == nil || rs.revoked || !token.Equal(rs.hash, h) {
		return refreshSession{}, "", errRefreshInvalid
	}
	if !now.Before(rs.expiresAt) {
		return refreshSession{}, "", errRefreshExpired
	}
	if !rotate {
		return *rs, "", nil
	}

	next, err := newRefreshToken()
	if err != nil {
		return refreshSession{}, "", err
	}
	delete(s.current, h)
	s.retired[h] = sid
	rs.hash = token.HashRefreshTokenHex(next)
	s.current[rs.hash] = sid
	return *rs, next, nil
}

func (s *sessionStore) active(sid string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.byID[sid]
	return ok && !rs.revoked && now.Before(rs.expiresAt)
}

func (s *sessionStore) revoke(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.byID[sid]
	if !ok || rs.revoked {
		return false
	}
	rs.revoked = true
	delete(s.current, rs.hash)
	return true
}

func (s *sessionStore) revokeUser(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rs := range s.byID {
		if rs.userID == userID && !rs.revoked {
			rs.revoked = true
			delete(s.current, rs.hash)
			n++
		}
	}
	return n
}
