// Package credstore persists the client's credential set: the access
// credential, the renewal credential and the serialized identity record.
//
// Stores are dumb key/value persistence. All session logic lives in the
// session manager, which is the only writer.
package credstore

import (
	"context"
	"errors"
)

// Persisted keys. Every store writes and clears all three together.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

var (
	// ErrNotConfigured is returned by a nil or closed store.
	ErrNotConfigured = errors.New("credstore: storage is not configured")
	// ErrProfileRequired is returned when a store is opened without a profile name.
	ErrProfileRequired = errors.New("credstore: profile is required")
)

// Credentials is the persisted credential set.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	// User is the identity record as JSON.
	User []byte
}

// Empty reports whether nothing is stored.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && len(c.User) == 0
}

// Store persists Credentials.
type Store interface {
	// Load returns the persisted set. The bool is false when nothing is stored.
	Load(ctx context.Context) (Credentials, bool, error)
	// Save replaces all keys in one atomic write.
	Save(ctx context.Context, c Credentials) error
	// Clear removes all keys in one atomic write.
	Clear(ctx context.Context) error
	Close() error
}

func toMap(c Credentials) map[string]string {
	return map[string]string{
		KeyAccessToken:  c.AccessToken,
		KeyRefreshToken: c.RefreshToken,
		KeyUser:         string(c.User),
	}
}

func fromMap(m map[string]string) (Credentials, bool) {
	c := Credentials{
		AccessToken:  m[KeyAccessToken],
		RefreshToken: m[KeyRefreshToken],
	}
	if u := m[KeyUser]; u != "" {
		c.User = []byte(u)
	}
	return c, !c.Empty()
}
