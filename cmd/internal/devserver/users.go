package devserver

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	authapi "inframon/cmd/internal/auth/api"
	"inframon/cmd/security/password"
)

var (
	errUserExists   = errors.New("devserver: user already exists")
	errUserNotFound = errors.New("devserver: user not found")
)

type account struct {
	id        int64
	username  string
	email     string
	hash      string
	active    bool
	superuser bool
	createdAt time.Time
	updatedAt time.Time
}

func (a account) public() authapi.User {
	return authapi.User{
		ID:          authapi.UserID(strconv.FormatInt(a.id, 10)),
		Username:    a.username,
		Email:       a.email,
		IsActive:    a.active,
		IsSuperuser: a.superuser,
		CreatedAt:   a.createdAt,
		UpdatedAt:   a.updatedAt,
	}
}

// userStore is the in-memory account table. Lookups by username or email
// are case-insensitive.
type userStore struct {
	pw password.Config

	mu     sync.RWMutex
	nextID int64
	byID   map[int64]account
	byName map[string]int64
}

func newUserStore(pw password.Config) *userStore {
	return &userStore{
		pw:     pw,
		nextID: 1,
		byID:   make(map[int64]account),
		byName: make(map[string]int64),
	}
}

func (s *userStore) add(username, email, plain string, superuser bool, now time.Time) (account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return account{}, errors.New("devserver: username is required")
	}

	// Hash outside the lock; Argon2id is slow on purpose.
	hash, err := s.pw.Hash(plain)
	if err != nil {
		return account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[strings.ToLower(username)]; ok {
		return account{}, errUserExists
	}
	if email != "" {
		if _, ok := s.byName[strings.ToLower(email)]; ok {
			return account{}, errUserExists
		}
	}

	a := account{
		id:        s.nextID,
		username:  username,
		email:     email,
		hash:      hash,
		active:    true,
		superuser: superuser,
		createdAt: now.UTC(),
		updatedAt: now.UTC(),
	}
	s.nextID++
	s.byID[a.id] = a
	s.byName[strings.ToLower(username)] = a.id
	if email != "" {
		s.byName[strings.ToLower(email)] = a.id
	}
	return a, nil
}

func (s *userStore) lookup(identifier string) (account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[strings.ToLower(strings.TrimSpace(identifier))]
	if !ok {
		return account{}, false
	}
	a, ok := s.byID[id]
	return a, ok
}

func (s *userStore) get(id int64) (account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

func (s *userStore) setActive(id int64, active bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return errUserNotFound
	}
	a.active = active
	a.updatedAt = now.UTC()
	s.byID[id] = a
	return nil
}
