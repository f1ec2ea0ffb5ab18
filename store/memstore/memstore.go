// Package memstore is an in-memory store.Store. It backs the engine
// tests and the runnable example; it is not meant for production use.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authcore/store"
)

// Store is a map-backed store.Store guarded by a single mutex.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*store.User          // id -> user
	accounts map[string]*store.LinkedAccount // provider:pid -> account
	codes    map[string]*store.Code          // purpose:email -> code
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[string]*store.User),
		accounts: make(map[string]*store.LinkedAccount),
		codes:    make(map[string]*store.Code),
	}
}

func cloneUser(u *store.User) *store.User {
	c := *u
	return &c
}

func cloneAccount(a *store.LinkedAccount) *store.LinkedAccount {
	c := *a
	return &c
}

func cloneCode(c *store.Code) *store.Code {
	cc := *c
	return &cc
}

// CreateUser stores u, assigning a UUID when the ID is empty.
func (s *Store) CreateUser(ctx context.Context, u *store.User) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if u.Email != "" && existing.Email == u.Email {
			return nil, store.ErrDuplicate
		}
		if u.Telephone != "" && existing.Telephone == u.Telephone {
			return nil, store.ErrDuplicate
		}
	}

	c := cloneUser(u)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.users[c.ID] = c
	return cloneUser(c), nil
}

// UserByID returns the user with the given id.
func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

// UserByEmail returns the user registered with email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

// UserByTelephone returns the user registered with telephone.
func (s *Store) UserByTelephone(ctx context.Context, telephone string) (*store.User, error) {
	if telephone == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Telephone == telephone {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

// UpdateUser applies patch to the stored user.
func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	if patch.Email != nil && *patch.Email != "" && *patch.Email != u.Email {
		for _, other := range s.users {
			if other.ID != id && other.Email == *patch.Email {
				return nil, store.ErrDuplicate
			}
		}
	}
	if patch.Telephone != nil && *patch.Telephone != "" && *patch.Telephone != u.Telephone {
		for _, other := range s.users {
			if other.ID != id && other.Telephone == *patch.Telephone {
				return nil, store.ErrDuplicate
			}
		}
	}

	if patch.FullName != nil {
		u.FullName = *patch.FullName
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.Telephone != nil {
		u.Telephone = *patch.Telephone
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.EmailVerifiedAt != nil {
		u.EmailVerifiedAt = patch.EmailVerifiedAt
	}
	if patch.PhoneVerifiedAt != nil {
		u.PhoneVerifiedAt = patch.PhoneVerifiedAt
	}
	if patch.IsTwoFactorEnabled != nil {
		u.IsTwoFactorEnabled = *patch.IsTwoFactorEnabled
	}
	if patch.RefreshTokenVersion != nil {
		u.RefreshTokenVersion = *patch.RefreshTokenVersion
	}

	return cloneUser(u), nil
}

func accountKey(provider, providerAccountID string) string {
	return provider + ":" + providerAccountID
}

// CreateLinkedAccount stores a federated binding.
func (s *Store) CreateLinkedAccount(ctx context.Context, a *store.LinkedAccount) (*store.LinkedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey(a.Provider, a.ProviderAccountID)
	if _, ok := s.accounts[key]; ok {
		return nil, store.ErrDuplicate
	}

	c := cloneAccount(a)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.accounts[key] = c
	return cloneAccount(c), nil
}

// LinkedAccountByProvider returns the binding for (provider, providerAccountID).
func (s *Store) LinkedAccountByProvider(ctx context.Context, provider, providerAccountID string) (*store.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAccount(a), nil
}

// LinkedAccountsByUser returns every binding owned by userID.
func (s *Store) LinkedAccountsByUser(ctx context.Context, userID string) ([]store.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.LinkedAccount
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func codeKey(purpose store.CodePurpose, email string) string {
	return string(purpose) + ":" + strings.ToLower(email)
}

// CreateCode stores c, replacing any live code for the same key.
func (s *Store) CreateCode(ctx context.Context, c *store.Code) (*store.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc := cloneCode(c)
	s.codes[codeKey(c.Purpose, c.Email)] = cc
	return cloneCode(cc), nil
}

// CodeByEmail returns the live code for (purpose, email).
func (s *Store) CodeByEmail(ctx context.Context, purpose store.CodePurpose, email string) (*store.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[codeKey(purpose, email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCode(c), nil
}

// CodeByValue returns the code with the given value.
func (s *Store) CodeByValue(ctx context.Context, purpose store.CodePurpose, value string) (*store.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.codes {
		if c.Purpose == purpose && c.Value == value {
			return cloneCode(c), nil
		}
	}
	return nil, store.ErrNotFound
}

// DeleteCode removes the code for (purpose, email).
func (s *Store) DeleteCode(ctx context.Context, purpose store.CodePurpose, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, codeKey(purpose, email))
	return nil
}

var _ store.Store = (*Store)(nil)
