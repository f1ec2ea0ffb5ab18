// Package redisstore persists authcore records in Redis.
//
// Records are JSON-encoded under short prefixed keys, with plain
// index keys for the secondary lookups (email, telephone, code
// value). Code records carry a Redis TTL matching their expiry, so
// stale codes vanish without a sweeper.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veltrix/authcore/store"
)

const keyPrefix = "ac"

// Store implements store.Store on a go-redis client.
type Store struct {
	rdb *redis.Client
}

var _ store.Store = (*Store)(nil)

// New wraps client. The client's lifecycle stays with the caller.
func New(client *redis.Client) *Store {
	return &Store{rdb: client}
}

func userKey(id string) string        { return keyPrefix + ":user:" + id }
func emailKey(email string) string    { return keyPrefix + ":user:email:" + email }
func telKey(tel string) string        { return keyPrefix + ":user:tel:" + tel }
func acctKey(p, pid string) string    { return keyPrefix + ":acct:" + p + ":" + pid }
func acctUserKey(userID string) string { return keyPrefix + ":acct:user:" + userID }

func codeKey(p store.CodePurpose, email string) string {
	return keyPrefix + ":code:" + string(p) + ":" + email
}

func codeValKey(p store.CodePurpose, value string) string {
	return keyPrefix + ":codeval:" + string(p) + ":" + value
}

func wrap(err error) error {
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	return fmt.Errorf("redisstore: %w", err)
}

// CreateUser persists u under a fresh ID and claims the email and
// telephone index keys. A claim that fails means another account holds
// the address and the write is rolled back.
func (s *Store) CreateUser(ctx context.Context, u *store.User) (*store.User, error) {
	stored := *u
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	var claimed []string
	release := func() {
		if len(claimed) > 0 {
			s.rdb.Del(context.WithoutCancel(ctx), claimed...)
		}
	}

	for _, idx := range userIndexKeys(&stored) {
		ok, err := s.rdb.SetNX(ctx, idx, stored.ID, 0).Result()
		if err != nil {
			release()
			return nil, wrap(err)
		}
		if !ok {
			release()
			return nil, store.ErrDuplicate
		}
		claimed = append(claimed, idx)
	}

	if err := s.setJSON(ctx, userKey(stored.ID), &stored, 0); err != nil {
		release()
		return nil, err
	}
	return &stored, nil
}

func userIndexKeys(u *store.User) []string {
	var keys []string
	if u.Email != "" {
		keys = append(keys, emailKey(u.Email))
	}
	if u.Telephone != "" {
		keys = append(keys, telKey(u.Telephone))
	}
	return keys
}

func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	if err := s.getJSON(ctx, userKey(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.userByIndex(ctx, emailKey(email))
}

func (s *Store) UserByTelephone(ctx context.Context, telephone string) (*store.User, error) {
	return s.userByIndex(ctx, telKey(telephone))
}

func (s *Store) userByIndex(ctx context.Context, indexKey string) (*store.User, error) {
	id, err := s.rdb.Get(ctx, indexKey).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return s.UserByID(ctx, id)
}

// UpdateUser applies the non-nil fields of patch. Address changes
// claim the new index key before touching the record, so a lost race
// surfaces as ErrDuplicate rather than a stolen index.
func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	u, err := s.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Email != nil && *patch.Email != u.Email {
		if err := s.moveIndex(ctx, indexMove{
			old: u.Email, oldKey: emailKey(u.Email),
			new: *patch.Email, newKey: emailKey(*patch.Email),
			id: id,
		}); err != nil {
			return nil, err
		}
		u.Email = *patch.Email
	}
	if patch.Telephone != nil && *patch.Telephone != u.Telephone {
		if err := s.moveIndex(ctx, indexMove{
			old: u.Telephone, oldKey: telKey(u.Telephone),
			new: *patch.Telephone, newKey: telKey(*patch.Telephone),
			id: id,
		}); err != nil {
			return nil, err
		}
		u.Telephone = *patch.Telephone
	}

	if patch.FullName != nil {
		u.FullName = *patch.FullName
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.EmailVerifiedAt != nil {
		t := *patch.EmailVerifiedAt
		u.EmailVerifiedAt = &t
	}
	if patch.PhoneVerifiedAt != nil {
		t := *patch.PhoneVerifiedAt
		u.PhoneVerifiedAt = &t
	}
	if patch.IsTwoFactorEnabled != nil {
		u.IsTwoFactorEnabled = *patch.IsTwoFactorEnabled
	}
	if patch.RefreshTokenVersion != nil {
		u.RefreshTokenVersion = *patch.RefreshTokenVersion
	}

	if err := s.setJSON(ctx, userKey(id), u, 0); err != nil {
		return nil, err
	}
	return u, nil
}

type indexMove struct {
	old, oldKey string
	new, newKey string
	id          string
}

func (s *Store) moveIndex(ctx context.Context, m indexMove) error {
	if m.new != "" {
		ok, err := s.rdb.SetNX(ctx, m.newKey, m.id, 0).Result()
		if err != nil {
			return wrap(err)
		}
		if !ok {
			return store.ErrDuplicate
		}
	}
	if m.old != "" {
		if err := s.rdb.Del(ctx, m.oldKey).Err(); err != nil {
			return wrap(err)
		}
	}
	return nil
}

func (s *Store) CreateLinkedAccount(ctx context.Context, a *store.LinkedAccount) (*store.LinkedAccount, error) {
	stored := *a
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	key := acctKey(stored.Provider, stored.ProviderAccountID)
	encoded, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("redisstore: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, key, encoded, 0).Result()
	if err != nil {
		return nil, wrap(err)
	}
	if !ok {
		return nil, store.ErrDuplicate
	}
	if err := s.rdb.SAdd(ctx, acctUserKey(stored.UserID), key).Err(); err != nil {
		return nil, wrap(err)
	}
	return &stored, nil
}

func (s *Store) LinkedAccountByProvider(ctx context.Context, provider, providerAccountID string) (*store.LinkedAccount, error) {
	var a store.LinkedAccount
	if err := s.getJSON(ctx, acctKey(provider, providerAccountID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) LinkedAccountsByUser(ctx context.Context, userID string) ([]store.LinkedAccount, error) {
	keys, err := s.rdb.SMembers(ctx, acctUserKey(userID)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	accounts := make([]store.LinkedAccount, 0, len(keys))
	for _, key := range keys {
		var a store.LinkedAccount
		if err := s.getJSON(ctx, key, &a); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// CreateCode replaces any live code for the same (purpose, email). The
// record and its value index share the code's remaining lifetime as a
// Redis TTL.
func (s *Store) CreateCode(ctx context.Context, c *store.Code) (*store.Code, error) {
	if err := s.DeleteCode(ctx, c.Purpose, c.Email); err != nil {
		return nil, err
	}

	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	stored := *c
	if err := s.setJSON(ctx, codeKey(c.Purpose, c.Email), &stored, ttl); err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, codeValKey(c.Purpose, c.Value), c.Email, ttl).Err(); err != nil {
		return nil, wrap(err)
	}
	return &stored, nil
}

func (s *Store) CodeByEmail(ctx context.Context, purpose store.CodePurpose, email string) (*store.Code, error) {
	var c store.Code
	if err := s.getJSON(ctx, codeKey(purpose, email), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CodeByValue(ctx context.Context, purpose store.CodePurpose, value string) (*store.Code, error) {
	email, err := s.rdb.Get(ctx, codeValKey(purpose, value)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	c, err := s.CodeByEmail(ctx, purpose, email)
	if err != nil {
		return nil, err
	}
	// The value index can outlive a replaced record by a hair; only a
	// matching value counts.
	if c.Value != value {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) DeleteCode(ctx context.Context, purpose store.CodePurpose, email string) error {
	existing, err := s.CodeByEmail(ctx, purpose, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.rdb.Del(ctx, codeKey(purpose, email), codeValKey(purpose, existing.Value)).Err(); err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redisstore: %w", err)
	}
	if err := s.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return wrap(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redisstore: %w", err)
	}
	return nil
}
