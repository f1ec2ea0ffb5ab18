// Package pgstore persists authcore records in PostgreSQL via sqlx.
//
// The expected schema ships in schema.sql; apply it with your
// migration tool of choice before wiring the store.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/veltrix/authcore/store"
)

// Store implements store.Store on a PostgreSQL database.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// New wraps db. The connection pool's lifecycle stays with the caller.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

func wrap(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return store.ErrDuplicate
	}
	return fmt.Errorf("pgstore: %w", err)
}

type userRow struct {
	ID                  string         `db:"id"`
	FullName            string         `db:"full_name"`
	Email               sql.NullString `db:"email"`
	Telephone           sql.NullString `db:"telephone"`
	PasswordHash        string         `db:"password_hash"`
	Image               string         `db:"image"`
	Role                string         `db:"role"`
	EmailVerifiedAt     *time.Time     `db:"email_verified_at"`
	PhoneVerifiedAt     *time.Time     `db:"phone_verified_at"`
	IsTwoFactorEnabled  bool           `db:"is_two_factor_enabled"`
	RefreshTokenVersion string         `db:"refresh_token_version"`
	CreatedAt           time.Time      `db:"created_at"`
}

// Email and telephone are nullable in the schema so the partial unique
// indexes ignore absent addresses; an empty string maps to NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *userRow) user() *store.User {
	return &store.User{
		ID:                  r.ID,
		FullName:            r.FullName,
		Email:               r.Email.String,
		Telephone:           r.Telephone.String,
		PasswordHash:        r.PasswordHash,
		Image:               r.Image,
		Role:                store.Role(r.Role),
		EmailVerifiedAt:     r.EmailVerifiedAt,
		PhoneVerifiedAt:     r.PhoneVerifiedAt,
		IsTwoFactorEnabled:  r.IsTwoFactorEnabled,
		RefreshTokenVersion: r.RefreshTokenVersion,
		CreatedAt:           r.CreatedAt,
	}
}

const userColumns = `id, full_name, email, telephone, password_hash, image, role,
	email_verified_at, phone_verified_at, is_two_factor_enabled,
	refresh_token_version, created_at`

func (s *Store) CreateUser(ctx context.Context, u *store.User) (*store.User, error) {
	row := userRow{
		ID:                  uuid.NewString(),
		FullName:            u.FullName,
		Email:               nullable(u.Email),
		Telephone:           nullable(u.Telephone),
		PasswordHash:        u.PasswordHash,
		Image:               u.Image,
		Role:                string(u.Role),
		EmailVerifiedAt:     u.EmailVerifiedAt,
		PhoneVerifiedAt:     u.PhoneVerifiedAt,
		IsTwoFactorEnabled:  u.IsTwoFactorEnabled,
		RefreshTokenVersion: u.RefreshTokenVersion,
		CreatedAt:           time.Now().UTC(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :full_name, :email, :telephone, :password_hash, :image, :role,
			:email_verified_at, :phone_verified_at, :is_two_factor_enabled,
			:refresh_token_version, :created_at)`, &row)
	if err != nil {
		return nil, wrap(err)
	}
	return row.user(), nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	return s.userWhere(ctx, "id = $1", id)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.userWhere(ctx, "email = $1", email)
}

func (s *Store) UserByTelephone(ctx context.Context, telephone string) (*store.User, error) {
	return s.userWhere(ctx, "telephone = $1", telephone)
}

func (s *Store) userWhere(ctx context.Context, cond string, arg any) (*store.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE `+cond, arg)
	if err != nil {
		return nil, wrap(err)
	}
	return row.user(), nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	sets := []string{}
	args := map[string]any{"id": id}

	set := func(column string, value any) {
		sets = append(sets, column+" = :"+column)
		args[column] = value
	}

	if patch.FullName != nil {
		set("full_name", *patch.FullName)
	}
	if patch.Email != nil {
		set("email", nullable(*patch.Email))
	}
	if patch.Telephone != nil {
		set("telephone", nullable(*patch.Telephone))
	}
	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.Role != nil {
		set("role", string(*patch.Role))
	}
	if patch.EmailVerifiedAt != nil {
		set("email_verified_at", *patch.EmailVerifiedAt)
	}
	if patch.PhoneVerifiedAt != nil {
		set("phone_verified_at", *patch.PhoneVerifiedAt)
	}
	if patch.IsTwoFactorEnabled != nil {
		set("is_two_factor_enabled", *patch.IsTwoFactorEnabled)
	}
	if patch.RefreshTokenVersion != nil {
		set("refresh_token_version", *patch.RefreshTokenVersion)
	}

	if len(sets) > 0 {
		query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = :id"
		res, err := s.db.NamedExecContext(ctx, query, args)
		if err != nil {
			return nil, wrap(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, store.ErrNotFound
		}
	}
	return s.UserByID(ctx, id)
}

type accountRow struct {
	ID                string     `db:"id"`
	UserID            string     `db:"user_id"`
	Provider          string     `db:"provider"`
	ProviderAccountID string     `db:"provider_account_id"`
	AccessToken       string     `db:"access_token"`
	ExpiresAt         *time.Time `db:"expires_at"`
	CreatedAt         time.Time  `db:"created_at"`
}

func (r *accountRow) account() store.LinkedAccount {
	return store.LinkedAccount{
		ID:                r.ID,
		UserID:            r.UserID,
		Provider:          r.Provider,
		ProviderAccountID: r.ProviderAccountID,
		AccessToken:       r.AccessToken,
		ExpiresAt:         r.ExpiresAt,
		CreatedAt:         r.CreatedAt,
	}
}

const accountColumns = `id, user_id, provider, provider_account_id, access_token, expires_at, created_at`

func (s *Store) CreateLinkedAccount(ctx context.Context, a *store.LinkedAccount) (*store.LinkedAccount, error) {
	row := accountRow{
		ID:                uuid.NewString(),
		UserID:            a.UserID,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		AccessToken:       a.AccessToken,
		ExpiresAt:         a.ExpiresAt,
		CreatedAt:         time.Now().UTC(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO linked_accounts (`+accountColumns+`)
		VALUES (:id, :user_id, :provider, :provider_account_id, :access_token, :expires_at, :created_at)`, &row)
	if err != nil {
		return nil, wrap(err)
	}
	stored := row.account()
	return &stored, nil
}

func (s *Store) LinkedAccountByProvider(ctx context.Context, provider, providerAccountID string) (*store.LinkedAccount, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+` FROM linked_accounts
		WHERE provider = $1 AND provider_account_id = $2`, provider, providerAccountID)
	if err != nil {
		return nil, wrap(err)
	}
	stored := row.account()
	return &stored, nil
}

func (s *Store) LinkedAccountsByUser(ctx context.Context, userID string) ([]store.LinkedAccount, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+` FROM linked_accounts
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, wrap(err)
	}
	accounts := make([]store.LinkedAccount, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].account())
	}
	return accounts, nil
}

func (s *Store) CreateCode(ctx context.Context, c *store.Code) (*store.Code, error) {
	stored := *c
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_codes (purpose, email, value, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (purpose, email)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		string(c.Purpose), c.Email, c.Value, c.ExpiresAt)
	if err != nil {
		return nil, wrap(err)
	}
	return &stored, nil
}

func (s *Store) CodeByEmail(ctx context.Context, purpose store.CodePurpose, email string) (*store.Code, error) {
	return s.codeWhere(ctx, "email = $2", string(purpose), email)
}

func (s *Store) CodeByValue(ctx context.Context, purpose store.CodePurpose, value string) (*store.Code, error) {
	return s.codeWhere(ctx, "value = $2", string(purpose), value)
}

func (s *Store) codeWhere(ctx context.Context, cond string, purpose, arg string) (*store.Code, error) {
	var row struct {
		Purpose   string    `db:"purpose"`
		Email     string    `db:"email"`
		Value     string    `db:"value"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT purpose, email, value, expires_at FROM auth_codes
		WHERE purpose = $1 AND `+cond, purpose, arg)
	if err != nil {
		return nil, wrap(err)
	}
	return &store.Code{
		Purpose:   store.CodePurpose(row.Purpose),
		Email:     row.Email,
		Value:     row.Value,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *Store) DeleteCode(ctx context.Context, purpose store.CodePurpose, email string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_codes WHERE purpose = $1 AND email = $2`,
		string(purpose), email)
	if err != nil {
		return wrap(err)
	}
	return nil
}
