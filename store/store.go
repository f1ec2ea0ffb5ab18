// Package store defines the record-store boundary of authcore: typed
// CRUD over the five entities the engine persists (users, linked
// accounts, and the three single-purpose code records).
//
// The engine depends only on the interfaces in this file. Shipped
// adapters live in store/memstore, store/redisstore and store/pgstore.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookup methods when no record matches.
var ErrNotFound = errors.New("store: record not found")

// ErrDuplicate is returned by create methods when a uniqueness
// constraint (email, telephone, provider account) is violated.
var ErrDuplicate = errors.New("store: duplicate record")

// Role is the authorization level carried on a user record and inside
// session claims.
type Role string

const (
	// RoleUser is the default role assigned at signup.
	RoleUser Role = "USER"
	// RoleAdmin marks administrative accounts. Only admins may keep or
	// assign the admin role through the settings flow.
	RoleAdmin Role = "ADMIN"
)

// User is the identity record. Email and Telephone are optional but at
// least one must be set; an empty string means absent. PasswordHash is
// empty for OAuth-only accounts.
type User struct {
	ID                  string
	FullName            string
	Email               string
	Telephone           string
	PasswordHash        string
	Image               string
	Role                Role
	EmailVerifiedAt     *time.Time
	PhoneVerifiedAt     *time.Time
	IsTwoFactorEnabled  bool
	RefreshTokenVersion string
	CreatedAt           time.Time
}

// Verified reports whether at least one channel has completed a
// verification round.
func (u *User) Verified() bool {
	return u.EmailVerifiedAt != nil || u.PhoneVerifiedAt != nil
}

// UserPatch is a partial update. Nil fields are left untouched; a
// non-nil pointer to the zero value clears the field.
type UserPatch struct {
	FullName            *string
	Email               *string
	Telephone           *string
	PasswordHash        *string
	Role                *Role
	EmailVerifiedAt     *time.Time
	PhoneVerifiedAt     *time.Time
	IsTwoFactorEnabled  *bool
	RefreshTokenVersion *string
}

// LinkedAccount binds a federated identity to a local user. One
// (Provider, ProviderAccountID) pair maps to at most one user.
type LinkedAccount struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	AccessToken       string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
}

// CodePurpose selects one of the three structurally identical code
// entities.
type CodePurpose string

const (
	// PurposeVerification codes prove ownership of a channel at signup,
	// first login, or a settings change.
	PurposeVerification CodePurpose = "verification"
	// PurposeTwoFactor codes gate logins of 2FA-enabled accounts.
	PurposeTwoFactor CodePurpose = "two_factor"
	// PurposeReset codes authorize a password reset.
	PurposeReset CodePurpose = "password_reset"
)

// Code is a single-use numeric verification code keyed by email.
// At most one live code exists per (Purpose, Email).
type Code struct {
	Email     string
	Value     string
	Purpose   CodePurpose
	ExpiresAt time.Time
}

// UserStore is the CRUD surface for user records.
type UserStore interface {
	// CreateUser persists u and returns the stored record with its ID
	// assigned. Returns ErrDuplicate when the email or telephone is
	// already registered.
	CreateUser(ctx context.Context, u *User) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByTelephone(ctx context.Context, telephone string) (*User, error)
	// UpdateUser applies the non-nil fields of patch and returns the
	// updated record.
	UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error)
}

// LinkedAccountStore is the CRUD surface for federated bindings.
type LinkedAccountStore interface {
	CreateLinkedAccount(ctx context.Context, a *LinkedAccount) (*LinkedAccount, error)
	LinkedAccountByProvider(ctx context.Context, provider, providerAccountID string) (*LinkedAccount, error)
	LinkedAccountsByUser(ctx context.Context, userID string) ([]LinkedAccount, error)
}

// CodeStore is the CRUD surface for verification codes. Codes are
// addressed by their natural key (purpose, email) for deletion and can
// additionally be looked up by value, which is how clients present
// them back.
type CodeStore interface {
	// CreateCode persists c, replacing any existing code for the same
	// (purpose, email).
	CreateCode(ctx context.Context, c *Code) (*Code, error)
	CodeByEmail(ctx context.Context, purpose CodePurpose, email string) (*Code, error)
	CodeByValue(ctx context.Context, purpose CodePurpose, value string) (*Code, error)
	// DeleteCode removes the code for (purpose, email). Deleting an
	// absent code is not an error.
	DeleteCode(ctx context.Context, purpose CodePurpose, email string) error
}

// Store is the full record-store capability the engine requires.
type Store interface {
	UserStore
	LinkedAccountStore
	CodeStore
}
