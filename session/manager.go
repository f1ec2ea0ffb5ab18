// Package session implements the stateless session layer: a short
// lived access token and a long lived refresh token, both HS256 JWTs
// carried in http-only cookies. No session state is persisted server
// side; revocation works by rotating the per-user token version that
// every refresh token embeds.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

const (
	// AccessCookie carries the access token.
	AccessCookie = "id"
	// RefreshCookie carries the refresh token.
	RefreshCookie = "r_id"

	// DefaultAccessTTL is the access-token lifetime.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the refresh-token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrRevoked is returned by Verify when the refresh token's version
	// no longer matches the user's current one (password change or a
	// logout-all on another device). Transports should send the client
	// back to login; the cookies have already been cleared.
	ErrRevoked = errors.New("session revoked")
	// ErrUnavailable wraps user-source failures during Verify/Destroy.
	ErrUnavailable = errors.New("session backend unavailable")
)

// Claims is the signed claim set of both tokens. Version is only
// present on refresh tokens.
type Claims struct {
	UserID  string `json:"uid"`
	Role    string `json:"role"`
	Version string `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

// SessionUser is the data a new session is minted from.
type SessionUser struct {
	UserID  string
	Role    string
	Version string
}

// TokenPair holds a freshly minted access+refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserRef is the slice of the user record the session layer needs.
type UserRef struct {
	ID           string
	Role         string
	TokenVersion string
}

// UserSource resolves users for refresh validation and rotates their
// token version on logout-all. UserRefByID returns (nil, nil) when no
// such user exists; errors are reserved for backend failure.
type UserSource interface {
	UserRefByID(ctx context.Context, id string) (*UserRef, error)
	RotateTokenVersion(ctx context.Context, id string) (string, error)
}

// Config carries the signing secret and token lifetimes. Production
// toggles the Secure cookie attribute.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Production bool
}

// Manager mints, verifies, and destroys sessions.
type Manager struct {
	cfg   Config
	users UserSource
	now   func() time.Time
	log   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger attaches a logger. Defaults to a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager validates cfg and returns a Manager over users.
func NewManager(cfg Config, users UserSource, opts ...Option) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("session: signing secret must be at least 32 bytes")
	}
	if users == nil {
		return nil, errors.New("session: user source is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	m := &Manager{cfg: cfg, users: users, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewTokenVersion returns a fresh opaque refresh-token version stamp.
func NewTokenVersion() string {
	return ksuid.New().String()
}

// Create mints both tokens for su and sets the session cookies on w.
func (m *Manager) Create(w http.ResponseWriter, su SessionUser) (TokenPair, error) {
	access, err := m.sign(Claims{UserID: su.UserID, Role: su.Role}, m.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(Claims{UserID: su.UserID, Role: su.Role, Version: su.Version}, m.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	m.setCookie(w, AccessCookie, access, m.cfg.AccessTTL)
	m.setCookie(w, RefreshCookie, refresh, m.cfg.RefreshTTL)
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify decodes the session cookies on r and returns the access-token
// claims, minting a fresh token pair when only the refresh token is
// still valid. It returns (nil, nil) for anonymous requests,
// (nil, ErrRevoked) for version-mismatched sessions, and a wrapped
// ErrUnavailable only when the user source fails. Invalid cookies are
// cleared as a side effect.
func (m *Manager) Verify(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Claims, error) {
	refresh := m.decodeCookie(r, RefreshCookie)
	if refresh == nil {
		m.clearCookies(w)
		return nil, nil
	}

	ref, err := m.users.UserRefByID(ctx, refresh.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ref == nil {
		m.clearCookies(w)
		return nil, nil
	}

	if refresh.Version != ref.TokenVersion {
		m.clearCookies(w)
		m.log.Info("stale refresh token rejected", zap.String("user_id", refresh.UserID))
		return nil, ErrRevoked
	}

	if access := m.decodeCookie(r, AccessCookie); access != nil {
		return access, nil
	}

	// Lazy refresh: the access token is missing, expired, or tampered
	// with, but the refresh token is good. Mint a new pair and carry on
	// as if nothing happened.
	pair, err := m.Create(w, SessionUser{UserID: refresh.UserID, Role: refresh.Role, Version: refresh.Version})
	if err != nil {
		return nil, err
	}
	access := m.decode(pair.AccessToken)
	if access == nil {
		return nil, errors.New("session: freshly minted access token failed verification")
	}
	return access, nil
}

// Destroy always clears both cookies. With allDevices set it first
// verifies the current session and, if one exists, rotates the user's
// token version, which invalidates every outstanding refresh token on
// every device. Already-issued access tokens remain valid for their
// remaining lifetime.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, allDevices bool) error {
	if allDevices {
		claims, err := m.Verify(ctx, w, r)
		if err != nil && !errors.Is(err, ErrRevoked) {
			m.clearCookies(w)
			return err
		}
		if claims != nil {
			if _, err := m.users.RotateTokenVersion(ctx, claims.UserID); err != nil {
				m.clearCookies(w)
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			m.log.Info("refresh token version rotated", zap.String("user_id", claims.UserID))
		}
	}
	m.clearCookies(w)
	return nil
}

func (m *Manager) sign(claims Claims, ttl time.Duration) (string, error) {
	now := m.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
}

// decode verifies signature and expiry in one step. Tampered and
// expired tokens are indistinguishable from absent ones: any failure
// yields nil.
func (m *Manager) decode(token string) *Claims {
	if token == "" {
		return nil
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return m.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil
	}
	return claims
}

func (m *Manager) decodeCookie(r *http.Request, name string) *Claims {
	c, err := r.Cookie(name)
	if err != nil {
		return nil
	}
	return m.decode(c.Value)
}

func (m *Manager) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.cfg.Production,
	})
}

func (m *Manager) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   m.cfg.Production,
		})
	}
}
