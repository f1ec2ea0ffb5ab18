package authcore

import (
	"errors"
	"time"

	"github.com/veltrix/authcore/code"
	"github.com/veltrix/authcore/session"
)

// Config is the explicitly constructed configuration injected at
// startup. Core logic never reads the environment; see LoadConfig for
// the env-backed constructor.
type Config struct {
	// Production toggles the Secure attribute on session cookies.
	Production bool
	JWT        JWTConfig
	Codes      CodesConfig
	OAuth      OAuthConfig
	SMS        SMSConfig
}

// JWTConfig holds the signing secret and token lifetimes.
type JWTConfig struct {
	// Secret signs both tokens (HS256). Minimum 32 bytes.
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// CodesConfig holds the verification-code lifetimes and length.
type CodesConfig struct {
	VerificationTTL time.Duration
	TwoFactorTTL    time.Duration
	ResetTTL        time.Duration
	Digits          int
}

// OAuthClientConfig is one provider's client credentials. The engine
// hands these to provider adapters; it never uses them directly.
type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OAuthConfig carries the federated providers' credentials.
type OAuthConfig struct {
	Google   OAuthClientConfig
	Facebook OAuthClientConfig
}

// SMSConfig carries the phone verification provider's credentials,
// consumed by the SMSVerifier adapter.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
}

// DefaultConfig returns the production defaults: 15m/7d token
// lifetimes, 5m verification and 2FA codes, 10m reset codes, 6 digits.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  session.DefaultAccessTTL,
			RefreshTTL: session.DefaultRefreshTTL,
		},
		Codes: CodesConfig{
			VerificationTTL: 5 * time.Minute,
			TwoFactorTTL:    5 * time.Minute,
			ResetTTL:        10 * time.Minute,
			Digits:          6,
		},
	}
}

// Validate checks the invariants Build relies on.
func (c Config) Validate() error {
	if len(c.JWT.Secret) < 32 {
		return errors.New("config: JWT secret must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("config: access TTL must be shorter than refresh TTL")
	}
	if c.Codes.VerificationTTL <= 0 || c.Codes.TwoFactorTTL <= 0 || c.Codes.ResetTTL <= 0 {
		return errors.New("config: code TTLs must be positive")
	}
	if c.Codes.Digits < 4 || c.Codes.Digits > 10 {
		return errors.New("config: code digits must be between 4 and 10")
	}
	return nil
}

func (c Config) codeTTLs() code.TTLs {
	return code.TTLs{
		Verification: c.Codes.VerificationTTL,
		TwoFactor:    c.Codes.TwoFactorTTL,
		Reset:        c.Codes.ResetTTL,
	}
}
