package authcore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Production bool          `env:"AUTH_PRODUCTION" envDefault:"false"`
	JWTSecret  string        `env:"AUTH_JWT_SECRET"`
	AccessTTL  time.Duration `env:"AUTH_JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"AUTH_JWT_REFRESH_TTL" envDefault:"168h"`

	VerificationTTL time.Duration `env:"AUTH_CODE_VERIFICATION_TTL" envDefault:"5m"`
	TwoFactorTTL    time.Duration `env:"AUTH_CODE_TWO_FACTOR_TTL" envDefault:"5m"`
	ResetTTL        time.Duration `env:"AUTH_CODE_RESET_TTL" envDefault:"10m"`
	CodeDigits      int           `env:"AUTH_CODE_DIGITS" envDefault:"6"`

	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"GOOGLE_SECRET"`
	GoogleRedirectURL    string `env:"GOOGLE_REDIRECT_URL"`
	FacebookClientID     string `env:"FACEBOOK_APP_ID"`
	FacebookClientSecret string `env:"FACEBOOK_APP_SECRET"`
	FacebookRedirectURL  string `env:"FACEBOOK_REDIRECT_URL"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTHENTICATION_TOKEN"`
	TwilioServiceSID string `env:"TWILIO_VERIFY_SERVICE_SID"`
}

// LoadConfig reads Config from the environment, loading a .env file
// first when one is present. The result is validated.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var e envConfig
	if err := env.Parse(&e); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg := Config{
		Production: e.Production,
		JWT: JWTConfig{
			Secret:     []byte(e.JWTSecret),
			AccessTTL:  e.AccessTTL,
			RefreshTTL: e.RefreshTTL,
		},
		Codes: CodesConfig{
			VerificationTTL: e.VerificationTTL,
			TwoFactorTTL:    e.TwoFactorTTL,
			ResetTTL:        e.ResetTTL,
			Digits:          e.CodeDigits,
		},
		OAuth: OAuthConfig{
			Google: OAuthClientConfig{
				ClientID:     e.GoogleClientID,
				ClientSecret: e.GoogleClientSecret,
				RedirectURL:  e.GoogleRedirectURL,
			},
			Facebook: OAuthClientConfig{
				ClientID:     e.FacebookClientID,
				ClientSecret: e.FacebookClientSecret,
				RedirectURL:  e.FacebookRedirectURL,
			},
		},
		SMS: SMSConfig{
			AccountSID: e.TwilioAccountSID,
			AuthToken:  e.TwilioAuthToken,
			ServiceSID: e.TwilioServiceSID,
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoadConfig is LoadConfig that panics on error, for main
// functions.
func MustLoadConfig() Config {
	cfg, err := LoadConfig()
	if err != nil {
		panic(err)
	}
	return cfg
}
