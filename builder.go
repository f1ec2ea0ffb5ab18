package authcore

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/veltrix/authcore/code"
	"github.com/veltrix/authcore/session"
	"github.com/veltrix/authcore/store"
)

// Builder assembles an Engine. All collaborators are injected; the
// only hard requirements are a validated Config and a Store. Flows
// that need an absent collaborator (mailer, SMS verifier, OAuth
// provider) fail with ErrEngineNotReady at call time.
type Builder struct {
	cfg       Config
	hasConfig bool
	store     store.Store
	mailer    Mailer
	sms       SMSVerifier
	oauth     map[string]OAuthProvider
	logger    *zap.Logger
	clock     func() time.Time
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		cfg:   DefaultConfig(),
		oauth: make(map[string]OAuthProvider),
		clock: time.Now,
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.hasConfig = true
	return b
}

// WithStore sets the record store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithMailer sets the email delivery provider.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithSMSVerifier sets the phone verification provider.
func (b *Builder) WithSMSVerifier(v SMSVerifier) *Builder {
	b.sms = v
	return b
}

// WithOAuthProvider registers a federated provider under its Name.
func (b *Builder) WithOAuthProvider(p OAuthProvider) *Builder {
	b.oauth[p.Name()] = p
	return b
}

// WithLogger attaches a logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock injects the time source used by flows, codes, and
// sessions. Tests use this.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, errors.New("authcore: a record store is required")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := code.NewRegistry(b.store,
		code.WithTTLs(b.cfg.codeTTLs()),
		code.WithDigits(b.cfg.Codes.Digits),
		code.WithClock(b.clock),
	)

	sessions, err := session.NewManager(session.Config{
		Secret:     b.cfg.JWT.Secret,
		AccessTTL:  b.cfg.JWT.AccessTTL,
		RefreshTTL: b.cfg.JWT.RefreshTTL,
		Production: b.cfg.Production,
	}, &storeUserSource{users: b.store},
		session.WithClock(b.clock),
		session.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      b.cfg,
		store:    b.store,
		registry: registry,
		sessions: sessions,
		mailer:   b.mailer,
		sms:      b.sms,
		oauth:    b.oauth,
		log:      logger,
		metrics:  &Metrics{},
		now:      b.clock,
	}, nil
}
