package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/veltrix/authcore/code"
	"github.com/veltrix/authcore/session"
	"github.com/veltrix/authcore/store"
)

// Engine orchestrates the auth flows. Construct one with New().Build;
// a zero Engine is not usable. Engines are safe for concurrent use:
// all coordination state lives in the record store and in cookies.
type Engine struct {
	cfg      Config
	store    store.Store
	registry *code.Registry
	sessions *session.Manager
	mailer   Mailer
	sms      SMSVerifier
	oauth    map[string]OAuthProvider
	log      *zap.Logger
	metrics  *Metrics
	now      func() time.Time
}

// Sessions exposes the session manager for transports and middleware.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Codes exposes the code registry.
func (e *Engine) Codes() *code.Registry {
	return e.registry
}

// MetricsSnapshot returns the current flow counters.
func (e *Engine) MetricsSnapshot() map[string]uint64 {
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// userByIdentity looks a user up by whichever channel the identity
// carries. A miss returns (nil, nil); errors are backend failures.
func (e *Engine) userByIdentity(ctx context.Context, id Identity) (*store.User, error) {
	var (
		u   *store.User
		err error
	)
	switch id.Channel() {
	case ChannelPhone:
		u, err = e.store.UserByTelephone(ctx, id.String())
	default:
		u, err = e.store.UserByEmail(ctx, id.String())
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return u, nil
}

func (e *Engine) userDTO(ctx context.Context, u *store.User) (*UserDTO, error) {
	accounts, err := e.store.LinkedAccountsByUser(ctx, u.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	return newUserDTO(u, accounts), nil
}

// deliverEmailCode issues a registry code for (purpose, email) and
// hands it to the mailer.
func (e *Engine) deliverEmailCode(ctx context.Context, purpose store.CodePurpose, email string) error {
	if e.mailer == nil {
		return ErrEngineNotReady
	}
	c, err := e.registry.Issue(ctx, purpose, email)
	if err != nil {
		if errors.Is(err, code.ErrUnavailable) {
			return storeErr(err)
		}
		return err
	}
	if err := e.mailer.SendCode(ctx, c.Email, purpose, c.Value); err != nil {
		return providerErr(err)
	}
	return nil
}

// deliverPhoneCode asks the external provider to send a code. The
// provider owns generation, storage, and one-time semantics.
func (e *Engine) deliverPhoneCode(ctx context.Context, telephone string) error {
	if e.sms == nil {
		return ErrEngineNotReady
	}
	if err := e.sms.Send(ctx, "+"+telephone); err != nil {
		return providerErr(err)
	}
	return nil
}

// checkPhoneCode runs the provider check and enforces the approved
// status. Any other status fails with it surfaced to the caller.
func (e *Engine) checkPhoneCode(ctx context.Context, telephone, codeValue string) (SMSCheck, error) {
	if e.sms == nil {
		return SMSCheck{}, ErrEngineNotReady
	}
	check, err := e.sms.Check(ctx, "+"+telephone, codeValue)
	if err != nil {
		return SMSCheck{}, providerErr(err)
	}
	if check.Status != SMSApproved {
		return check, &SMSStatusError{Status: check.Status}
	}
	return check, nil
}

// verifyEmailVerificationCode consumes a verification code, marks the
// owning user's email verified, and deletes the code. The delete
// happens after the user update: a crash in between leaves the
// accepted reuse window rather than a verified-but-unusable code.
func (e *Engine) verifyEmailVerificationCode(ctx context.Context, codeValue string) (*store.User, error) {
	c, err := e.registry.Consume(ctx, store.PurposeVerification, codeValue)
	if err != nil {
		if errors.Is(err, code.ErrUnavailable) {
			return nil, storeErr(err)
		}
		return nil, err
	}

	u, err := e.store.UserByEmail(ctx, c.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, storeErr(err)
	}

	now := e.now()
	updated, err := e.store.UpdateUser(ctx, u.ID, store.UserPatch{EmailVerifiedAt: &now})
	if err != nil {
		return nil, storeErr(err)
	}
	if err := e.registry.Delete(ctx, store.PurposeVerification, c.Email); err != nil {
		e.log.Warn("consumed verification code not deleted", zap.String("email", c.Email), zap.Error(err))
	}
	return updated, nil
}

// verifyPhoneVerificationCode checks the code with the provider and
// marks the owning user's phone verified.
func (e *Engine) verifyPhoneVerificationCode(ctx context.Context, telephone, codeValue string) (*store.User, error) {
	check, err := e.checkPhoneCode(ctx, telephone, codeValue)
	if err != nil {
		return nil, err
	}

	u, err := e.store.UserByTelephone(ctx, normalizePhone(check.To))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, storeErr(err)
	}

	now := e.now()
	updated, err := e.store.UpdateUser(ctx, u.ID, store.UserPatch{PhoneVerifiedAt: &now})
	if err != nil {
		return nil, storeErr(err)
	}
	return updated, nil
}

// verifyTwoFactorCode validates a 2FA code for user over whichever
// channel they registered with. Email codes must belong to the user's
// own address; they are deleted on success.
func (e *Engine) verifyTwoFactorCode(ctx context.Context, u *store.User, codeValue string) error {
	if u.Telephone != "" {
		_, err := e.checkPhoneCode(ctx, u.Telephone, codeValue)
		return err
	}

	c, err := e.registry.Consume(ctx, store.PurposeTwoFactor, codeValue)
	if err != nil {
		if errors.Is(err, code.ErrUnavailable) {
			return storeErr(err)
		}
		return err
	}
	if c.Email != u.Email {
		return ErrInvalidCode
	}
	if err := e.registry.Delete(ctx, store.PurposeTwoFactor, c.Email); err != nil {
		e.log.Warn("consumed 2fa code not deleted", zap.String("email", c.Email), zap.Error(err))
	}
	return nil
}

func normalizePhone(number string) string {
	if len(number) > 0 && number[0] == '+' {
		return number[1:]
	}
	return number
}

// storeUserSource adapts store.UserStore to session.UserSource.
type storeUserSource struct {
	users store.UserStore
}

func (s *storeUserSource) UserRefByID(ctx context.Context, id string) (*session.UserRef, error) {
	u, err := s.users.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session.UserRef{
		ID:           u.ID,
		Role:         string(u.Role),
		TokenVersion: u.RefreshTokenVersion,
	}, nil
}

func (s *storeUserSource) RotateTokenVersion(ctx context.Context, id string) (string, error) {
	version := session.NewTokenVersion()
	if _, err := s.users.UpdateUser(ctx, id, store.UserPatch{RefreshTokenVersion: &version}); err != nil {
		return "", err
	}
	return version, nil
}
