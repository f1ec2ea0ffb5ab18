package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/veltrix/authcore/password"
	"github.com/veltrix/authcore/session"
	"github.com/veltrix/authcore/store"
)

// Signup runs one round of the two-round signup protocol.
//
// Round 1 (no code): rejects identities that are already registered,
// hashes the password, creates the user, and issues+delivers a
// verification code over the signup channel. Round 2 (code set):
// consumes the code and marks the matching channel verified. Signup
// never establishes a session; the client logs in separately.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*Result, error) {
	if req.Identity.IsZero() {
		return nil, ErrValidation
	}

	if req.Code != "" {
		return e.signupVerify(ctx, req)
	}
	return e.signupCreate(ctx, req)
}

func (e *Engine) signupCreate(ctx context.Context, req SignupRequest) (*Result, error) {
	existing, err := e.userByIdentity(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if req.Identity.Channel() == ChannelPhone {
			return nil, ErrPhoneInUse
		}
		return nil, ErrEmailInUse
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return nil, ErrValidation
		}
		return nil, err
	}

	u := &store.User{
		FullName:            req.FirstName + " " + req.LastName,
		PasswordHash:        hash,
		Role:                store.RoleUser,
		RefreshTokenVersion: session.NewTokenVersion(),
	}
	switch req.Identity.Channel() {
	case ChannelPhone:
		u.Telephone = req.Identity.String()
	default:
		u.Email = req.Identity.String()
	}

	if _, err := e.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent signup for the same identity.
			if req.Identity.Channel() == ChannelPhone {
				return nil, ErrPhoneInUse
			}
			return nil, ErrEmailInUse
		}
		return nil, storeErr(err)
	}
	e.metricInc(MetricSignupStarted)
	e.log.Info("user created", zap.String("channel", string(req.Identity.Channel())))

	switch req.Identity.Channel() {
	case ChannelPhone:
		if err := e.deliverPhoneCode(ctx, req.Identity.String()); err != nil {
			return nil, err
		}
		return codeRequested(ChannelPhone, "Enter the verification code sent to your phone"), nil
	default:
		if err := e.deliverEmailCode(ctx, store.PurposeVerification, req.Identity.String()); err != nil {
			return nil, err
		}
		return codeRequested(ChannelEmail, "Enter the verification code sent to your email"), nil
	}
}

func (e *Engine) signupVerify(ctx context.Context, req SignupRequest) (*Result, error) {
	switch req.Identity.Channel() {
	case ChannelPhone:
		if _, err := e.verifyPhoneVerificationCode(ctx, req.Identity.String(), req.Code); err != nil {
			return nil, err
		}
		e.metricInc(MetricSignupVerified)
		return &Result{Message: "Your phone number was successfully verified. Login to continue"}, nil
	default:
		if _, err := e.verifyEmailVerificationCode(ctx, req.Code); err != nil {
			return nil, err
		}
		e.metricInc(MetricSignupVerified)
		return &Result{Message: "Your email was successfully verified. Login to continue"}, nil
	}
}
