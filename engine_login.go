package authcore

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/veltrix/authcore/password"
	"github.com/veltrix/authcore/session"
	"github.com/veltrix/authcore/store"
)

// Login drives the gated login state machine. The gates run in order:
//
//  1. Channel verification: a user with neither channel verified must
//     complete one verification round before anything else, even
//     though the account exists.
//  2. Two-factor: with 2FA enabled, a fresh code is minted and
//     delivered on every attempt that lacks one; the password is not
//     consulted until the code clears.
//  3. Password, compared last. A mismatch returns the same
//     ErrInvalidCredentials as an unknown identity.
//
// Round-1 responses (Result.CodeRequested) suspend the login; the
// client resubmits with the delivered code in LoginRequest.Code. Only
// a fully cleared login writes session cookies to w.
func (e *Engine) Login(ctx context.Context, w http.ResponseWriter, req LoginRequest) (*Result, error) {
	if req.Identity.IsZero() || req.Password == "" {
		return nil, ErrValidation
	}

	user, err := e.userByIdentity(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if user == nil {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if !user.Verified() {
		if req.Code != "" {
			user, err = e.verifyLoginChannel(ctx, req, user)
			if err != nil {
				return nil, err
			}
			// The code satisfied the verification gate; it must not
			// leak into the 2FA gate below.
			req.Code = ""
		} else {
			res, err := e.requestLoginVerification(ctx, user)
			if err != nil {
				return nil, err
			}
			e.metricInc(MetricVerificationRequested)
			return res, nil
		}
	}

	if user.IsTwoFactorEnabled {
		if req.Code != "" {
			if err := e.verifyTwoFactorCode(ctx, user, req.Code); err != nil {
				e.metricInc(MetricLoginFailure)
				return nil, err
			}
		} else {
			res, err := e.requestTwoFactorCode(ctx, user)
			if err != nil {
				return nil, err
			}
			e.metricInc(MetricTwoFactorRequired)
			return res, nil
		}
	}

	if !password.Verify(req.Password, user.PasswordHash) {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if _, err := e.sessions.Create(w, session.SessionUser{
		UserID:  user.ID,
		Role:    string(user.Role),
		Version: user.RefreshTokenVersion,
	}); err != nil {
		return nil, err
	}

	dto, err := e.userDTO(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.log.Info("login succeeded", zap.String("user_id", user.ID))
	return &Result{User: dto}, nil
}

// verifyLoginChannel completes the pending channel-verification gate
// with the code the client resubmitted. The freshly verified user is
// returned so the password gate sees the updated record.
func (e *Engine) verifyLoginChannel(ctx context.Context, req LoginRequest, user *store.User) (*store.User, error) {
	if req.Identity.Channel() == ChannelPhone {
		return e.verifyPhoneVerificationCode(ctx, req.Identity.String(), req.Code)
	}
	return e.verifyEmailVerificationCode(ctx, req.Code)
}

// requestLoginVerification opens the channel-verification gate: it
// delivers a code over whichever channel the account registered with.
func (e *Engine) requestLoginVerification(ctx context.Context, user *store.User) (*Result, error) {
	if user.Telephone != "" {
		if err := e.deliverPhoneCode(ctx, user.Telephone); err != nil {
			return nil, err
		}
		return codeRequested(ChannelPhone, "Enter the verification code we sent to your phone"), nil
	}
	if err := e.deliverEmailCode(ctx, store.PurposeVerification, user.Email); err != nil {
		return nil, err
	}
	return codeRequested(ChannelEmail, "Enter the verification code sent to your email"), nil
}

// requestTwoFactorCode mints and delivers a fresh 2FA code. Each
// attempt without a code replaces the previous one.
func (e *Engine) requestTwoFactorCode(ctx context.Context, user *store.User) (*Result, error) {
	if user.Telephone != "" {
		if err := e.deliverPhoneCode(ctx, user.Telephone); err != nil {
			return nil, err
		}
		return codeRequested(ChannelPhone, "Enter the 2FA code sent to your phone"), nil
	}
	if err := e.deliverEmailCode(ctx, store.PurposeTwoFactor, user.Email); err != nil {
		return nil, err
	}
	return codeRequested(ChannelEmail, "Enter the 2FA code sent to your email"), nil
}

// Logout destroys the current session. With allDevices set it also
// rotates the caller's refresh token version, revoking every
// outstanding refresh token immediately.
func (e *Engine) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request, allDevices bool) error {
	e.metricInc(MetricLogout)
	return e.sessions.Destroy(ctx, w, r, allDevices)
}
