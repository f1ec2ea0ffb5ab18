package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/veltrix/authcore/code"
	"github.com/veltrix/authcore/password"
	"github.com/veltrix/authcore/store"
)

// ForgotPassword runs one round of the password-reset protocol.
//
// Round 1 (no code): the identity must belong to an account,
// otherwise ErrNoAccount (unlike login, this miss is explicit); a
// reset code is delivered over the account's channel. Round 2 (code
// set): the code is verified and the password hash replaced directly.
// The code itself is the proof of channel ownership, so no
// re-authentication happens.
//
// The two channels are deliberately asymmetric on cleanup: email reset
// codes are deleted from the record store after use, while the phone
// path relies on the external provider's own one-time semantics.
func (e *Engine) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (*Result, error) {
	if req.Identity.IsZero() {
		return nil, ErrValidation
	}

	if req.Code != "" {
		return e.resetConfirm(ctx, req)
	}
	return e.resetRequest(ctx, req)
}

func (e *Engine) resetRequest(ctx context.Context, req ForgotPasswordRequest) (*Result, error) {
	user, err := e.userByIdentity(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoAccount
	}

	e.metricInc(MetricPasswordResetRequested)

	if user.Telephone != "" {
		if err := e.deliverPhoneCode(ctx, user.Telephone); err != nil {
			return nil, err
		}
		return codeRequested(ChannelPhone, "Choose a new password and enter the code we sent to your phone"), nil
	}
	if err := e.deliverEmailCode(ctx, store.PurposeReset, user.Email); err != nil {
		return nil, err
	}
	return codeRequested(ChannelEmail, "Choose a new password and enter the code we sent to your email"), nil
}

func (e *Engine) resetConfirm(ctx context.Context, req ForgotPasswordRequest) (*Result, error) {
	switch req.Identity.Channel() {
	case ChannelPhone:
		return e.resetConfirmPhone(ctx, req)
	default:
		return e.resetConfirmEmail(ctx, req)
	}
}

func (e *Engine) resetConfirmPhone(ctx context.Context, req ForgotPasswordRequest) (*Result, error) {
	check, err := e.checkPhoneCode(ctx, req.Identity.String(), req.Code)
	if err != nil {
		return nil, err
	}

	user, err := e.store.UserByTelephone(ctx, normalizePhone(check.To))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, storeErr(err)
	}

	if err := e.updatePassword(ctx, user.ID, req.NewPassword); err != nil {
		return nil, err
	}
	// Provider-side one-time semantics make an explicit delete
	// unnecessary on this channel.
	e.metricInc(MetricPasswordResetCompleted)
	return &Result{Message: "Your password has been changed"}, nil
}

func (e *Engine) resetConfirmEmail(ctx context.Context, req ForgotPasswordRequest) (*Result, error) {
	c, err := e.registry.Consume(ctx, store.PurposeReset, req.Code)
	if err != nil {
		if errors.Is(err, code.ErrUnavailable) {
			return nil, storeErr(err)
		}
		return nil, err
	}

	user, err := e.store.UserByEmail(ctx, c.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, storeErr(err)
	}

	if err := e.updatePassword(ctx, user.ID, req.NewPassword); err != nil {
		return nil, err
	}
	if err := e.registry.Delete(ctx, store.PurposeReset, c.Email); err != nil {
		e.log.Warn("consumed reset code not deleted", zap.String("email", c.Email), zap.Error(err))
	}
	e.metricInc(MetricPasswordResetCompleted)
	return &Result{Message: "Your password has been changed"}, nil
}

func (e *Engine) updatePassword(ctx context.Context, userID, plain string) error {
	hash, err := password.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return ErrValidation
		}
		return err
	}
	if _, err := e.store.UpdateUser(ctx, userID, store.UserPatch{PasswordHash: &hash}); err != nil {
		return storeErr(err)
	}
	return nil
}
