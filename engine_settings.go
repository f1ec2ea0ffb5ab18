package authcore

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/veltrix/authcore/code"
	"github.com/veltrix/authcore/password"
	"github.com/veltrix/authcore/session"
	"github.com/veltrix/authcore/store"
)

// UpdateSettings applies a partial account update for the caller
// behind the session cookies on r. Changing the registered email or
// telephone reuses the two-round code protocol against the NEW
// address, proving ownership of it before the change commits. Role
// elevation is rejected unless the caller already holds ADMIN, a
// password change requires the current password, and OAuth-linked
// accounts have their email and password mutations stripped (those
// identities are provider-managed).
func (e *Engine) UpdateSettings(ctx context.Context, w http.ResponseWriter, r *http.Request, req SettingsRequest) (*Result, error) {
	claims, err := e.sessions.Verify(ctx, w, r)
	if err != nil {
		if errors.Is(err, session.ErrRevoked) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if claims == nil {
		return nil, ErrUnauthorized
	}

	user, err := e.store.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, storeErr(err)
	}

	accounts, err := e.store.LinkedAccountsByUser(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(accounts) > 0 {
		req.Email = nil
		req.CurrentPassword = nil
		req.NewPassword = nil
	}

	// Stored emails are always lowercase; the submitted one must be
	// folded the same way or the code round-trip can never match.
	if req.Email != nil {
		norm := EmailIdentity(*req.Email).String()
		req.Email = &norm
	}

	emailChange := req.Email != nil && user.Email != "" && *req.Email != "" && *req.Email != user.Email
	phoneChange := req.Telephone != nil && user.Telephone != "" && *req.Telephone != "" && normalizePhone(*req.Telephone) != user.Telephone

	// A channel the account never registered cannot be added here;
	// reject rather than silently dropping the field.
	if req.Email != nil && *req.Email != "" && user.Email == "" {
		return nil, ErrValidation
	}
	if req.Telephone != nil && *req.Telephone != "" && user.Telephone == "" {
		return nil, ErrValidation
	}

	patch := store.UserPatch{}

	if phoneChange || emailChange {
		if req.Code == "" {
			return e.requestSettingsCode(ctx, req, emailChange, phoneChange)
		}
		if err := e.verifySettingsCode(ctx, req, emailChange, phoneChange); err != nil {
			return nil, err
		}
		now := e.now()
		if phoneChange {
			tel := normalizePhone(*req.Telephone)
			patch.Telephone = &tel
			patch.PhoneVerifiedAt = &now
		} else {
			patch.Email = req.Email
			patch.EmailVerifiedAt = &now
		}
	}

	if req.Role != nil && *req.Role != user.Role && user.Role != store.RoleAdmin {
		return nil, ErrUnauthorized
	}

	if req.NewPassword != nil && req.CurrentPassword != nil && user.PasswordHash != "" {
		if !password.Verify(*req.CurrentPassword, user.PasswordHash) {
			return nil, ErrInvalidCredentials
		}
		hash, err := password.Hash(*req.NewPassword)
		if err != nil {
			if errors.Is(err, password.ErrTooShort) {
				return nil, ErrValidation
			}
			return nil, err
		}
		patch.PasswordHash = &hash
	}

	if req.FirstName != nil || req.LastName != nil {
		if req.FirstName == nil || req.LastName == nil {
			return nil, ErrValidation
		}
		name := *req.FirstName + " " + *req.LastName
		patch.FullName = &name
	}
	patch.IsTwoFactorEnabled = req.IsTwoFactorEnabled
	patch.Role = req.Role

	updated, err := e.store.UpdateUser(ctx, user.ID, patch)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			if phoneChange {
				return nil, ErrPhoneInUse
			}
			return nil, ErrEmailInUse
		}
		return nil, storeErr(err)
	}

	dto, err := e.userDTO(ctx, updated)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSettingsUpdated)
	e.log.Info("settings updated", zap.String("user_id", user.ID))
	return &Result{User: dto, Message: "User successfully updated"}, nil
}

// requestSettingsCode is round 1 of a channel change: uniqueness check
// on the new address, then a code delivered to it.
func (e *Engine) requestSettingsCode(ctx context.Context, req SettingsRequest, emailChange, phoneChange bool) (*Result, error) {
	if phoneChange {
		tel := normalizePhone(*req.Telephone)
		if _, err := e.store.UserByTelephone(ctx, tel); err == nil {
			return nil, ErrPhoneInUse
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, storeErr(err)
		}
		if err := e.deliverPhoneCode(ctx, tel); err != nil {
			return nil, err
		}
		return codeRequested(ChannelPhone, "Verification code sent to your new number"), nil
	}

	if _, err := e.store.UserByEmail(ctx, *req.Email); err == nil {
		return nil, ErrEmailInUse
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err)
	}
	if err := e.deliverEmailCode(ctx, store.PurposeVerification, *req.Email); err != nil {
		return nil, err
	}
	return codeRequested(ChannelEmail, "Verification code sent to your new email"), nil
}

// verifySettingsCode is round 2: the code must prove ownership of the
// NEW address, so email codes are matched against it rather than the
// caller's current one.
func (e *Engine) verifySettingsCode(ctx context.Context, req SettingsRequest, emailChange, phoneChange bool) error {
	if phoneChange {
		_, err := e.checkPhoneCode(ctx, normalizePhone(*req.Telephone), req.Code)
		return err
	}

	c, err := e.registry.Consume(ctx, store.PurposeVerification, req.Code)
	if err != nil {
		if errors.Is(err, code.ErrUnavailable) {
			return storeErr(err)
		}
		return err
	}
	if c.Email != *req.Email {
		return ErrInvalidCode
	}
	if err := e.registry.Delete(ctx, store.PurposeVerification, c.Email); err != nil {
		e.log.Warn("consumed verification code not deleted", zap.String("email", c.Email), zap.Error(err))
	}
	return nil
}
