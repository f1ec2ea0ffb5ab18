package authcore

import (
	"errors"
	"fmt"

	"github.com/veltrix/authcore/code"
)

// Recoverable flow outcomes. Callers match these with errors.Is and
// render them; none of them wrap the fatal classes below.
var (
	// ErrValidation marks malformed input rejected before any flow
	// logic runs.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidCredentials is the deliberately generic login failure:
	// unknown identity and wrong password are indistinguishable to
	// prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoAccount is the forgot-password miss. Unlike login, the
	// product surfaces this one explicitly.
	ErrNoAccount = errors.New("no account found")
	// ErrEmailInUse is the signup/settings email conflict.
	ErrEmailInUse = errors.New("email already in use")
	// ErrPhoneInUse is the signup/settings telephone conflict.
	ErrPhoneInUse = errors.New("phone number already in use")
	// ErrUnauthorized marks a role or ownership check failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCode is re-exported from the code registry.
	ErrInvalidCode = code.ErrInvalidCode
	// ErrExpiredCode is re-exported from the code registry.
	ErrExpiredCode = code.ErrExpiredCode
	// ErrEngineNotReady is returned when a flow needs a collaborator
	// the builder was never given (mailer, SMS verifier, provider).
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Fatal classes. Expected outcomes never wrap these; callers surface a
// generic "try again" for anything matching them.
var (
	// ErrStoreUnavailable wraps record-store failures.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrProviderUnavailable wraps delivery or OAuth provider
	// failures. The provider's message is kept in the wrap because it
	// is typically actionable.
	ErrProviderUnavailable = errors.New("external provider unavailable")
)

// SMSStatusError reports a phone verification check that came back
// with any status other than approved. The raw provider status is
// surfaced for diagnostics.
type SMSStatusError struct {
	Status SMSStatus
}

func (e *SMSStatusError) Error() string {
	return fmt.Sprintf("phone verification failed: status is code_%s", e.Status)
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func providerErr(err error) error {
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
