package authcore

import (
	"context"
	"strings"
	"time"

	"github.com/veltrix/authcore/store"
)

// Channel is the identity medium a user registered and authenticates
// with.
type Channel string

const (
	// ChannelEmail delivers codes by email through the Mailer.
	ChannelEmail Channel = "email"
	// ChannelPhone delivers codes by SMS through the SMSVerifier.
	ChannelPhone Channel = "phone"
)

// Identity is the tagged email-or-telephone union every flow
// dispatches on. Exactly one channel drives a flow; the ambiguous
// both/neither case is unrepresentable here.
type Identity struct {
	channel Channel
	value   string
}

// EmailIdentity builds an email identity. The address is lowercased.
func EmailIdentity(address string) Identity {
	return Identity{channel: ChannelEmail, value: strings.ToLower(strings.TrimSpace(address))}
}

// PhoneIdentity builds a telephone identity. Numbers are stored
// without the leading "+"; E164 adds it back for provider calls.
func PhoneIdentity(number string) Identity {
	return Identity{channel: ChannelPhone, value: strings.TrimPrefix(strings.TrimSpace(number), "+")}
}

// Channel reports which medium this identity uses.
func (i Identity) Channel() Channel { return i.channel }

// String returns the raw address or number.
func (i Identity) String() string { return i.value }

// E164 returns the telephone number in +E.164 form. Meaningless for
// email identities.
func (i Identity) E164() string { return "+" + i.value }

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i.value == "" }

// SMSStatus is the verification-check status reported by the external
// phone provider. Only SMSApproved counts as success.
type SMSStatus string

const (
	SMSApproved           SMSStatus = "approved"
	SMSPending            SMSStatus = "pending"
	SMSCanceled           SMSStatus = "canceled"
	SMSMaxAttemptsReached SMSStatus = "max_attempts_reached"
	SMSDeleted            SMSStatus = "deleted"
	SMSFailed             SMSStatus = "failed"
	SMSExpired            SMSStatus = "expired"
)

// SMSCheck is the outcome of a check-by-phone-and-code call.
type SMSCheck struct {
	Status SMSStatus
	To     string
}

// SMSVerifier is the external phone verification provider. Send asks
// the provider to deliver a code to the number; Check validates a code
// the user typed back. Both take +E.164 numbers. The provider owns the
// code lifecycle, including one-time use.
type SMSVerifier interface {
	Send(ctx context.Context, toE164 string) error
	Check(ctx context.Context, toE164, code string) (SMSCheck, error)
}

// Mailer delivers verification codes by email. The purpose selects the
// template.
type Mailer interface {
	SendCode(ctx context.Context, to string, purpose store.CodePurpose, code string) error
}

// OAuthTokens is the result of an authorization-code exchange.
type OAuthTokens struct {
	AccessToken string
	IDToken     string
	ExpiresAt   time.Time
}

// OAuthProfile is the provider's view of the federated identity.
type OAuthProfile struct {
	ExternalID string
	Name       string
	Email      string
	PictureURL string
}

// OAuthProvider is the federation boundary. The redirect dance happens
// upstream; the engine only consumes its outcome.
type OAuthProvider interface {
	Name() string
	Exchange(ctx context.Context, authCode, verifier string) (OAuthTokens, error)
	FetchProfile(ctx context.Context, accessToken string) (OAuthProfile, error)
}

// UserDTO is the stripped user projection returned to clients. It
// never carries the password hash or the refresh token version.
type UserDTO struct {
	ID                 string
	FullName           string
	Email              string
	Telephone          string
	Image              string
	Role               store.Role
	IsTwoFactorEnabled bool
	LinkedAccounts     []string
}

func newUserDTO(u *store.User, accounts []store.LinkedAccount) *UserDTO {
	dto := &UserDTO{
		ID:                 u.ID,
		FullName:           u.FullName,
		Email:              u.Email,
		Telephone:          u.Telephone,
		Image:              u.Image,
		Role:               u.Role,
		IsTwoFactorEnabled: u.IsTwoFactorEnabled,
	}
	for _, a := range accounts {
		dto.LinkedAccounts = append(dto.LinkedAccounts, a.ID)
	}
	return dto
}

// Result is the tagged outcome of a flow round. CodeRequested marks a
// round-1 response: the action is suspended until the client resubmits
// with the delivered code.
type Result struct {
	User          *UserDTO
	CodeRequested bool
	Channel       Channel
	Message       string
}

func codeRequested(ch Channel, msg string) *Result {
	return &Result{CodeRequested: true, Channel: ch, Message: msg}
}

// SignupRequest drives both signup rounds. Code is empty on round 1.
type SignupRequest struct {
	FirstName string
	LastName  string
	Identity  Identity
	Password  string
	Code      string
}

// LoginRequest drives login. Code satisfies whichever gate is pending:
// channel verification first, then 2FA.
type LoginRequest struct {
	Identity Identity
	Password string
	Code     string
}

// ForgotPasswordRequest drives both reset rounds. NewPassword is only
// consulted on round 2.
type ForgotPasswordRequest struct {
	Identity    Identity
	NewPassword string
	Code        string
}

// SettingsRequest is a partial settings update. Nil fields are left
// untouched. Changing Email or Telephone triggers the two-round code
// protocol against the new address.
type SettingsRequest struct {
	FirstName          *string
	LastName           *string
	Email              *string
	Telephone          *string
	CurrentPassword    *string
	NewPassword        *string
	IsTwoFactorEnabled *bool
	Role               *store.Role
	Code               string
}
