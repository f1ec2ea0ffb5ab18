// Package code implements the verification-code registry: issuance,
// expiry, and single-use consumption of the numeric codes that drive
// channel verification, email 2FA, and password reset.
package code

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/veltrix/authcore/store"
)

var (
	// ErrInvalidCode is returned when no live code matches the
	// presented value.
	ErrInvalidCode = errors.New("invalid code")
	// ErrExpiredCode is returned when the matching code is past its
	// expiry. The stale record is removed as a side effect.
	ErrExpiredCode = errors.New("expired code")
	// ErrUnavailable wraps record-store failures.
	ErrUnavailable = errors.New("code registry backend unavailable")
)

const defaultDigits = 6

// TTLs holds the purpose-specific code lifetimes.
type TTLs struct {
	Verification time.Duration
	TwoFactor    time.Duration
	Reset        time.Duration
}

// DefaultTTLs are 5 minutes for verification and 2FA codes and 10
// minutes for password-reset codes.
func DefaultTTLs() TTLs {
	return TTLs{
		Verification: 5 * time.Minute,
		TwoFactor:    5 * time.Minute,
		Reset:        10 * time.Minute,
	}
}

// Registry issues and consumes single-use codes against a CodeStore.
type Registry struct {
	codes  store.CodeStore
	ttls   TTLs
	digits int
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTLs overrides the purpose-specific lifetimes.
func WithTTLs(t TTLs) Option {
	return func(r *Registry) { r.ttls = t }
}

// WithDigits overrides the code length.
func WithDigits(n int) Option {
	return func(r *Registry) { r.digits = n }
}

// WithClock injects the time source. Tests use this for expiry
// boundaries.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns a Registry over cs.
func NewRegistry(cs store.CodeStore, opts ...Option) *Registry {
	r := &Registry{
		codes:  cs,
		ttls:   DefaultTTLs(),
		digits: defaultDigits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) ttl(purpose store.CodePurpose) time.Duration {
	switch purpose {
	case store.PurposeReset:
		return r.ttls.Reset
	case store.PurposeTwoFactor:
		return r.ttls.TwoFactor
	default:
		return r.ttls.Verification
	}
}

// Issue deletes any prior code for (purpose, email), creates a fresh
// random numeric code with the purpose's TTL, and returns it for
// delivery. Re-issuing never errors; the previous code is simply
// invalidated.
func (r *Registry) Issue(ctx context.Context, purpose store.CodePurpose, email string) (*store.Code, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	value, err := randomOTP(r.digits)
	if err != nil {
		return nil, err
	}

	if err := r.codes.DeleteCode(ctx, purpose, email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c := &store.Code{
		Email:     email,
		Value:     value,
		Purpose:   purpose,
		ExpiresAt: r.now().Add(r.ttl(purpose)),
	}
	created, err := r.codes.CreateCode(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return created, nil
}

// Consume looks the code up by value. It fails with ErrInvalidCode
// when absent and ErrExpiredCode when past expiry. On success the
// record is returned still live: the caller deletes it (Delete) after
// acting on it, so a crash in between leaves a bounded reuse window
// rather than a half-applied action.
func (r *Registry) Consume(ctx context.Context, purpose store.CodePurpose, value string) (*store.Code, error) {
	c, err := r.codes.CodeByValue(ctx, purpose, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if r.now().After(c.ExpiresAt) {
		_ = r.codes.DeleteCode(ctx, purpose, c.Email)
		return nil, ErrExpiredCode
	}
	return c, nil
}

// Delete removes the live code for (purpose, email). Deleting an
// absent code is a no-op.
func (r *Registry) Delete(ctx context.Context, purpose store.CodePurpose, email string) error {
	if err := r.codes.DeleteCode(ctx, purpose, strings.ToLower(strings.TrimSpace(email))); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// randomOTP builds an n-digit numeric code from crypto/rand, one digit
// at a time so every position is uniform.
func randomOTP(n int) (string, error) {
	if n < 4 || n > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
