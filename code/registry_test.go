package code

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veltrix/authcore/store"
	"github.com/veltrix/authcore/store/memstore"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	return NewRegistry(memstore.New(), opts...)
}

func TestIssueAndConsume(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	issued, err := r.Issue(ctx, store.PurposeVerification, "alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(issued.Value) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", issued.Value)
	}
	for _, d := range issued.Value {
		if d < '0' || d > '9' {
			t.Fatalf("expected numeric code, got %q", issued.Value)
		}
	}

	c, err := r.Consume(ctx, store.PurposeVerification, issued.Value)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if c.Email != "alice@example.com" {
		t.Fatalf("expected owning email back, got %q", c.Email)
	}
}

func TestConsumeUnknownValue(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Consume(context.Background(), store.PurposeVerification, "000000")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestConsumeIsPurposeScoped(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	issued, err := r.Issue(ctx, store.PurposeReset, "alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := r.Consume(ctx, store.PurposeTwoFactor, issued.Value); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected cross-purpose consume to fail, got %v", err)
	}
	if _, err := r.Consume(ctx, store.PurposeReset, issued.Value); err != nil {
		t.Fatalf("expected same-purpose consume to succeed, got %v", err)
	}
}

func TestReissueInvalidatesPriorCode(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	first, err := r.Issue(ctx, store.PurposeVerification, "alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := r.Issue(ctx, store.PurposeVerification, "alice@example.com")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}

	if first.Value != second.Value {
		if _, err := r.Consume(ctx, store.PurposeVerification, first.Value); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected the replaced code to be dead, got %v", err)
		}
	}
	if _, err := r.Consume(ctx, store.PurposeVerification, second.Value); err != nil {
		t.Fatalf("expected the fresh code to consume, got %v", err)
	}
}

func TestConsumeAfterExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, WithClock(func() time.Time { return now }))

	issued, err := r.Issue(ctx, store.PurposeVerification, "alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Exactly at expiry the code is still good.
	now = issued.ExpiresAt
	if _, err := r.Consume(ctx, store.PurposeVerification, issued.Value); err != nil {
		t.Fatalf("expected code live at its expiry instant, got %v", err)
	}

	now = issued.ExpiresAt.Add(time.Millisecond)
	if _, err := r.Consume(ctx, store.PurposeVerification, issued.Value); !errors.Is(err, ErrExpiredCode) {
		t.Fatalf("expected ErrExpiredCode, got %v", err)
	}

	// The stale record was removed: a retry sees an unknown value.
	if _, err := r.Consume(ctx, store.PurposeVerification, issued.Value); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode after cleanup, got %v", err)
	}
}

func TestConsumeLeavesRecordForCallerDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	issued, err := r.Issue(ctx, store.PurposeReset, "alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := r.Consume(ctx, store.PurposeReset, issued.Value); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// Consume does not delete; the caller does once its action commits.
	if _, err := r.Consume(ctx, store.PurposeReset, issued.Value); err != nil {
		t.Fatalf("expected record to survive consume, got %v", err)
	}

	if err := r.Delete(ctx, store.PurposeReset, "alice@example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Consume(ctx, store.PurposeReset, issued.Value); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode after delete, got %v", err)
	}
}

func TestDeleteAbsentCodeIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Delete(context.Background(), store.PurposeReset, "nobody@example.com"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestIssueNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	issued, err := r.Issue(ctx, store.PurposeVerification, "  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", issued.Email)
	}
}

func TestRandomOTPBounds(t *testing.T) {
	if _, err := randomOTP(3); err == nil {
		t.Fatal("expected too-short length to be rejected")
	}
	if _, err := randomOTP(11); err == nil {
		t.Fatal("expected too-long length to be rejected")
	}
	v, err := randomOTP(8)
	if err != nil {
		t.Fatalf("randomOTP: %v", err)
	}
	if len(v) != 8 {
		t.Fatalf("expected 8 digits, got %q", v)
	}
}
