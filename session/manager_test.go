package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type stubSource struct {
	mu      sync.Mutex
	refs    map[string]*UserRef
	rotated int
	fail    error
}

func (s *stubSource) UserRefByID(_ context.Context, id string) (*UserRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	return s.refs[id], nil
}

func (s *stubSource) RotateTokenVersion(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotated++
	version := NewTokenVersion()
	if ref, ok := s.refs[id]; ok {
		ref.TokenVersion = version
	}
	return version, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *stubSource, *testClock) {
	t.Helper()
	source := &stubSource{refs: map[string]*UserRef{
		"user-1": {ID: "user-1", Role: "USER", TokenVersion: "v1"},
	}}
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(Config{Secret: testSecret}, source, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, source, clock
}

// requestWith carries the cookies set on w into a fresh request.
func requestWith(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return r
}

func createSession(t *testing.T, m *Manager) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	if _, err := m.Create(w, SessionUser{UserID: "user-1", Role: "USER", Version: "v1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return w
}

func TestCreateSetsBothCookies(t *testing.T) {
	m, _, _ := newTestManager(t)
	w := createSession(t, m)

	cookies := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c
	}
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c, ok := cookies[name]
		if !ok {
			t.Fatalf("missing %q cookie", name)
		}
		if !c.HttpOnly {
			t.Fatalf("%q cookie must be http-only", name)
		}
		if c.SameSite != http.SameSiteLaxMode {
			t.Fatalf("%q cookie must be SameSite=Lax", name)
		}
	}
	if cookies[AccessCookie].MaxAge != int(DefaultAccessTTL/time.Second) {
		t.Fatalf("unexpected access cookie max-age %d", cookies[AccessCookie].MaxAge)
	}
	if cookies[RefreshCookie].MaxAge != int(DefaultRefreshTTL/time.Second) {
		t.Fatalf("unexpected refresh cookie max-age %d", cookies[RefreshCookie].MaxAge)
	}
}

func TestVerifyReturnsClaims(t *testing.T) {
	m, _, _ := newTestManager(t)
	w := createSession(t, m)

	claims, err := m.Verify(context.Background(), httptest.NewRecorder(), requestWith(w))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims == nil || claims.UserID != "user-1" || claims.Role != "USER" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyAnonymousRequest(t *testing.T) {
	m, _, _ := newTestManager(t)

	claims, err := m.Verify(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims != nil {
		t.Fatalf("expected nil claims, got %+v", claims)
	}
}

func TestVerifyLazyRefresh(t *testing.T) {
	m, _, clock := newTestManager(t)
	w := createSession(t, m)

	// Past the access TTL but inside the refresh TTL.
	clock.Advance(DefaultAccessTTL + time.Minute)

	out := httptest.NewRecorder()
	claims, err := m.Verify(context.Background(), out, requestWith(w))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims == nil || claims.UserID != "user-1" {
		t.Fatalf("expected refreshed claims, got %+v", claims)
	}

	// A fresh pair was written out.
	found := map[string]bool{}
	for _, c := range out.Result().Cookies() {
		if c.MaxAge > 0 {
			found[c.Name] = true
		}
	}
	if !found[AccessCookie] || !found[RefreshCookie] {
		t.Fatalf("expected both cookies reissued, got %v", found)
	}
}

func TestVerifyExpiredRefreshIsAnonymous(t *testing.T) {
	m, _, clock := newTestManager(t)
	w := createSession(t, m)

	clock.Advance(DefaultRefreshTTL + time.Minute)

	claims, err := m.Verify(context.Background(), httptest.NewRecorder(), requestWith(w))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims != nil {
		t.Fatalf("expected nil claims after refresh expiry, got %+v", claims)
	}
}

func TestVerifyTamperedTokenIsAnonymous(t *testing.T) {
	m, _, _ := newTestManager(t)
	w := createSession(t, m)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		v := c.Value
		if len(v) > 0 {
			v = v[:len(v)-1] + "x"
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: v})
	}

	out := httptest.NewRecorder()
	claims, err := m.Verify(context.Background(), out, r)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims != nil {
		t.Fatalf("expected tampered cookies to read as anonymous, got %+v", claims)
	}
	assertCookiesCleared(t, out)
}

func TestVerifyVersionMismatchIsRevoked(t *testing.T) {
	m, source, _ := newTestManager(t)
	w := createSession(t, m)

	source.refs["user-1"].TokenVersion = "v2"

	out := httptest.NewRecorder()
	_, err := m.Verify(context.Background(), out, requestWith(w))
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	assertCookiesCleared(t, out)
}

func TestVerifyUnknownUserIsAnonymous(t *testing.T) {
	m, source, _ := newTestManager(t)
	w := createSession(t, m)

	delete(source.refs, "user-1")

	out := httptest.NewRecorder()
	claims, err := m.Verify(context.Background(), out, requestWith(w))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims != nil {
		t.Fatalf("expected nil claims for deleted user, got %+v", claims)
	}
	assertCookiesCleared(t, out)
}

func TestVerifySourceFailure(t *testing.T) {
	m, source, _ := newTestManager(t)
	w := createSession(t, m)

	source.fail = errors.New("connection refused")

	_, err := m.Verify(context.Background(), httptest.NewRecorder(), requestWith(w))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDestroyClearsCookies(t *testing.T) {
	m, source, _ := newTestManager(t)
	w := createSession(t, m)

	out := httptest.NewRecorder()
	if err := m.Destroy(context.Background(), out, requestWith(w), false); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	assertCookiesCleared(t, out)
	if source.rotated != 0 {
		t.Fatalf("single-device logout must not rotate, rotated %d times", source.rotated)
	}
}

func TestDestroyAllDevicesRotatesVersion(t *testing.T) {
	m, source, _ := newTestManager(t)
	w := createSession(t, m)

	out := httptest.NewRecorder()
	if err := m.Destroy(context.Background(), out, requestWith(w), true); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if source.rotated != 1 {
		t.Fatalf("expected one rotation, got %d", source.rotated)
	}
	assertCookiesCleared(t, out)

	// The old refresh token is now revoked everywhere.
	out2 := httptest.NewRecorder()
	if _, err := m.Verify(context.Background(), out2, requestWith(w)); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected old refresh token revoked, got %v", err)
	}
}

func TestNewManagerRejectsWeakSecret(t *testing.T) {
	_, err := NewManager(Config{Secret: []byte("short")}, &stubSource{refs: map[string]*UserRef{}})
	if err == nil {
		t.Fatal("expected weak secret to be rejected")
	}
}

func assertCookiesCleared(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 && c.Value == "" {
			cleared[c.Name] = true
		}
	}
	if !cleared[AccessCookie] || !cleared[RefreshCookie] {
		t.Fatalf("expected both cookies cleared, got %v", cleared)
	}
}
