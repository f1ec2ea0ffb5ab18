package authcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/veltrix/authcore/password"
	"github.com/veltrix/authcore/session"
	"github.com/veltrix/authcore/store"
	"github.com/veltrix/authcore/store/memstore"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// captureMailer records the last code delivered per (purpose, email)
// instead of sending mail.
type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
	fail  error
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{codes: make(map[string]string)}
}

func (m *captureMailer) SendCode(_ context.Context, to string, purpose store.CodePurpose, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.codes[string(purpose)+":"+to] = code
	return nil
}

func (m *captureMailer) code(purpose store.CodePurpose, to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[string(purpose)+":"+to]
}

// fakeSMS approves exactly one code and records every send.
type fakeSMS struct {
	mu     sync.Mutex
	sent   []string
	accept string
	reject SMSStatus
	fail   error
}

func newFakeSMS(accept string) *fakeSMS {
	return &fakeSMS{accept: accept, reject: SMSMaxAttemptsReached}
}

func (f *fakeSMS) Send(_ context.Context, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeSMS) Check(_ context.Context, to, code string) (SMSCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return SMSCheck{}, f.fail
	}
	if code == f.accept {
		return SMSCheck{Status: SMSApproved, To: to}, nil
	}
	return SMSCheck{Status: f.reject, To: to}, nil
}

func (f *fakeSMS) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSMS) sentTo(number string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, to := range f.sent {
		if to == number {
			n++
		}
	}
	return n
}

type fakeOAuth struct {
	name    string
	tokens  OAuthTokens
	profile OAuthProfile
	err     error
}

func (f *fakeOAuth) Name() string { return f.name }

func (f *fakeOAuth) Exchange(context.Context, string, string) (OAuthTokens, error) {
	return f.tokens, f.err
}

func (f *fakeOAuth) FetchProfile(context.Context, string) (OAuthProfile, error) {
	return f.profile, f.err
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

type testEnv struct {
	engine *Engine
	store  *memstore.Store
	mailer *captureMailer
	sms    *fakeSMS
	clock  *testClock
}

func newTestEnv(t *testing.T, providers ...OAuthProvider) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  memstore.New(),
		mailer: newCaptureMailer(),
		sms:    newFakeSMS("424242"),
		clock:  &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}

	cfg := DefaultConfig()
	cfg.JWT.Secret = testSecret

	b := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithMailer(env.mailer).
		WithSMSVerifier(env.sms).
		WithClock(env.clock.Now)
	for _, p := range providers {
		b = b.WithOAuthProvider(p)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	env.engine = engine
	return env
}

type seedOpt func(*store.User)

func verified() seedOpt {
	return func(u *store.User) {
		now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		if u.Email != "" {
			u.EmailVerifiedAt = &now
		}
		if u.Telephone != "" {
			u.PhoneVerifiedAt = &now
		}
	}
}

func withTwoFactor() seedOpt {
	return func(u *store.User) { u.IsTwoFactorEnabled = true }
}

func withRole(r store.Role) seedOpt {
	return func(u *store.User) { u.Role = r }
}

func (env *testEnv) seedUser(t *testing.T, email, telephone, plain string, opts ...seedOpt) *store.User {
	t.Helper()

	u := &store.User{
		FullName:            "Alice Doe",
		Email:               email,
		Telephone:           telephone,
		Role:                store.RoleUser,
		RefreshTokenVersion: session.NewTokenVersion(),
	}
	if plain != "" {
		hash, err := password.Hash(plain)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		u.PasswordHash = hash
	}
	for _, opt := range opts {
		opt(u)
	}

	created, err := env.store.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return created
}

// login performs a full clean login and returns the recorder holding
// the session cookies.
func (env *testEnv) login(t *testing.T, id Identity, plain string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	res, err := env.engine.Login(context.Background(), w, LoginRequest{Identity: id, Password: plain})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User == nil {
		t.Fatalf("expected a completed login, got %+v", res)
	}
	return w
}

// authedRequest carries the cookies set on w into a fresh request.
func authedRequest(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return r
}

func sessionCookies(w *httptest.ResponseRecorder) map[string]string {
	out := map[string]string{}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge > 0 && c.Value != "" {
			out[c.Name] = c.Value
		}
	}
	return out
}
