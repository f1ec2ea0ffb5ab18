package authcore

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/veltrix/authcore/session"
	"github.com/veltrix/authcore/store"
)

// Provider names the engine knows out of the box. Any OAuthProvider
// implementation can be registered under any name; these are the two
// the product ships.
const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

// OAuthCallback consumes the outcome of a provider redirect: it
// exchanges the authorization code, fetches the federated profile, and
// resolves it to a local user. A known (provider, externalID) pair
// logs its owner in; an unknown one creates a User with the email
// pre-verified (the provider already verified it) plus a
// LinkedAccount. Either way the caller ends up with session cookies
// on w.
func (e *Engine) OAuthCallback(ctx context.Context, w http.ResponseWriter, providerName, authCode, verifier string) (*Result, error) {
	p, ok := e.oauth[providerName]
	if !ok {
		return nil, ErrEngineNotReady
	}

	tokens, err := p.Exchange(ctx, authCode, verifier)
	if err != nil {
		return nil, providerErr(err)
	}
	profile, err := p.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return nil, providerErr(err)
	}
	if profile.ExternalID == "" {
		return nil, providerErr(errors.New("provider returned an empty external id"))
	}

	account, err := e.store.LinkedAccountByProvider(ctx, providerName, profile.ExternalID)
	switch {
	case err == nil:
		return e.oauthLogin(ctx, w, account.UserID)
	case errors.Is(err, store.ErrNotFound):
		return e.oauthSignup(ctx, w, p.Name(), tokens, profile)
	default:
		return nil, storeErr(err)
	}
}

func (e *Engine) oauthLogin(ctx context.Context, w http.ResponseWriter, userID string) (*Result, error) {
	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Orphaned binding: the owning user is gone.
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}
	return e.establishOAuthSession(ctx, w, user)
}

func (e *Engine) oauthSignup(ctx context.Context, w http.ResponseWriter, providerName string, tokens OAuthTokens, profile OAuthProfile) (*Result, error) {
	now := e.now()
	user, err := e.store.CreateUser(ctx, &store.User{
		FullName:            profile.Name,
		Email:               profile.Email,
		Image:               profile.PictureURL,
		Role:                store.RoleUser,
		EmailVerifiedAt:     &now,
		RefreshTokenVersion: session.NewTokenVersion(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailInUse
		}
		return nil, storeErr(err)
	}

	account := &store.LinkedAccount{
		UserID:            user.ID,
		Provider:          providerName,
		ProviderAccountID: profile.ExternalID,
		AccessToken:       tokens.AccessToken,
	}
	if !tokens.ExpiresAt.IsZero() {
		expires := tokens.ExpiresAt
		account.ExpiresAt = &expires
	}
	if _, err := e.store.CreateLinkedAccount(ctx, account); err != nil {
		return nil, storeErr(err)
	}

	e.log.Info("federated account created",
		zap.String("provider", providerName),
		zap.String("user_id", user.ID),
	)
	return e.establishOAuthSession(ctx, w, user)
}

func (e *Engine) establishOAuthSession(ctx context.Context, w http.ResponseWriter, user *store.User) (*Result, error) {
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
	e.metricInc(MetricOAuthLogin)
	return &Result{User: dto}, nil
}
