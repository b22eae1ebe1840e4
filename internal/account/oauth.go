package account

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"mailengine/internal/apperr"
)

// refreshSafetyMargin is how far ahead of expiry GetFreshAccessToken
// triggers a refresh,
// per spec §4.1 ("within a safety margin (≥ 60 s)").
const refreshSafetyMargin = 60 * time.Second

var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
}

// OAuth drives the authorization-code + PKCE flow and token refresh for one
// account. Unlike the teacher's oauth.go (which pastes an auth code by
// hand), the engine has no terminal to paste into, so it runs a localhost
// callback listener per spec §6 ("redirect URI on localhost").
type OAuth struct {
	config *oauth2.Config
}

// NewOAuth builds an OAuth driver from a Google OAuth client ID and secret
// (the two fields of the client config the teacher's auth.New reads).
func NewOAuth(clientID, clientSecret string) *OAuth {
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       gmailScopes,
			Endpoint:     google.Endpoint,
		},
	}
}

func randomVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Authorize runs the PKCE authorization-code flow: it starts a one-shot
// localhost HTTP listener, opens the provider's consent URL (the caller's
// responsibility — the GUI shell owns presenting it to the user, per §1),
// and blocks until the redirect arrives or ctx is cancelled.
func (o *OAuth) Authorize(ctx context.Context, openConsentURL func(url string)) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	defer listener.Close()

	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", listener.Addr().(*net.TCPAddr).Port)
	o.config.RedirectURL = redirectURI

	verifier, err := randomVerifier()
	if err != nil {
		return nil, err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	server := &http.Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- fmt.Errorf("missing authorization code")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "Authentication complete. You may close this window.")
		codeCh <- code
	})
	server.Handler = mux

	go server.Serve(listener)
	defer server.Close()

	authURL := o.config.AuthCodeURL("state", oauth2.S256ChallengeOption(verifier))
	openConsentURL(authURL)

	select {
	case code := <-codeCh:
		token, err := o.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, fmt.Errorf("exchanging auth code: %w", apperr.ErrAuthRequired)
		}
		return token, nil
	case err := <-errCh:
		return nil, fmt.Errorf("%w: %v", apperr.ErrAuthRequired, err)
	case <-ctx.Done():
		return nil, apperr.ErrCancelled
	}
}

// RefreshOAuth exchanges a stored refresh token for a fresh access token,
// returning it; it does not persist anything. Called by GetFreshAccessToken
// when the stored access token is within refreshSafetyMargin of expiry.
func (o *OAuth) RefreshOAuth(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	src := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCredentialExpired, err)
	}
	return token, nil
}

// GetFreshAccessToken returns a valid access token for accountID, silently
// refreshing via the stored refresh token if the cached one is stale,
// implementing the transparent-refresh behavior of spec §4.1.
func (o *OAuth) GetFreshAccessToken(ctx context.Context, accountID string) (string, error) {
	accessCred, err := Get(accountID, KindOAuthAccess)
	if err != nil && err != apperr.ErrNotFound {
		return "", err
	}

	if accessCred != nil && time.Until(accessCred.ExpiresAt) > refreshSafetyMargin {
		return accessCred.Secret, nil
	}

	refreshCred, err := Get(accountID, KindOAuthRefresh)
	if err != nil {
		return "", apperr.ErrAuthRequired
	}

	token, err := o.RefreshOAuth(ctx, refreshCred.Secret)
	if err != nil {
		return "", fmt.Errorf("%w", apperr.ErrAuthRequired)
	}

	if err := Put(accountID, KindOAuthAccess, Credential{
		AccountID: accountID,
		Kind:      KindOAuthAccess,
		Secret:    token.AccessToken,
		ExpiresAt: token.Expiry,
	}); err != nil {
		return "", err
	}

	return token.AccessToken, nil
}
