package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elskow/memorial-auth/internal/config"
)

// fakeIdP serves a token endpoint and userinfo documents.
func fakeIdP(t *testing.T, routes map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ext-token","token_type":"bearer","expires_in":3600}`))
	})
	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer ext-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRegistry(t *testing.T, providers map[string]config.FederationProviderConfig) *Registry {
	r, err := NewRegistry(&config.FederationConfig{
		CallbackBaseURL: "https://api.example.com/auth/sso/callback/",
		Timeout:         2 * time.Second,
		Providers:       providers,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestRegistry_AuthCodeURL(t *testing.T) {
	r := newRegistry(t, map[string]config.FederationProviderConfig{
		"Google": {ClientID: "cid", ClientSecret: "secret"},
	})

	p, err := r.Get("google")
	require.NoError(t, err)

	u, err := url.Parse(p.AuthCodeURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "https://api.example.com/auth/sso/callback/google", q.Get("redirect_uri"))
	assert.Equal(t, "openid email profile", q.Get("scope"))

	_, err = r.Get("myspace")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_Misconfigured(t *testing.T) {
	_, err := NewRegistry(&config.FederationConfig{
		Providers: map[string]config.FederationProviderConfig{"github": {ClientID: "only-id"}},
	}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrProviderMisconfigured)

	_, err = NewRegistry(&config.FederationConfig{
		Providers: map[string]config.FederationProviderConfig{"custom": {ClientID: "a", ClientSecret: "b"}},
	}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrProviderMisconfigured)
}

func TestProvider_ExchangeOIDC(t *testing.T) {
	srv := fakeIdP(t, map[string]any{
		"/userinfo": map[string]any{"sub": "ext-1", "email": "Jane@Example.com", "email_verified": true, "name": "Jane"},
	})
	r := newRegistry(t, map[string]config.FederationProviderConfig{
		"google": {ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL + "/token", UserInfoURL: srv.URL + "/userinfo"},
	})
	p, err := r.Get("google")
	require.NoError(t, err)

	user, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, &ExternalUser{Subject: "ext-1", Email: "jane@example.com", Name: "Jane"}, user)

	_, err = p.Exchange(context.Background(), "bad-code")
	assert.ErrorIs(t, err, ErrExchangeFailed)

	_, err = p.Exchange(context.Background(), "")
	assert.ErrorIs(t, err, ErrExchangeFailed)
}

func TestProvider_ExchangeRejectsUnverifiedEmail(t *testing.T) {
	srv := fakeIdP(t, map[string]any{
		"/userinfo": map[string]any{"sub": "ext-1", "email": "jane@example.com", "email_verified": false},
	})
	r := newRegistry(t, map[string]config.FederationProviderConfig{
		"corp": {
			ClientID:     "cid",
			ClientSecret: "secret",
			AuthURL:      srv.URL + "/authorize",
			TokenURL:     srv.URL + "/token",
			UserInfoURL:  srv.URL + "/userinfo",
		},
	})
	p, err := r.Get("corp")
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "good-code")
	assert.ErrorIs(t, err, ErrExchangeFailed)
}

func TestProvider_ExchangeGitHubPrivateEmail(t *testing.T) {
	srv := fakeIdP(t, map[string]any{
		"/user": map[string]any{"id": 4242, "login": "jdoe", "name": "", "email": nil},
		"/user/emails": []map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "jdoe@example.com", "primary": true, "verified": true},
		},
	})
	r := newRegistry(t, map[string]config.FederationProviderConfig{
		"github": {ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL + "/token", UserInfoURL: srv.URL + "/user"},
	})
	p, err := r.Get("github")
	require.NoError(t, err)

	user, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "4242", user.Subject)
	assert.Equal(t, "jdoe@example.com", user.Email)
	assert.Equal(t, "jdoe", user.Name)
}

func TestProvider_ExchangeHonoursDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ext-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := newRegistry(t, map[string]config.FederationProviderConfig{
		"corp": {
			ClientID:     "cid",
			ClientSecret: "secret",
			AuthURL:      srv.URL + "/authorize",
			TokenURL:     srv.URL + "/token",
			UserInfoURL:  srv.URL + "/userinfo",
		},
	})
	p, err := r.Get("corp")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Exchange(ctx, "good-code")
	assert.ErrorIs(t, err, ErrExchangeFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "userinfo call must stop at the caller's deadline")
}
