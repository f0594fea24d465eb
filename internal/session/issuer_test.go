package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/identity"
	"github.com/elskow/memorial-auth/internal/identity/identitytest"
)

func newTestIssuer(t *testing.T) (*Issuer, *identitytest.Provider) {
	provider := identitytest.New()
	provider.AddAccount("acct-1", "jane@example.com", "pw")
	cfg := &config.AuthConfig{
		AccessTokenDuration:     time.Hour,
		RememberAccessCookieTTL: 30 * 24 * time.Hour,
		SecureCookies:           true,
		RefreshCookiePath:       "/auth",
	}
	return NewIssuer(cfg, provider, zaptest.NewLogger(t)), provider
}

func cookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestIssuer_IssueSetsCookies(t *testing.T) {
	tests := []struct {
		name         string
		remember     bool
		accessMaxAge int
	}{
		{name: "session", remember: false, accessMaxAge: int(time.Hour.Seconds())},
		{name: "remember me", remember: true, accessMaxAge: int((30 * 24 * time.Hour).Seconds())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, _ := newTestIssuer(t)
			rec := httptest.NewRecorder()

			pair, err := issuer.Issue(context.Background(), rec, "acct-1", tt.remember)
			require.NoError(t, err)

			got := cookies(rec)
			access := got[AccessCookie]
			require.NotNil(t, access)
			assert.Equal(t, pair.AccessToken, access.Value)
			assert.Equal(t, "/", access.Path)
			assert.Equal(t, tt.accessMaxAge, access.MaxAge)
			assert.True(t, access.HttpOnly)
			assert.True(t, access.Secure)
			assert.Equal(t, http.SameSiteLaxMode, access.SameSite)

			refresh := got[RefreshCookie]
			require.NotNil(t, refresh)
			assert.Equal(t, pair.RefreshToken, refresh.Value)
			assert.Equal(t, "/auth", refresh.Path)
			assert.True(t, refresh.HttpOnly)
			assert.Greater(t, refresh.MaxAge, 0)
		})
	}
}

func TestIssuer_RefreshPreservesRemember(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	first, err := issuer.Issue(ctx, httptest.NewRecorder(), "acct-1", true)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	rotated, err := issuer.Refresh(ctx, rec, first.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rotated.Remember)
	assert.NotEqual(t, first.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), cookies(rec)[AccessCookie].MaxAge)

	_, err = issuer.Refresh(ctx, httptest.NewRecorder(), first.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)
}

func TestIssuer_RevokeAlwaysClearsCookies(t *testing.T) {
	issuer, provider := newTestIssuer(t)
	provider.RevokeErr = errors.New("provider down")

	rec := httptest.NewRecorder()
	issuer.Revoke(context.Background(), rec, "some-access-token")

	got := cookies(rec)
	require.Contains(t, got, AccessCookie)
	require.Contains(t, got, RefreshCookie)
	assert.Equal(t, "", got[AccessCookie].Value)
	assert.Less(t, got[AccessCookie].MaxAge, 0)
	assert.Equal(t, "/auth", got[RefreshCookie].Path)
	assert.Less(t, got[RefreshCookie].MaxAge, 0)
}

func TestIssuer_RevokeCallsProvider(t *testing.T) {
	issuer, provider := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, httptest.NewRecorder(), "acct-1", false)
	require.NoError(t, err)

	issuer.Revoke(ctx, httptest.NewRecorder(), pair.AccessToken)
	assert.Equal(t, []string{pair.AccessToken}, provider.Revoked)

	_, err = provider.ValidateAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, identity.ErrInvalidAccessToken)
}
