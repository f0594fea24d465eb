package auth

import (
	"context"
	"crypto/sha1" //nolint:gosec // matches the breach range API
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elskow/memorial-auth/internal/breach"
	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/federation"
	"github.com/elskow/memorial-auth/internal/identity"
	"github.com/elskow/memorial-auth/internal/identity/identitytest"
	"github.com/elskow/memorial-auth/internal/lockout"
	"github.com/elskow/memorial-auth/internal/mailer"
	"github.com/elskow/memorial-auth/internal/oauthstate"
	"github.com/elskow/memorial-auth/internal/session"
	"github.com/elskow/memorial-auth/internal/tokens"
	"github.com/elskow/memorial-auth/internal/users"
)

const (
	testOrigin       = "1.2.3.4"
	breachedPassword = "password1234"
	frontendURL      = "https://memorial.example"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []mailer.Message
	err      error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

var linkToken = regexp.MustCompile(`(?:token=|/invitations/)([A-Za-z0-9_-]+)`)

// lastToken returns the token embedded in the most recent message to addr.
func (f *fakeSender) lastToken(t *testing.T, addr string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].To != addr {
			continue
		}
		m := linkToken.FindStringSubmatch(f.messages[i].Body)
		require.Len(t, m, 2, "no link in message body")
		return m[1]
	}
	t.Fatalf("no message sent to %s", addr)
	return ""
}

type testEnv struct {
	service   *Service
	handler   *Handler
	router    *gin.Engine
	provider  *identitytest.Provider
	users     users.Repository
	resources *mockResourceRepository
	sender    *fakeSender
	idp       *httptest.Server
}

func newTestConfig(idpURL string) *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{
			FrontendURL: frontendURL,
			PublicURL:   "https://api.memorial.example",
		},
		Auth: config.AuthConfig{
			AccessTokenDuration:     time.Hour,
			RefreshTokenDuration:    7 * 24 * time.Hour,
			RememberRefreshDuration: 90 * 24 * time.Hour,
			RememberAccessCookieTTL: 30 * 24 * time.Hour,
			RefreshCookiePath:       "/auth",
			MagicLinkTTL:            15 * time.Minute,
			ResetTokenTTL:           15 * time.Minute,
			InvitationTTL:           7 * 24 * time.Hour,
			ResetMinResponseTime:    50 * time.Millisecond,
			ProviderRequestTimeout:  2 * time.Second,
			MinPasswordLength:       8,
			DefaultTier:             "free",
		},
		Lockout: config.LockoutConfig{
			Threshold:        5,
			OriginMultiplier: 3,
			Window:           15 * time.Minute,
			Duration:         15 * time.Minute,
		},
		OAuthState: config.OAuthStateConfig{TTL: 10 * time.Minute},
		Federation: config.FederationConfig{
			CallbackBaseURL: "https://api.memorial.example/auth/sso/callback",
			Timeout:         2 * time.Second,
			Providers: map[string]config.FederationProviderConfig{
				"corp": {
					ClientID:     "cid",
					ClientSecret: "secret",
					AuthURL:      idpURL + "/authorize",
					TokenURL:     idpURL + "/token",
					UserInfoURL:  idpURL + "/userinfo",
				},
			},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	idp := newFakeIdP(t)
	breachSrv := newBreachServer(t)
	cfg := newTestConfig(idp.URL)

	registry, err := federation.NewRegistry(&cfg.Federation, log)
	require.NoError(t, err)

	provider := identitytest.New()
	userRepo := users.NewMemoryRepository()
	resources := newMockResourceRepository()
	sender := &fakeSender{}

	svc := NewService(Params{
		Config:  cfg,
		Log:     log,
		Tokens:  tokens.NewManager(tokens.NewMemoryRepository(), log),
		Lockout: lockout.NewTracker(&cfg.Lockout, lockout.NewMemoryRepository(), log),
		Breach: breach.NewScreener(&config.BreachConfig{
			Enabled: true,
			BaseURL: breachSrv.URL,
			Timeout: time.Second,
		}, log),
		States:     oauthstate.NewManager(&cfg.OAuthState, oauthstate.NewMemoryStore(cfg.OAuthState.TTL), log),
		Bridge:     identity.NewBridge(&cfg.Auth, provider, userRepo, log),
		Provider:   provider,
		Sessions:   session.NewIssuer(&cfg.Auth, provider, log),
		Federation: registry,
		Users:      userRepo,
		Resources:  resources,
		Sender:     sender,
		Composer:   mailer.NewComposer(&cfg.Server),
	})

	handler := NewHandler(&cfg.Server, svc, NewAuthMiddleware(svc, log), log)
	router := gin.New()
	handler.RegisterRoutes(router)

	return &testEnv{
		service:   svc,
		handler:   handler,
		router:    router,
		provider:  provider,
		users:     userRepo,
		resources: resources,
		sender:    sender,
		idp:       idp,
	}
}

// newBreachServer answers every range query with the suffix of
// breachedPassword and some zero-count padding.
func newBreachServer(t *testing.T) *httptest.Server {
	t.Helper()
	sum := sha1.Sum([]byte(breachedPassword)) //nolint:gosec
	suffix := strings.ToUpper(hex.EncodeToString(sum[:]))[5:]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "%s:42\r\n%s:0\r\n", suffix, strings.Repeat("A", 35))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newFakeIdP is an OAuth2 provider accepting the code "good-code" and
// reporting a verified federated@example.com.
func newFakeIdP(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"ext-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ext-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":            "corp-77",
			"email":          "Federated@Example.com",
			"email_verified": true,
			"name":           "Fed User",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
