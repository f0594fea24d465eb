package federation

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/elskow/memorial-auth/internal/config"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserURL     = "https://api.github.com/user"
)

// Registry holds the providers enabled in configuration.
type Registry struct {
	providers map[string]*Provider
}

func NewRegistry(cfg *config.FederationConfig, log *zap.Logger) (*Registry, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	r := &Registry{providers: make(map[string]*Provider)}
	for name, pc := range cfg.Providers {
		name = strings.ToLower(name)
		p, err := newProvider(name, pc, strings.TrimRight(cfg.CallbackBaseURL, "/")+"/"+name, client)
		if err != nil {
			return nil, err
		}
		r.providers[name] = p
	}

	log.Info("federation providers configured", zap.Strings("providers", r.Names()))
	return r, nil
}

func newProvider(name string, pc config.FederationProviderConfig, redirectURL string, client *http.Client) (*Provider, error) {
	if pc.ClientID == "" || pc.ClientSecret == "" {
		return nil, fmt.Errorf("%w: %s needs client_id and client_secret", ErrProviderMisconfigured, name)
	}

	var (
		endpoint oauth2.Endpoint
		scopes   = pc.Scopes
		userInfo userInfoFunc
	)
	switch name {
	case "google":
		endpoint = endpoints.Google
		if len(scopes) == 0 {
			scopes = []string{"openid", "email", "profile"}
		}
		userInfo = oidcUserInfo(orDefault(pc.UserInfoURL, googleUserInfoURL))
	case "github":
		endpoint = endpoints.GitHub
		if len(scopes) == 0 {
			scopes = []string{"read:user", "user:email"}
		}
		userURL := orDefault(pc.UserInfoURL, githubUserURL)
		userInfo = githubUserInfo(userURL, userURL+"/emails")
	default:
		if pc.AuthURL == "" || pc.TokenURL == "" || pc.UserInfoURL == "" {
			return nil, fmt.Errorf("%w: %s needs auth_url, token_url and userinfo_url", ErrProviderMisconfigured, name)
		}
		if len(scopes) == 0 {
			scopes = []string{"openid", "email", "profile"}
		}
		userInfo = oidcUserInfo(pc.UserInfoURL)
	}

	if pc.AuthURL != "" {
		endpoint.AuthURL = pc.AuthURL
	}
	if pc.TokenURL != "" {
		endpoint.TokenURL = pc.TokenURL
	}

	return &Provider{
		name: name,
		oauth: &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		client:   client,
		userInfo: userInfo,
	}, nil
}

func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
