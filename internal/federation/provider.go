// Package federation performs the OAuth2 authorization code flow against
// external sign-in providers.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

var (
	ErrUnknownProvider       = errors.New("unknown federation provider")
	ErrProviderMisconfigured = errors.New("federation provider is misconfigured")
	ErrExchangeFailed        = errors.New("federation code exchange failed")
)

// ExternalUser is the identity asserted by an external provider.
type ExternalUser struct {
	Subject string
	Email   string
	Name    string
}

type userInfoFunc func(ctx context.Context, client *http.Client) (*ExternalUser, error)

type Provider struct {
	name     string
	oauth    *oauth2.Config
	client   *http.Client
	userInfo userInfoFunc
}

func (p *Provider) Name() string {
	return p.name
}

// AuthCodeURL returns the provider URL the browser is sent to.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for the external user's identity.
func (p *Provider) Exchange(ctx context.Context, code string) (*ExternalUser, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrExchangeFailed)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExchangeFailed, p.name, err)
	}

	user, err := p.userInfo(ctx, p.oauth.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("%w: %s userinfo: %w", ErrExchangeFailed, p.name, err)
	}
	if user.Email == "" {
		return nil, fmt.Errorf("%w: %s returned no email", ErrExchangeFailed, p.name)
	}
	user.Email = strings.ToLower(user.Email)
	return user, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// oidcUserInfo reads a standard OpenID Connect userinfo document.
func oidcUserInfo(url string) userInfoFunc {
	return func(ctx context.Context, client *http.Client) (*ExternalUser, error) {
		var info struct {
			Sub           string `json:"sub"`
			Email         string `json:"email"`
			EmailVerified *bool  `json:"email_verified"`
			Name          string `json:"name"`
		}
		if err := getJSON(ctx, client, url, &info); err != nil {
			return nil, err
		}
		if info.EmailVerified != nil && !*info.EmailVerified {
			return nil, errors.New("email not verified")
		}
		return &ExternalUser{Subject: info.Sub, Email: info.Email, Name: info.Name}, nil
	}
}

// githubUserInfo reads the profile and falls back to the primary verified
// address when the profile email is private.
func githubUserInfo(userURL, emailsURL string) userInfoFunc {
	return func(ctx context.Context, client *http.Client) (*ExternalUser, error) {
		var profile struct {
			ID    json.Number `json:"id"`
			Login string      `json:"login"`
			Name  string      `json:"name"`
			Email string      `json:"email"`
		}
		if err := getJSON(ctx, client, userURL, &profile); err != nil {
			return nil, err
		}

		user := &ExternalUser{Subject: profile.ID.String(), Email: profile.Email, Name: profile.Name}
		if user.Name == "" {
			user.Name = profile.Login
		}

		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, emailsURL, &emails); err != nil {
			if user.Email != "" {
				return user, nil
			}
			return nil, fmt.Errorf("load emails: %w", err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				user.Email = e.Email
				return user, nil
			}
		}
		for _, e := range emails {
			if e.Verified {
				user.Email = e.Email
				return user, nil
			}
		}
		return user, nil
	}
}
