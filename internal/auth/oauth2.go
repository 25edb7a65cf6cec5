package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
}

// OAuth2 accepts bearer access tokens issued by an external authorization
// server and resolves them through its userinfo endpoint.
type OAuth2 struct {
	conf        *oauth2.Config
	userInfoURL string
}

func NewOAuth2(c OAuth2Config) (*OAuth2, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, errors.New("oauth2: client_id and client_secret are required")
	}
	if c.UserInfoURL == "" {
		return nil, errors.New("oauth2: userinfo_url is required")
	}
	return &OAuth2{
		conf: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: c.AuthURL, TokenURL: c.TokenURL},
		},
		userInfoURL: c.UserInfoURL,
	}, nil
}

func (o *OAuth2) Authenticate(ctx context.Context, r *http.Request) (*User, error) {
	raw, ok := bearer(r)
	if !ok {
		return nil, ErrNoCredentials
	}

	client := o.conf.Client(ctx, &oauth2.Token{AccessToken: raw, TokenType: "Bearer"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userInfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "oauth2: build userinfo request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "oauth2: userinfo")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("oauth2: userinfo returned %d", resp.StatusCode)
	}
	var claims map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
		return nil, errors.Wrap(err, "oauth2: decode userinfo")
	}
	return userFromClaims(claims), nil
}
