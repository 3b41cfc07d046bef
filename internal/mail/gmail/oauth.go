package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultTokenURL is Google's OAuth token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	defaultAuthURL = "https://accounts.google.com/o/oauth2/auth"
)

// OAuthConfig holds the client credentials and long-lived refresh token of the
// mailbox the agent sends from.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	// HTTPClient is used for token requests; nil means http.DefaultClient.
	HTTPClient *http.Client
}

// NewTokenSource picks the OAuth source when cfg carries a refresh token and a
// static accessToken otherwise.
func NewTokenSource(accessToken string, cfg OAuthConfig) (TokenSource, error) {
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return StaticTokenSource(accessToken), nil
	}
	return NewOAuthTokenSource(cfg)
}

// OAuthTokenSource exchanges the refresh token for access tokens and reuses each
// one until shortly before it expires.
type OAuthTokenSource struct {
	src oauth2.TokenSource
}

// NewOAuthTokenSource returns a TokenSource backed by cfg. The first AccessToken call
// performs a refresh.
func NewOAuthTokenSource(cfg OAuthConfig) (*OAuthTokenSource, error) {
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return nil, errors.New("gmail: refresh token is required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: defaultAuthURL, TokenURL: tokenURL},
	}
	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	src := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken, Expiry: time.Now().Add(-time.Hour)})
	return &OAuthTokenSource{src: oauth2.ReuseTokenSource(nil, src)}, nil
}

// AccessToken implements TokenSource. Every user sends through the same mailbox.
func (s *OAuthTokenSource) AccessToken(context.Context, string) (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("gmail token refresh: %w", err)
	}
	return tok.AccessToken, nil
}
