// Package provider wraps the external identity provider. Its token
// signing infrastructure is a black box: we hand over the raw token and
// get back verified claims or a typed failure.
package provider

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var (
	// ErrTokenInvalid means the provider examined the token and rejected
	// it. Terminal.
	ErrTokenInvalid = errors.New("provider rejected token")
	// ErrUnavailable means the provider could not be reached or answered
	// with a server error. Transient.
	ErrUnavailable = errors.New("provider unavailable")
)

// Claims is the normalized identity assertion extracted from a provider
// token or userinfo response.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// TokenVerifier checks a provider-issued identity token.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (*Claims, error)
}

// CodeExchanger runs the login redirect flow: authorization URL, code
// exchange, userinfo fetch.
type CodeExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*Claims, error)
}
