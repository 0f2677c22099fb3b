package idapi

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType discriminates credential variants.
type AuthType int

const (
	AuthNone AuthType = iota
	AuthJWT
	AuthOAuth2
)

func (t AuthType) String() string {
	switch t {
	case AuthJWT:
		return "jwt"
	case AuthOAuth2:
		return "oauth2"
	default:
		return "none"
	}
}

// Credential is the current authentication state. An OAuth2 credential is
// valid iff AccessToken is non-empty and the expiry is in the future; JWT
// credentials carry no expiry notion and are caller-owned.
type Credential struct {
	Type         AuthType
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Stale reports whether an OAuth2 credential must be refreshed before use.
// Credentials of other types are never stale.
func (c Credential) Stale(now time.Time) bool {
	if c.Type != AuthOAuth2 {
		return false
	}
	return c.AccessToken == "" || !now.Before(c.ExpiresAt)
}

// AuthProvider owns credential state for a client. EnsureValid returns a
// usable credential, refreshing it first when needed; Attach produces a new
// request with the credential applied. Providers must be safe for use from
// concurrent calls.
type AuthProvider interface {
	EnsureValid(ctx context.Context) (Credential, error)
	Attach(req *Request, cred Credential) *Request
}

// NoAuth is the zero authentication scheme: EnsureValid always succeeds
// with an empty credential and Attach is the identity.
type NoAuth struct{}

func (NoAuth) EnsureValid(context.Context) (Credential, error) {
	return Credential{Type: AuthNone}, nil
}

func (NoAuth) Attach(req *Request, _ Credential) *Request {
	return req
}

// StaticTokenAuth attaches a caller-supplied JWT as a bearer token. The
// token is assumed valid for every call; no expiry tracking or refresh
// happens here.
type StaticTokenAuth struct {
	token string
}

// NewStaticTokenAuth wraps a raw JWT. The token is inspected (unverified)
// and a warning is logged when it already carries a past exp claim; the
// token is still used as-is since validity is the caller's contract.
func NewStaticTokenAuth(token string, logger Logger) *StaticTokenAuth {
	if logger != nil {
		if exp, ok := jwtExpiry(token); ok && exp.Before(time.Now()) {
			logger.Warn("static JWT is past its exp claim", "expiredAt", exp.Format(time.RFC3339))
		}
	}
	return &StaticTokenAuth{token: token}
}

func (a *StaticTokenAuth) EnsureValid(context.Context) (Credential, error) {
	return Credential{Type: AuthJWT, AccessToken: a.token}, nil
}

func (a *StaticTokenAuth) Attach(req *Request, cred Credential) *Request {
	out := req.Clone()
	out.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	return out
}

// jwtExpiry extracts the exp claim from a JWT without verifying its
// signature. Returns ok=false for opaque or claimless tokens.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
