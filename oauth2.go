package idapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultTokenLifetime is assumed when the token endpoint omits expires_in.
const defaultTokenLifetime = time.Hour

// OAuth2Config holds the static token-endpoint configuration plus an
// optional seed credential. A seeded access token without a known expiry is
// treated as stale and refreshed on first use.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// OAuth2Auth manages a refreshable OAuth2 credential. The credential is the
// only mutable state shared across concurrent calls; refresh is coalesced
// so that N callers observing a stale credential issue exactly one exchange
// and share its result.
type OAuth2Auth struct {
	clientID     string
	clientSecret string
	tokenURL     string
	transport    Transport
	logger       Logger
	metrics      *MetricsCollector
	now          func() time.Time

	mu   sync.Mutex
	cred Credential

	refresh singleflight.Group
}

// NewOAuth2Auth builds an OAuth2 provider that performs token exchanges
// through the supplied transport. Until Authenticate succeeds or a seeded
// refresh token is exchanged, the provider is unauthenticated.
func NewOAuth2Auth(cfg OAuth2Config, transport Transport, logger Logger) *OAuth2Auth {
	return &OAuth2Auth{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		transport:    transport,
		logger:       logger,
		now:          time.Now,
		cred: Credential{
			Type:         AuthOAuth2,
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
			ExpiresAt:    cfg.ExpiresAt,
		},
	}
}

// Credential returns a snapshot of the current credential state.
func (a *OAuth2Auth) Credential() Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cred
}

// EnsureValid returns a usable credential, performing at most one in-flight
// refresh exchange regardless of caller concurrency. A stale credential
// without a refresh token fails with AuthExpiredNoRefresh; a failed
// exchange fails with AuthRefreshFailed. Neither is ever retried by the
// executor's retry engine.
func (a *OAuth2Auth) EnsureValid(ctx context.Context) (Credential, error) {
	cred := a.Credential()
	if !cred.Stale(a.now()) {
		return cred, nil
	}

	v, err, _ := a.refresh.Do("refresh", func() (any, error) {
		// Re-check under the flight: a concurrent caller may have already
		// refreshed between the stale observation and this execution.
		cred := a.Credential()
		if !cred.Stale(a.now()) {
			return cred, nil
		}
		if cred.RefreshToken == "" {
			return nil, &AuthError{Kind: AuthExpiredNoRefresh, Message: "credential expired and no refresh token available"}
		}
		return a.refreshExchange(ctx, cred.RefreshToken)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Attach sets the bearer token on a clone of the request.
func (a *OAuth2Auth) Attach(req *Request, cred Credential) *Request {
	out := req.Clone()
	out.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	return out
}

// Authenticate performs the initial password grant. It is the only way to
// move the provider from unauthenticated to valid from scratch.
func (a *OAuth2Auth) Authenticate(ctx context.Context, username, password string) error {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}
	cred, err := a.exchange(ctx, form, AuthInvalidCredentials)
	if err != nil {
		return err
	}
	a.store(cred)
	if a.logger != nil {
		a.logger.Info("oauth2 authenticated", "tokenURL", a.tokenURL, "expiresAt", cred.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (a *OAuth2Auth) refreshExchange(ctx context.Context, refreshToken string) (Credential, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	cred, err := a.exchange(ctx, form, AuthRefreshFailed)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordAuthRefresh("failure")
		}
		return Credential{}, err
	}
	// The server may rotate the refresh token; keep the old one when it
	// does not.
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	a.store(cred)
	if a.metrics != nil {
		a.metrics.RecordAuthRefresh("success")
	}
	if a.logger != nil {
		a.logger.Debug("oauth2 credential refreshed", "expiresAt", cred.ExpiresAt.Format(time.RFC3339))
	}
	return cred, nil
}

func (a *OAuth2Auth) exchange(ctx context.Context, form url.Values, failKind AuthErrorKind) (Credential, error) {
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)

	req := &Request{
		Method: "POST",
		URL:    a.tokenURL,
		Header: map[string][]string{
			"Content-Type": {"application/x-www-form-urlencoded"},
		},
		Body: []byte(form.Encode()),
	}

	raw, err := a.transport.Execute(ctx, req)
	if err != nil {
		return Credential{}, &AuthError{Kind: failKind, Message: "token endpoint unreachable", Cause: err}
	}
	if raw.StatusCode < 200 || raw.StatusCode >= 300 {
		return Credential{}, &AuthError{
			Kind:    failKind,
			Message: fmt.Sprintf("token endpoint returned status %d", raw.StatusCode),
		}
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
	}
	if err := json.Unmarshal(raw.Body, &body); err != nil {
		return Credential{}, &AuthError{Kind: failKind, Message: "malformed token response", Cause: err}
	}
	if body.AccessToken == "" {
		return Credential{}, &AuthError{Kind: failKind, Message: "token response missing access_token"}
	}

	lifetime := defaultTokenLifetime
	if body.ExpiresIn > 0 {
		lifetime = time.Duration(body.ExpiresIn) * time.Second
	}

	return Credential{
		Type:         AuthOAuth2,
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    a.now().Add(lifetime),
	}, nil
}

func (a *OAuth2Auth) store(cred Credential) {
	a.mu.Lock()
	a.cred = cred
	a.mu.Unlock()
}
