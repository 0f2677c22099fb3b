package idapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Client issues HTTP requests through one uniform API, transparently
// handling credential refresh, transient-failure retry and the interceptor
// pipeline. A single Client is safe for concurrent use; concurrent calls
// are independent except for the shared AuthProvider credential.
type Client struct {
	baseURL         string
	transport       Transport
	auth            AuthProvider
	retryPolicy     RetryPolicy
	classifier      *classifier
	interceptors    interceptorChain
	defaultHeaders  http.Header
	timeout         time.Duration
	callTimeout     time.Duration
	logger          Logger
	logRequestBody  bool
	logResponseBody bool
	mask            MaskFunc
	metrics         *MetricsCollector
	limiter         *rate.Limiter
	breaker         *gobreaker.CircuitBreaker[*RawResponse]
	requestIDGen    func() string
	validationError error

	pendingJWT   *string
	pendingOAuth *OAuth2Config

	maxRetries          int
	retryDelay          time.Duration
	maxRetryDelay       time.Duration
	retryBackoff        float64
	retryJitter         float64
	backoffStrategy     BackoffStrategy
	retryStatusCodes    []int
	retryTransportKinds []TransportErrorKind
}

// New constructs a Client from functional options. Configuration is
// validated best effort; call IsValid / ValidationError to check.
func New(options ...Option) *Client {
	client := &Client{
		auth:                NoAuth{},
		defaultHeaders:      make(http.Header),
		timeout:             30 * time.Second,
		mask:                DefaultMask,
		maxRetries:          0,
		retryDelay:          time.Second,
		retryBackoff:        1.0,
		retryStatusCodes:    DefaultRetryStatusCodes,
		retryTransportKinds: DefaultRetryTransportKinds,
	}

	for _, option := range options {
		option(client)
	}

	if client.transport == nil {
		client.transport = NewHTTPTransport(nil)
	}
	if client.requestIDGen == nil {
		client.requestIDGen = defaultRequestIDGen
	}

	// Auth providers are resolved after all options so they see the final
	// transport and logger regardless of option order.
	if client.pendingJWT != nil && *client.pendingJWT != "" {
		client.auth = NewStaticTokenAuth(*client.pendingJWT, client.logger)
	}
	if client.pendingOAuth != nil {
		oauth := NewOAuth2Auth(*client.pendingOAuth, client.transport, client.logger)
		oauth.metrics = client.metrics
		client.auth = oauth
	}

	if client.retryPolicy == nil {
		client.retryPolicy = NewDefaultRetryPolicyWithStrategy(
			client.maxRetries, client.retryDelay, client.maxRetryDelay,
			client.retryBackoff, client.retryJitter, client.backoffStrategy)
	}
	client.classifier = newClassifier(client.retryStatusCodes, client.retryTransportKinds)

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Close releases the client's transport. Idempotent; calls in flight fail
// with a transport-closed error rather than hang.
func (c *Client) Close() error {
	return c.transport.Close()
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	query   url.Values
	header  http.Header
	body    any
	timeout time.Duration
}

// WithParam adds one query parameter to the call.
func WithParam(key, value string) CallOption {
	return func(o *callOptions) {
		if o.query == nil {
			o.query = make(url.Values)
		}
		o.query.Add(key, value)
	}
}

// WithParams adds a set of query parameters to the call.
func WithParams(params url.Values) CallOption {
	return func(o *callOptions) {
		if o.query == nil {
			o.query = make(url.Values)
		}
		for k, vs := range params {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// WithHeader sets a per-call header; it overrides a client default header
// with the same name.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set(key, value)
	}
}

// WithRequestTimeout overrides the per-attempt timeout for this call.
func WithRequestTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// Get performs a GET call.
func (c *Client) Get(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Delete performs a DELETE call.
func (c *Client) Delete(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Post performs a POST call. A non-nil body is JSON-serialized unless it is
// already a []byte or string.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put performs a PUT call.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Patch performs a PATCH call.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

// Do performs one logical call, blocking until its terminal outcome.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...CallOption) (*Response, error) {
	call := &callOptions{body: body}
	for _, opt := range opts {
		opt(call)
	}
	return c.perform(ctx, method, path, call)
}

// DoAsync performs one logical call on its own goroutine and returns a
// Future for the result. Outcomes are identical to Do.
func (c *Client) DoAsync(ctx context.Context, method, path string, body any, opts ...CallOption) *Future {
	f := newFuture()
	go func() {
		resp, err := c.Do(ctx, method, path, body, opts...)
		f.complete(resp, err)
	}()
	return f
}

// perform drives the call state machine: build, then per attempt
// authenticate, intercept, dispatch and classify, retrying transient
// outcomes until the policy gives up, and finally running the response or
// error interception stage exactly once.
func (c *Client) perform(ctx context.Context, method, path string, call *callOptions) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	start := time.Now()
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	var requestID string
	if c.logger != nil && c.requestIDGen != nil {
		requestID = c.requestIDGen()
	}

	base, err := buildRequest(method, c.baseURL, path, call, c.defaultHeaders, c.timeout)

	var resp *Response
	endpoint := "unknown"
	if err == nil {
		endpoint = endpointFromURL(base.URL)
		if c.metrics != nil {
			c.metrics.RecordRequestStart(method, endpoint)
			defer c.metrics.RecordRequestEnd(method, endpoint)
		}
		resp, err = c.attemptLoop(ctx, base, requestID, endpoint, start)
	}

	if err == nil {
		resp, err = c.interceptors.onResponse(ctx, resp)
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordError(errorLabel(err), method, endpoint)
		}
		recovered, callErr := c.interceptors.onError(ctx, err)
		if recovered == nil {
			return nil, callErr
		}
		resp = recovered
	}

	if c.metrics != nil {
		c.metrics.RecordRequest(method, endpoint, resp.StatusCode, time.Since(start))
	}
	return resp, nil
}

// attemptLoop runs attempts until a terminal outcome. Every retry re-enters
// at auth attach with a fresh clone of the built base request, so a token
// refreshed meanwhile is picked up and interceptor effects never compound
// across attempts.
func (c *Client) attemptLoop(ctx context.Context, base *Request, requestID, endpoint string, start time.Time) (*Response, error) {
	for attempt := 1; ; attempt++ {
		cred, err := c.auth.EnsureValid(ctx)
		if err != nil {
			// Auth failures are a distinct fatal class, never retried.
			return nil, err
		}

		req, err := c.interceptors.onRequest(ctx, c.auth.Attach(base.Clone(), cred))
		if err != nil {
			return nil, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, c.deadlineError(ctx, start)
				}
				// Wait can fail without a context expiry, e.g. when the
				// request exceeds the limiter's burst.
				return nil, &TransportError{Kind: TransportOther, Message: "rate limiter rejected dispatch", Cause: err}
			}
		}

		attemptStart := time.Now()
		raw, dispatchErr := c.dispatch(ctx, req)
		c.logAttempt(requestID, req, raw, dispatchErr, attempt, time.Since(attemptStart))

		if dispatchErr != nil && ctx.Err() != nil {
			return nil, c.deadlineError(ctx, start)
		}

		outcome := c.classifier.classify(raw, dispatchErr)
		if outcome == OutcomeSuccess {
			return newResponse(raw), nil
		}

		delay, retry := c.retryPolicy.Decide(attempt, outcome)
		if !retry {
			if dispatchErr != nil {
				return nil, dispatchErr
			}
			return nil, &StatusError{StatusCode: raw.StatusCode, Response: newResponse(raw)}
		}

		if c.metrics != nil {
			c.metrics.RecordRetry(base.Method, endpoint, attempt)
		}
		if c.logger != nil {
			c.logger.Info("scheduling retry",
				"requestID", requestID, "attempt", attempt+1, "delay", delay, "outcome", outcome.String())
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, c.deadlineError(ctx, start)
		}
	}
}

// dispatch invokes the transport, optionally through the circuit breaker.
func (c *Client) dispatch(ctx context.Context, req *Request) (*RawResponse, error) {
	if c.breaker == nil {
		return c.transport.Execute(ctx, req)
	}
	raw, err := c.breaker.Execute(func() (*RawResponse, error) {
		return c.transport.Execute(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{Kind: TransportOther, Message: "circuit breaker rejected dispatch", Cause: ErrCircuitOpen}
		}
		return nil, err
	}
	return raw, nil
}

// deadlineError maps a context expiry at a suspension point onto the call
// error surface. User cancellation propagates as-is.
func (c *Client) deadlineError(ctx context.Context, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CallTimeoutError{Elapsed: time.Since(start), Cause: ctx.Err()}
	}
	return ctx.Err()
}

// logAttempt emits one structured record per dispatched attempt. Header and
// body payloads appear only when the corresponding flags are set, and are
// always masked first; raw credentials never reach the sink.
func (c *Client) logAttempt(requestID string, req *Request, raw *RawResponse, err error, attempt int, elapsed time.Duration) {
	if c.logger == nil {
		return
	}
	kv := []any{
		"requestID", requestID,
		"method", req.Method,
		"url", req.URL,
		"attempt", attempt,
		"elapsed", elapsed,
	}
	if c.logRequestBody {
		header, body := c.mask(req.Header, req.Body)
		kv = append(kv, "requestHeaders", header, "requestBody", string(body))
	}
	if err != nil {
		kv = append(kv, "error", err.Error())
		c.logger.Warn("attempt failed", kv...)
		return
	}
	kv = append(kv, "status", raw.StatusCode)
	if c.logResponseBody {
		header, body := c.mask(raw.Header, raw.Body)
		kv = append(kv, "responseHeaders", header, "responseBody", string(body))
	}
	c.logger.Debug("attempt completed", kv...)
}

// errorLabel buckets terminal errors for the metrics error counter.
func errorLabel(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return "auth"
	}
	var abe *AbortError
	if errors.As(err, &abe) {
		return "abort"
	}
	var cte *CallTimeoutError
	if errors.As(err, &cte) {
		return "call_timeout"
	}
	var te *TransportError
	if errors.As(err, &te) {
		return "transport"
	}
	var se *StatusError
	if errors.As(err, &se) {
		return "status"
	}
	return "other"
}

// OAuth2 returns the OAuth2 provider when the client was configured with
// WithOAuth2 or an OAuth2 auth provider, nil otherwise.
func (c *Client) OAuth2() *OAuth2Auth {
	if p, ok := c.auth.(*OAuth2Auth); ok {
		return p
	}
	return nil
}

// Authenticate performs the OAuth2 password grant on the client's provider.
// It is the only way to move an OAuth2 client from unauthenticated to valid.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	p := c.OAuth2()
	if p == nil {
		return &AuthError{Kind: AuthInvalidCredentials, Message: "client is not configured for oauth2"}
	}
	return p.Authenticate(ctx, username, password)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func endpointFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}
	var b strings.Builder
	b.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		b.WriteString(u.Path)
	} else {
		b.WriteByte('/')
	}
	return b.String()
}
