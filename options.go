package idapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithBaseURL sets the base URL that call paths are resolved against.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTimeout sets the per-attempt transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCallTimeout bounds the whole logical call including retries and
// retry waits, independent of the per-attempt timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithMaxRetries sets the maximum number of retries; a call makes at most
// n+1 attempts. Default 0 (no retry).
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the base delay before the first retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxRetryDelay caps the delay between attempts regardless of how far
// the backoff has grown. Default 0 (no cap).
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxRetryDelay = d
	}
}

// WithRetryBackoff sets the exponential backoff multiplier. Default 1.0
// (constant delay).
func WithRetryBackoff(f float64) Option {
	return func(c *Client) {
		c.retryBackoff = f
	}
}

// WithBackoffStrategy selects the delay formula for the default retry
// policy. Default BackoffExponential.
func WithBackoffStrategy(s BackoffStrategy) Option {
	return func(c *Client) {
		c.backoffStrategy = s
	}
}

// WithRetryJitter adds uniform jitter (0.0 to 1.0) to retry delays.
func WithRetryJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.retryJitter = f
	}
}

// WithRetryStatusCodes replaces the set of response statuses considered
// retryable.
func WithRetryStatusCodes(codes ...int) Option {
	return func(c *Client) {
		c.retryStatusCodes = codes
	}
}

// WithRetryTransportKinds replaces the set of transport failure kinds
// considered retryable.
func WithRetryTransportKinds(kinds ...TransportErrorKind) Option {
	return func(c *Client) {
		c.retryTransportKinds = kinds
	}
}

// WithRetryPolicy installs a custom retry policy, overriding the
// delay/backoff options.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = p
	}
}

// WithAuthProvider installs a custom authentication provider.
func WithAuthProvider(p AuthProvider) Option {
	return func(c *Client) {
		c.auth = p
	}
}

// WithJWT authenticates every call with a caller-supplied static JWT.
func WithJWT(token string) Option {
	return func(c *Client) {
		c.pendingJWT = &token
	}
}

// WithOAuth2 authenticates calls with a refreshable OAuth2 credential.
// Token exchanges go through the client's transport.
func WithOAuth2(cfg OAuth2Config) Option {
	return func(c *Client) {
		c.pendingOAuth = &cfg
	}
}

// WithRequestInterceptor appends request interceptors; they run per attempt
// in registration order after auth attach.
func WithRequestInterceptor(fns ...RequestInterceptor) Option {
	return func(c *Client) {
		c.interceptors.request = append(c.interceptors.request, fns...)
	}
}

// WithResponseInterceptor appends response interceptors; they run once on
// the final successful outcome.
func WithResponseInterceptor(fns ...ResponseInterceptor) Option {
	return func(c *Client) {
		c.interceptors.response = append(c.interceptors.response, fns...)
	}
}

// WithErrorInterceptor appends error interceptors; they run once on the
// terminal failure and may recover it into a synthetic response.
func WithErrorInterceptor(fns ...ErrorInterceptor) Option {
	return func(c *Client) {
		c.interceptors.errors = append(c.interceptors.errors, fns...)
	}
}

// WithDefaultHeader sets a header applied to every call. Per-call headers
// override it on name collision.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) {
		c.defaultHeaders.Set(key, value)
	}
}

// WithTransport installs a custom transport capability.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithHTTPClient wraps a custom *http.Client as the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transport = NewHTTPTransport(client)
	}
}

// WithLogger sets the structured log sink.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithLogRequestBody includes masked request headers and body in attempt
// records.
func WithLogRequestBody(enabled bool) Option {
	return func(c *Client) {
		c.logRequestBody = enabled
	}
}

// WithLogResponseBody includes masked response headers and body in attempt
// records.
func WithLogResponseBody(enabled bool) Option {
	return func(c *Client) {
		c.logResponseBody = enabled
	}
}

// WithMaskFunc replaces the masking applied to logged headers and bodies.
func WithMaskFunc(fn MaskFunc) Option {
	return func(c *Client) {
		c.mask = fn
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithRateLimiter gates dispatches at rps requests per second with the
// given burst. The gate applies per attempt, before the transport.
func WithRateLimiter(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// CircuitBreakerConfig configures the optional dispatch circuit breaker.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and metrics. Default "default".
	Name string
	// MaxFailures is the consecutive failure count that opens the circuit.
	// Default 5.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing.
	// Default 30s.
	OpenTimeout time.Duration
	// MaxHalfOpenRequests caps probe requests while half-open. Default 1.
	MaxHalfOpenRequests uint32
}

// WithCircuitBreaker wraps dispatches in a circuit breaker. While open,
// attempts fail fast with ErrCircuitOpen as a fatal transport outcome.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Option {
	return func(c *Client) {
		if cfg.Name == "" {
			cfg.Name = "default"
		}
		if cfg.MaxFailures == 0 {
			cfg.MaxFailures = 5
		}
		if cfg.OpenTimeout == 0 {
			cfg.OpenTimeout = 30 * time.Second
		}
		if cfg.MaxHalfOpenRequests == 0 {
			cfg.MaxHalfOpenRequests = 1
		}
		settings := gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxHalfOpenRequests,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, _, to gobreaker.State) {
				if c.metrics != nil {
					c.metrics.RecordCircuitBreakerState(name, breakerStateValue(to))
				}
				if c.logger != nil {
					c.logger.Warn("circuit breaker state changed", "name", name, "state", to.String())
				}
			},
		}
		c.breaker = gobreaker.NewCircuitBreaker[*RawResponse](settings)
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// WithRequestIDGenerator replaces the per-call request ID generator used in
// attempt records. Default: UUIDv4.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

func defaultRequestIDGen() string {
	return uuid.NewString()
}

// ValidateConfiguration validates the client configuration and returns an
// aggregated error if invalid.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	if c.maxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if c.retryDelay <= 0 {
		problems = append(problems, "retryDelay must be positive")
	}
	if c.retryBackoff <= 0 {
		problems = append(problems, "retryBackoff must be positive")
	}
	if c.retryJitter < 0 || c.retryJitter > 1 {
		problems = append(problems, "retryJitter must be between 0 and 1")
	}
	if c.maxRetryDelay < 0 {
		problems = append(problems, "maxRetryDelay must be non-negative")
	}
	if c.maxRetryDelay > 0 && c.maxRetryDelay < c.retryDelay {
		problems = append(problems, "maxRetryDelay must be greater than or equal to retryDelay")
	}
	if c.backoffStrategy != BackoffExponential && c.backoffStrategy != BackoffDecorrelated {
		problems = append(problems, "backoffStrategy is not a known strategy")
	}
	if c.limiter != nil && c.limiter.Burst() < 1 {
		problems = append(problems, "rate limiter burst must be at least 1")
	}
	if c.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.callTimeout < 0 {
		problems = append(problems, "callTimeout must be non-negative")
	}

	if c.baseURL != "" {
		if _, err := url.Parse(c.baseURL); err != nil {
			problems = append(problems, fmt.Sprintf("baseURL is not a valid URL: %v", err))
		}
	}

	if c.pendingJWT != nil && *c.pendingJWT == "" {
		problems = append(problems, "jwt token must not be empty")
	}
	if c.pendingOAuth != nil {
		if c.pendingOAuth.TokenURL == "" {
			problems = append(problems, "oauth2 tokenURL is required")
		}
		if c.pendingOAuth.ClientID == "" {
			problems = append(problems, "oauth2 clientID is required")
		}
	}

	for i, fn := range c.interceptors.request {
		if fn == nil {
			problems = append(problems, fmt.Sprintf("request interceptor[%d] cannot be nil", i))
		}
	}
	for i, fn := range c.interceptors.response {
		if fn == nil {
			problems = append(problems, fmt.Sprintf("response interceptor[%d] cannot be nil", i))
		}
	}
	for i, fn := range c.interceptors.errors {
		if fn == nil {
			problems = append(problems, fmt.Sprintf("error interceptor[%d] cannot be nil", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid client configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
