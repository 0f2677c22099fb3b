package idapi

import (
	"errors"
	"time"

	"github.com/imdeniil/id-api/internal/backoff"
)

// Outcome classifies the result of one dispatched attempt. Classification
// is table-driven: a status code is retryable iff it appears in the
// configured retry status set, a transport failure iff its kind appears in
// the configured transport-kind set. Everything else is fatal.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryableStatus
	OutcomeFatalStatus
	OutcomeRetryableTransport
	OutcomeFatalTransport
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryableStatus:
		return "retryable_status"
	case OutcomeFatalStatus:
		return "fatal_status"
	case OutcomeRetryableTransport:
		return "retryable_transport"
	default:
		return "fatal_transport"
	}
}

// Retryable reports whether the outcome is eligible for a retry decision.
func (o Outcome) Retryable() bool {
	return o == OutcomeRetryableStatus || o == OutcomeRetryableTransport
}

// Default classification tables.
var (
	// DefaultRetryStatusCodes are the response statuses considered transient.
	DefaultRetryStatusCodes = []int{429, 500, 502, 503, 504}

	// DefaultRetryTransportKinds are the transport failure kinds considered
	// transient. Closed transports and unclassified failures are fatal.
	DefaultRetryTransportKinds = []TransportErrorKind{TransportConnection, TransportTimeout}
)

// classifier turns an attempt result into an Outcome using the configured
// status and transport-kind sets.
type classifier struct {
	statusCodes    map[int]struct{}
	transportKinds map[TransportErrorKind]struct{}
}

func newClassifier(statusCodes []int, kinds []TransportErrorKind) *classifier {
	c := &classifier{
		statusCodes:    make(map[int]struct{}, len(statusCodes)),
		transportKinds: make(map[TransportErrorKind]struct{}, len(kinds)),
	}
	for _, code := range statusCodes {
		c.statusCodes[code] = struct{}{}
	}
	for _, k := range kinds {
		c.transportKinds[k] = struct{}{}
	}
	return c
}

func (c *classifier) classify(raw *RawResponse, err error) Outcome {
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			if _, ok := c.transportKinds[te.Kind]; ok {
				return OutcomeRetryableTransport
			}
		}
		return OutcomeFatalTransport
	}
	if raw.StatusCode >= 200 && raw.StatusCode < 300 {
		return OutcomeSuccess
	}
	if _, ok := c.statusCodes[raw.StatusCode]; ok {
		return OutcomeRetryableStatus
	}
	return OutcomeFatalStatus
}

// BackoffStrategy selects the delay formula used by DefaultRetryPolicy.
type BackoffStrategy int

const (
	// BackoffExponential grows the delay as retryDelay × multiplier^(k−1).
	BackoffExponential BackoffStrategy = iota
	// BackoffDecorrelated draws each delay uniformly from a window that
	// widens with the attempt index (AWS-style decorrelated jitter).
	BackoffDecorrelated
)

func (s BackoffStrategy) String() string {
	switch s {
	case BackoffDecorrelated:
		return "decorrelated"
	default:
		return "exponential"
	}
}

// RetryPolicy decides whether an attempt's outcome warrants another attempt
// and after which delay. Implementations must be pure and stateless: one
// policy instance is shared read-only by every call on a client.
type RetryPolicy interface {
	// Decide takes the 1-based attempt index and the classified outcome and
	// returns the delay to wait before the next attempt, or retry=false to
	// give up.
	Decide(attempt int, outcome Outcome) (delay time.Duration, retry bool)
}

// DefaultRetryPolicy retries transient outcomes with exponential backoff:
// the wait after attempt k is retryDelay × multiplier^(k−1). A call makes
// at most maxRetries+1 attempts.
type DefaultRetryPolicy struct {
	maxRetries int
	retryDelay time.Duration
	multiplier float64
	maxDelay   time.Duration
	jitter     float64
	strategy   backoff.Strategy
}

// NewDefaultRetryPolicy builds the standard exponential policy with no
// delay cap. With jitter left at zero the delay sequence is exact;
// WithRetryJitter adds randomization.
func NewDefaultRetryPolicy(maxRetries int, retryDelay time.Duration, multiplier float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, retryDelay, 0, multiplier, 0, BackoffExponential)
}

// NewDefaultRetryPolicyWithStrategy builds a policy with an explicit
// backoff strategy, delay cap and jitter. A maxDelay of zero means no cap.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, retryDelay, maxDelay time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	if multiplier <= 0 {
		multiplier = 1.0
	}
	p := &DefaultRetryPolicy{
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		maxDelay:   maxDelay,
		multiplier: multiplier,
		jitter:     jitter,
	}
	switch strategy {
	case BackoffDecorrelated:
		p.strategy = backoff.Decorrelated{}
	default:
		p.strategy = backoff.Exponential{}
	}
	return p
}

// Decide implements RetryPolicy.
func (p *DefaultRetryPolicy) Decide(attempt int, outcome Outcome) (time.Duration, bool) {
	if !outcome.Retryable() {
		return 0, false
	}
	if attempt >= p.maxRetries+1 {
		return 0, false
	}
	return p.strategy.Delay(attempt-1, p.retryDelay, p.maxDelay, p.multiplier, p.jitter), true
}
