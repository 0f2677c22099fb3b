package idapi

import "context"

// RequestInterceptor transforms the in-progress request of one attempt. It
// runs after auth attach and before transport dispatch, once per attempt.
// Returning an error aborts the call: remaining request interceptors are
// skipped, the transport is never reached, and the call terminates through
// the error-interception stage with an AbortError.
type RequestInterceptor func(ctx context.Context, req *Request) (*Request, error)

// ResponseInterceptor transforms the unified response of the final
// successful outcome. It never runs for intermediate retried attempts.
type ResponseInterceptor func(ctx context.Context, resp *Response) (*Response, error)

// ErrorInterceptor observes the terminal failure of a call. Returning a
// non-nil Response recovers the failure: the call completes successfully
// with that response and remaining error interceptors are skipped.
// Returning (nil, err) propagates err, transformed or unchanged.
type ErrorInterceptor func(ctx context.Context, callErr error) (*Response, error)

// interceptorChain holds the three ordered stages. Stages run strictly in
// registration order and never concurrently within one call.
type interceptorChain struct {
	request  []RequestInterceptor
	response []ResponseInterceptor
	errors   []ErrorInterceptor
}

// onRequest runs the request stage over a clone of req. A stage error stops
// the chain and surfaces as an AbortError.
func (ic *interceptorChain) onRequest(ctx context.Context, req *Request) (*Request, error) {
	current := req
	for _, fn := range ic.request {
		next, err := fn(ctx, current.Clone())
		if err != nil {
			return nil, &AbortError{Message: "request interceptor rejected the call", Cause: err}
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// onResponse runs the response stage over the terminal successful response.
func (ic *interceptorChain) onResponse(ctx context.Context, resp *Response) (*Response, error) {
	current := resp
	for _, fn := range ic.response {
		next, err := fn(ctx, current)
		if err != nil {
			return nil, err
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// onError runs the error stage over the terminal failure. The first
// interceptor to return a synthetic response wins; otherwise the (possibly
// transformed) error propagates.
func (ic *interceptorChain) onError(ctx context.Context, callErr error) (*Response, error) {
	current := callErr
	for _, fn := range ic.errors {
		resp, err := fn(ctx, current)
		if resp != nil {
			return resp, nil
		}
		if err != nil {
			current = err
		}
	}
	return nil, current
}
