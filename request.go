package idapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is an immutable description of one logical HTTP call. It is
// assembled once per call; every transforming stage (auth attach, request
// interceptors) operates on its own clone, so an earlier stage never
// observes a later stage's mutations and retries start from a clean slate.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Clone returns a deep copy of the request. Interceptors receive a clone and
// may mutate it freely before returning it.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := &Request{
		Method:  r.Method,
		URL:     r.URL,
		Header:  make(http.Header, len(r.Header)),
		Timeout: r.Timeout,
	}
	for k, v := range r.Header {
		vv := make([]string, len(v))
		copy(vv, v)
		c.Header[k] = vv
	}
	if r.Body != nil {
		c.Body = make([]byte, len(r.Body))
		copy(c.Body, r.Body)
	}
	return c
}

// buildRequest assembles the base request for a call: base URL + path +
// query params, client default headers merged with per-call headers
// (per-call wins on collision), and the serialized body.
func buildRequest(method, baseURL, path string, call *callOptions, defaults http.Header, timeout time.Duration) (*Request, error) {
	u, err := joinURL(baseURL, path)
	if err != nil {
		return nil, err
	}
	if len(call.query) > 0 {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("invalid request URL %q: %w", u, err)
		}
		q := parsed.Query()
		for k, vs := range call.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
		u = parsed.String()
	}

	req := &Request{
		Method:  method,
		URL:     u,
		Header:  make(http.Header, len(defaults)+len(call.header)),
		Timeout: timeout,
	}
	for k, v := range defaults {
		vv := make([]string, len(v))
		copy(vv, v)
		req.Header[k] = vv
	}
	for k, v := range call.header {
		vv := make([]string, len(v))
		copy(vv, v)
		req.Header[http.CanonicalHeaderKey(k)] = vv
	}
	if call.timeout > 0 {
		req.Timeout = call.timeout
	}

	if call.body != nil {
		body, err := serializeBody(call.body)
		if err != nil {
			return nil, err
		}
		req.Body = body
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	return req, nil
}

// serializeBody converts a structured body value to bytes. []byte and string
// pass through untouched; anything else is JSON-encoded.
func serializeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("serialize request body: %w", err)
		}
		return data, nil
	}
}

func joinURL(base, path string) (string, error) {
	if base == "" {
		if path == "" {
			return "", fmt.Errorf("empty request URL")
		}
		return path, nil
	}
	if path == "" {
		return base, nil
	}
	if strings.Contains(path, "://") {
		// Absolute URL overrides the configured base.
		return path, nil
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}
