package idapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RawResponse is the transport-level result of a single attempt: status,
// headers and the raw body bytes, plus a reference to the request that
// produced it. Exactly one RawResponse exists per dispatched attempt.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Request    *Request
}

// Response is the unified public result of a call. Data holds the decoded
// JSON value when the body parses, or the raw bytes when it does not; decode
// failure is never an error by itself. Raw is nil for synthetic responses
// recovered by an error interceptor.
type Response struct {
	StatusCode int
	Header     http.Header
	Data       any
	Raw        *RawResponse
}

// newResponse builds the unified response from a transport result. The body
// is decoded best effort: invalid JSON falls back to the raw bytes.
func newResponse(raw *RawResponse) *Response {
	resp := &Response{
		StatusCode: raw.StatusCode,
		Header:     raw.Header,
		Raw:        raw,
	}
	if len(raw.Body) == 0 {
		return resp
	}
	var data any
	if err := json.Unmarshal(raw.Body, &data); err != nil {
		resp.Data = raw.Body
		return resp
	}
	resp.Data = data
	return resp
}

// Bytes returns the raw body bytes, or nil for synthetic responses.
func (r *Response) Bytes() []byte {
	if r == nil || r.Raw == nil {
		return nil
	}
	return r.Raw.Body
}

// Decode unmarshals the raw body into v. It fails for synthetic responses
// that carry no raw body.
func (r *Response) Decode(v any) error {
	if r == nil || r.Raw == nil {
		return fmt.Errorf("no raw body to decode")
	}
	if err := json.Unmarshal(r.Raw.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
