package idapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// Transport is the capability the executor consumes to perform one HTTP
// exchange. Execute must be safely invocable repeatedly; the retry decision
// is the caller's, not the transport's. Close releases the underlying
// resources: it is idempotent, and in-flight calls fail with a
// transport-closed error rather than hang.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*RawResponse, error)
	Close() error
}

// HTTPTransport implements Transport on top of net/http. It is safe for
// concurrent use.
type HTTPTransport struct {
	client    *http.Client
	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPTransport wraps an *http.Client as a Transport. A nil client uses
// a default with a 30 second timeout.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{
		client: client,
		done:   make(chan struct{}),
	}
}

// Execute performs a single HTTP exchange. The per-attempt timeout on the
// request bounds this one dispatch; the overall call deadline arrives via
// ctx.
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*RawResponse, error) {
	if t.isClosed() {
		return nil, &TransportError{Kind: TransportClosed, Message: "execute on closed transport", Cause: ErrTransportClosed}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// Closing the transport cancels in-flight exchanges.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &TransportError{Kind: TransportOther, Message: "build request", Cause: err}
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if t.isClosed() {
			return nil, &TransportError{Kind: TransportClosed, Message: "transport closed during dispatch", Cause: ErrTransportClosed}
		}
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Kind: TransportConnection, Message: "read response body", Cause: err}
	}

	return &RawResponse{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
		Request:    req,
	}, nil
}

// Close shuts the transport down. Double close is a no-op.
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.client.CloseIdleConnections()
	})
	return nil
}

func (t *HTTPTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// classifyTransportError maps a net/http dispatch error onto the transport
// error kinds the retry tables understand.
func classifyTransportError(err error) *TransportError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: TransportTimeout, Message: "request deadline exceeded", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: TransportTimeout, Message: "network timeout", Cause: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransportError{Kind: TransportConnection, Message: "connection failed", Cause: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TransportError{Kind: TransportConnection, Message: "connection interrupted", Cause: err}
	}

	return &TransportError{Kind: TransportOther, Message: "request failed", Cause: err}
}
