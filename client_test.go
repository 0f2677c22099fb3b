package idapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger captures log records for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	records []logRecord
}

type logRecord struct {
	level  string
	msg    string
	fields map[string]any
}

func (l *recordingLogger) log(level, msg string, keysAndValues []any) {
	fields := make(map[string]any)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[keysAndValues[i].(string)] = keysAndValues[i+1]
	}
	l.mu.Lock()
	l.records = append(l.records, logRecord{level: level, msg: msg, fields: fields})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.log("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.log("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...any)  { l.log("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.log("error", msg, kv) }

func (l *recordingLogger) all() []logRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]logRecord, len(l.records))
	copy(out, l.records)
	return out
}

func TestRetryUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithMaxRetries(2),
		WithRetryDelay(20*time.Millisecond),
		WithRetryBackoff(2.0),
	)
	defer client.Close()

	start := time.Now()
	resp, err := client.Get(context.Background(), "/thing")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	// Delay sequence is base, base*backoff: 20ms + 40ms.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Equal(t, map[string]any{"ok": true}, resp.Data)
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)
	defer client.Close()

	resp, err := client.Get(context.Background(), "/thing")

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, int32(3), calls.Load(), "max_retries=2 allows exactly 3 attempts")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestFatalStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithMaxRetries(5),
		WithRetryDelay(time.Millisecond),
	)
	defer client.Close()

	_, err := client.Get(context.Background(), "/missing")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "404 is fatal, never retried")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	require.NotNil(t, se.Response, "status error keeps the decoded response")
}

func TestAuthErrorTerminatesWithoutDispatch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	var errSeen error
	client := New(
		WithBaseURL(server.URL),
		WithMaxRetries(5),
		WithRetryDelay(time.Millisecond),
		WithAuthProvider(failingAuth{}),
		WithErrorInterceptor(func(_ context.Context, callErr error) (*Response, error) {
			errSeen = callErr
			return nil, callErr
		}),
	)
	defer client.Close()

	_, err := client.Get(context.Background(), "/thing")

	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load(), "auth failure must not reach the transport")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AuthRefreshFailed, ae.Kind)
	assert.Equal(t, err, errSeen, "error interceptor still runs on auth failure")
}

type failingAuth struct{}

func (failingAuth) EnsureValid(context.Context) (Credential, error) {
	return Credential{}, &AuthError{Kind: AuthRefreshFailed, Message: "boom"}
}

func (failingAuth) Attach(req *Request, _ Credential) *Request { return req }

func TestErrorInterceptorRecoversFatalStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithErrorInterceptor(func(_ context.Context, callErr error) (*Response, error) {
			var se *StatusError
			if errors.As(callErr, &se) {
				return &Response{StatusCode: 500, Data: "synthetic"}, nil
			}
			return nil, callErr
		}),
	)
	defer client.Close()

	resp, err := client.Get(context.Background(), "/missing")

	require.NoError(t, err, "recovered error surfaces as a successful call")
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "synthetic", resp.Data)
	assert.Nil(t, resp.Raw, "synthetic responses carry no raw response")
}

func TestCallTimeoutAbortsRetryWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var interceptorRan atomic.Bool
	client := New(
		WithBaseURL(server.URL),
		WithMaxRetries(10),
		WithRetryDelay(time.Second),
		WithCallTimeout(100*time.Millisecond),
		WithErrorInterceptor(func(_ context.Context, callErr error) (*Response, error) {
			interceptorRan.Store(true)
			return nil, callErr
		}),
	)
	defer client.Close()

	_, err := client.Get(context.Background(), "/thing")

	require.Error(t, err)
	var cte *CallTimeoutError
	require.ErrorAs(t, err, &cte)
	assert.True(t, interceptorRan.Load(), "error interceptor still runs on call timeout")
}

func TestClosedTransportFailsCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "double close is a no-op")

	_, err := client.Get(context.Background(), "/thing")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportClosed)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TransportClosed, te.Kind)
}

func TestHeaderMergePerCallOverridesDefault(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithDefaultHeader("X-Tenant", "default"),
		WithDefaultHeader("X-Static", "kept"),
	)
	defer client.Close()

	_, err := client.Get(context.Background(), "/thing",
		WithHeader("X-Tenant", "override"),
		WithParam("page", "2"),
	)

	require.NoError(t, err)
	assert.Equal(t, "override", got.Get("X-Tenant"))
	assert.Equal(t, "kept", got.Get("X-Static"))
}

func TestQueryParamsAppended(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	defer client.Close()

	_, err := client.Get(context.Background(), "/search?q=base", WithParam("page", "3"))

	require.NoError(t, err)
	assert.Contains(t, gotQuery, "q=base")
	assert.Contains(t, gotQuery, "page=3")
}

func TestPostSerializesJSONBody(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	defer client.Close()

	resp, err := client.Post(context.Background(), "/users", map[string]any{"name": "ada"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"name":"ada"}`, string(gotBody))
}

func TestDoAsyncMatchesBlockingOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a":1}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	defer client.Close()

	future := client.DoAsync(context.Background(), http.MethodGet, "/thing", nil)

	select {
	case <-future.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future never completed")
	}

	resp, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"a": float64(1)}, resp.Data)
}

func TestFutureWaitHonorsContext(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(blocked)

	client := New(WithBaseURL(server.URL))
	defer client.Close()

	future := client.DoAsync(context.Background(), http.MethodGet, "/slow", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := future.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAttemptLoggingMasksCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := &recordingLogger{}
	const secret = "super-secret-token"
	client := New(
		WithBaseURL(server.URL),
		WithLogger(logger),
		WithLogRequestBody(true),
		WithAuthProvider(&staticBearer{token: secret}),
	)
	defer client.Close()

	_, err := client.Post(context.Background(), "/thing", map[string]any{"password": secret})
	require.NoError(t, err)

	records := logger.all()
	require.NotEmpty(t, records)
	for _, rec := range records {
		for _, v := range rec.fields {
			assert.NotContains(t, toString(v), secret, "credentials must never reach the log sink")
		}
	}
}

type staticBearer struct{ token string }

func (a *staticBearer) EnsureValid(context.Context) (Credential, error) {
	return Credential{Type: AuthJWT, AccessToken: a.token}, nil
}

func (a *staticBearer) Attach(req *Request, cred Credential) *Request {
	out := req.Clone()
	out.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	return out
}

func TestFailedAttemptLogsMaskedRequestPayload(t *testing.T) {
	// Grab and release a port so the dispatch fails at the transport.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	logger := &recordingLogger{}
	const secret = "s3cr3t-value"
	client := New(
		WithBaseURL("http://"+addr),
		WithLogger(logger),
		WithLogRequestBody(true),
		WithDefaultHeader("Authorization", "Bearer "+secret),
	)
	defer client.Close()

	_, err = client.Post(context.Background(), "/thing", map[string]any{"password": secret})
	require.Error(t, err)

	var failure *logRecord
	for _, rec := range logger.all() {
		if rec.msg == "attempt failed" {
			failure = &rec
			break
		}
	}
	require.NotNil(t, failure, "failed attempts emit a record")
	require.Contains(t, failure.fields, "requestBody", "failure records carry the request payload")
	require.Contains(t, failure.fields, "requestHeaders")
	assert.Contains(t, failure.fields, "error")
	for _, v := range failure.fields {
		assert.NotContains(t, toString(v), secret)
	}
}

func toString(v any) string {
	return fmt.Sprintf("%v", v)
}

func TestInvalidConfigurationFailsCalls(t *testing.T) {
	client := New(
		WithBaseURL("https://example.com"),
		WithMaxRetries(-1),
	)

	assert.False(t, client.IsValid())
	require.Error(t, client.ValidationError())

	_, err := client.Get(context.Background(), "/thing")
	assert.Error(t, err)
}
