// Package idapi provides an HTTP client with a uniform request/response
// abstraction over blocking and asynchronous execution, composed from:
//
//   - Pluggable authentication (none, static JWT, refreshable OAuth2)
//   - Automatic retry with exponential backoff over table-driven
//     outcome classification
//   - An interceptor pipeline (request / response / error stages) around
//     every call
//   - Structured per-attempt logging with credential masking
//   - Prometheus metrics, optional rate limiting and circuit breaking
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance; the only shared
//     mutable state is the auth credential, refreshed at most once in
//     flight no matter how many calls observe it stale
//   - Explicit typed error values; the error-interception stage is the one
//     place user code may convert a failure back into a response
//
// Typical usage:
//
//	client := idapi.New(
//	    idapi.WithBaseURL("https://api.example.com"),
//	    idapi.WithMaxRetries(3),
//	    idapi.WithRetryDelay(500*time.Millisecond),
//	    idapi.WithRetryBackoff(2.0),
//	    idapi.WithOAuth2(idapi.OAuth2Config{
//	        ClientID:     "id",
//	        ClientSecret: "secret",
//	        TokenURL:     "https://auth.example.com/token",
//	    }),
//	)
//	defer client.Close()
//
//	resp, err := client.Get(ctx, "/users/42")
//
// Asynchronous calls return a Future with identical outcome semantics:
//
//	f := client.DoAsync(ctx, "GET", "/users/42", nil)
//	resp, err := f.Wait(ctx)
package idapi
