package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// UserAgent is sent on every outgoing request made by clients from HTTPClient.
func UserAgent() string {
	return "chargerate/" + strings.TrimSpace(version)
}

type headerTransport struct {
	transport http.RoundTripper
	headers   http.Header
}

// RoundTrip implements http.RoundTripper
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	for k, vs := range t.headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return t.transport.RoundTrip(req)
}

// ClientOption customizes the client returned by HTTPClient.
type ClientOption func(h http.Header)

// WithBearerToken sends "Authorization: Bearer <token>" on every request.
func WithBearerToken(token string) ClientOption {
	return func(h http.Header) {
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader sends a fixed header on every request.
func WithHeader(key, value string) ClientOption {
	return func(h http.Header) {
		h.Set(key, value)
	}
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration, opts ...ClientOption) *http.Client {
	return WrapClient(&http.Client{Timeout: timeout}, opts...)
}

// WrapClient returns a copy of client whose transport sets the user-agent and
// any headers from opts. It is used in tests to decorate httptest clients.
func WrapClient(client *http.Client, opts ...ClientOption) *http.Client {
	headers := http.Header{}
	headers.Set("User-Agent", UserAgent())
	for _, opt := range opts {
		opt(headers)
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	c := *client
	c.Transport = &headerTransport{
		transport: base,
		headers:   headers,
	}
	return &c
}
