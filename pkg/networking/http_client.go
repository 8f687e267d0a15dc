// Package networking provides HTTP clients for the gateway's outbound
// fetches: signing keys, introspection, and authorization-server metadata.
// Every client built here carries explicit timeouts so an unreachable
// upstream degrades to an error instead of hanging a request.
package networking

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPTimeout is the default timeout for outgoing HTTP requests.
const HTTPTimeout = 30 * time.Second

// ValidatingTransport is for validating URLs prior to request.
type ValidatingTransport struct {
	Transport http.RoundTripper

	// AllowPlaintext permits http:// URLs, for tests and local development.
	AllowPlaintext bool
}

// RoundTrip validates the request URL prior to forwarding.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parsedURL, err := url.Parse(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("the supplied URL %s is malformed", req.URL.String())
	}

	if parsedURL.Scheme != "https" && !(t.AllowPlaintext && parsedURL.Scheme == "http") {
		return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.String())
	}

	return t.Transport.RoundTrip(req)
}

// HTTPClientBuilder provides a fluent interface for building HTTP clients.
type HTTPClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	allowPlaintext        bool
}

// NewHTTPClientBuilder returns a new HTTPClientBuilder.
func NewHTTPClientBuilder() *HTTPClientBuilder {
	return &HTTPClientBuilder{
		clientTimeout:         HTTPTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithTimeout sets the overall client timeout.
func (b *HTTPClientBuilder) WithTimeout(d time.Duration) *HTTPClientBuilder {
	if d > 0 {
		b.clientTimeout = d
	}
	return b
}

// WithPlaintextHTTP permits plain http endpoints. Only meant for tests.
func (b *HTTPClientBuilder) WithPlaintextHTTP(allow bool) *HTTPClientBuilder {
	b.allowPlaintext = allow
	return b
}

// Build creates the configured HTTP client.
func (b *HTTPClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	return &http.Client{
		Transport: &ValidatingTransport{
			Transport:      transport,
			AllowPlaintext: b.allowPlaintext,
		},
		Timeout: b.clientTimeout,
	}, nil
}

// ValidateEndpointURL checks that an endpoint URL is absolute and uses an
// http(s) scheme with a host.
func ValidateEndpointURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
