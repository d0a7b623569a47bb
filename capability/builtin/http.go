package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/capability"
)

// maxBody bounds how much of a response body HTTPGet returns.
const maxBody = 1 << 20

// HTTPGet fetches the URL given as input and returns the response body as
// a string. Status codes are mapped onto failure kinds so the retry loop
// and circuit breaker treat a flaky endpoint correctly.
type HTTPGet struct {
	client *http.Client
}

var _ capability.Capability = (*HTTPGet)(nil)

// NewHTTPGet returns an HTTPGet using client, or http.DefaultClient when
// client is nil.
func NewHTTPGet(client *http.Client) *HTTPGet {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGet{client: client}
}

// Invoke performs the request.
func (h *HTTPGet) Invoke(ctx context.Context, input string) (any, error) {
	u, err := url.Parse(strings.TrimSpace(input))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, orchestra.InvalidInput(fmt.Errorf("http.get: invalid url %q", input))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, orchestra.InvalidInput(fmt.Errorf("http.get: %w", err))
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, orchestra.Transient(fmt.Errorf("http.get: read body: %w", err))
	}
	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}
	return string(body), nil
}

func statusError(code int) error {
	err := fmt.Errorf("http.get: status %d", code)
	switch {
	case code < 400:
		return nil
	case code == http.StatusTooManyRequests:
		return orchestra.RateLimited(err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return orchestra.Unauthorized(err)
	case code == http.StatusRequestTimeout:
		return orchestra.Timeout(err)
	case code >= 500:
		return orchestra.Unavailable(err)
	default:
		return orchestra.InvalidInput(err)
	}
}
