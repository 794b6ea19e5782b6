package guard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPProber validates the credential against the hosted backend's
// session endpoint.
type HTTPProber struct {
	client *resty.Client
	url    string
}

// NewHTTPProber creates a prober for the given probe URL using the given
// bearer token.
func NewHTTPProber(url, token string, timeout time.Duration) *HTTPProber {
	client := resty.New().
		SetTimeout(timeout).
		SetAuthToken(token)
	return &HTTPProber{client: client, url: url}
}

// Probe hits the session endpoint. 2xx means the credential is accepted;
// 401/403 is a definitive rejection; anything else is a transport-level
// error and leaves the guard's state alone.
func (p *HTTPProber) Probe(ctx context.Context) (bool, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return false, err
	}
	switch {
	case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
		return true, nil
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("session probe: unexpected status %d", resp.StatusCode())
	}
}
