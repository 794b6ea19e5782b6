package send

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPProvider sends text messages through the hosted backend's REST API.
type HTTPProvider struct {
	client *resty.Client
}

// NewHTTPProvider creates a provider client for the given base URL using
// the given bearer token.
func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(token)
	return &HTTPProvider{client: client}
}

// SendText posts a text message. Non-2xx responses come back as errors
// carrying the status code and response body so the failure can be
// classified upstream.
func (p *HTTPProvider) SendText(ctx context.Context, contact, body string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"to": contact, "body": body}).
		Post("/messages")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%d %s", resp.StatusCode(), resp.String())
	}
	return nil
}
