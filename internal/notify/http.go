package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

func newRestyClient() *resty.Client {
	return resty.New().
		SetTimeout(sendTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "sentibot-notify")
}

// postJSON posts body to url and fails on any non-2xx status.
func postJSON(ctx context.Context, c *resty.Client, name, url string, body any) error {
	resp, err := c.R().SetContext(ctx).SetBody(body).Post(url)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	if !resp.IsSuccess() {
		b := resp.Body()
		if len(b) > 1024 {
			b = b[:1024]
		}
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode(), string(b))
	}
	return nil
}
