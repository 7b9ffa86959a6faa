package appliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"hagw/pixie-gateway/internal/model"
	"hagw/pixie-gateway/internal/positioning"
)

// StatusPath is the appliance endpoint returning raw tag status.
const StatusPath = "/getPixieStatus"

// Client reads raw tag status from a Pixie adjacent server.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New constructs a client for the appliance at baseURL. Requests are not
// retried; timeout bounds every fetch.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{http: client, logger: logger}
}

// FetchRawStatus performs a single GET against the appliance. A nil status is
// returned together with an error wrapping positioning.ErrTransport or
// positioning.ErrDataIntegrity.
func (c *Client) FetchRawStatus(ctx context.Context) (*model.RawStatus, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(StatusPath)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", positioning.ErrTransport, StatusPath, err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: get %s: unexpected status %d", positioning.ErrTransport, StatusPath, resp.StatusCode())
	}

	raw, err := DecodeStatus(resp.Body())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched pixie status", "username", raw.Username, "points", len(raw.PixiePoints), "duration", resp.Time())
	return raw, nil
}
