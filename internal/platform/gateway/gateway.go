package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lunarlabs/memberd/internal/app/service/billing"
	"github.com/lunarlabs/memberd/pkg/config"
)

// Client talks to the messenger bridge: the service that actually delivers
// invoices, messages and channel access changes to users. Delivery is
// best-effort; transport errors are retried a few times and then surface to
// the caller, which decides whether they matter.
type Client struct {
	cfg  *config.Config
	log  *zap.SugaredLogger
	http *retryablehttp.Client
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil
	return &Client{cfg: cfg, log: log, http: rc}
}

func (c *Client) SendInvoice(ctx context.Context, inv billing.Invoice) error {
	return c.post(ctx, "/api/v1/invoices", inv, nil)
}

func (c *Client) GrantAccess(ctx context.Context, userID string) error {
	return c.post(ctx, "/api/v1/access/grant", map[string]string{"user_id": userID}, nil)
}

// RevokeAccess is idempotent: revoking access the user no longer has is
// reported as 404 by the bridge and ignored here.
func (c *Client) RevokeAccess(ctx context.Context, userID string) error {
	return c.post(ctx, "/api/v1/access/revoke", map[string]string{"user_id": userID}, []int{http.StatusNotFound})
}

func (c *Client) NotifyUser(ctx context.Context, userID, message string) error {
	return c.post(ctx, "/api/v1/notifications", map[string]string{"user_id": userID, "text": message}, nil)
}

func (c *Client) NotifyOperator(ctx context.Context, message string) error {
	return c.post(ctx, "/api/v1/notifications/operator", map[string]string{"text": message}, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, tolerated []int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode gateway request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Gateway.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.cfg.Gateway.Token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		for _, code := range tolerated {
			if resp.StatusCode == code {
				c.log.Debugw("gateway returned tolerated status", "path", path, "status", resp.StatusCode)
				return nil
			}
		}
		return fmt.Errorf("gateway request to %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
