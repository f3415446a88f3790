package execution

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// VenueClient is the HTTP Submitter for Venue-T. Submission failures for
// normal orders log and drop with no retry, while cancel-all retries 3x
// on a 5xx/timeout (spec.md "Submission failure: log; no retry for
// normal orders" / "HTTP 5xx/timeout: drop-and-continue for normal
// orders; retry×3 for cancel-all"). The two calls therefore run against
// two differently configured resty clients rather than one shared
// retrying client, the way the teacher's single `NewClient` did for
// Polymarket's uniform-retry CLOB API.
type VenueClient struct {
	http        *resty.Client // Submit: no retry
	httpRetried *resty.Client // CancelAll: retry 3x on 5xx/timeout
	rl          *RateLimiter
}

// NewVenueClient creates a submission client against baseURL.
func NewVenueClient(baseURL string) *VenueClient {
	base := func() *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json")
	}

	httpClient := base()

	httpRetried := base().
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &VenueClient{
		http:        httpClient,
		httpRetried: httpRetried,
		rl:          NewRateLimiter(),
	}
}

// Submit posts a pre-signed order payload to Venue-T's order endpoint.
// It never retries: a failed normal-order submission is logged by the
// caller and dropped, since a fresher quote is always on the way.
func (c *VenueClient) Submit(ctx context.Context, order SignedOrder) error {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(order.Payload).
		Post("/orders")
	if err != nil {
		return fmt.Errorf("submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAll issues an emergency cancel-all against Venue-T. It bypasses
// the order-rate bucket: a cancel-all racing past a saturated order
// bucket must never be throttled behind a backlog of resting-order
// placements. Unlike Submit, a 5xx/timeout is retried 3x by the
// underlying client, since an unacknowledged emergency cancel is far
// worse than a redundant retry.
func (c *VenueClient) CancelAll(ctx context.Context) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.httpRetried.R().
		SetContext(ctx).
		Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
