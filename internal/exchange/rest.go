// rest.go defines the REST client contract: a uniform interface an
// exchange adapter implements for snapshots, orders, klines, and archive
// URLs, signed over HMAC-SHA256 and carried over go-resty with retry.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"marketcore/internal/errs"
	"marketcore/pkg/types"
)

// RestApi is the uniform interface an exchange adapter implements over
// signed HTTP. Every method reports typed errs kinds.
type RestApi interface {
	GetBoardSnapshot(ctx context.Context, cfg types.MarketConfig) (types.BoardTransfer, error)
	GetRecentTrades(ctx context.Context, cfg types.MarketConfig) ([]types.Trade, error)
	GetKlines(ctx context.Context, cfg types.MarketConfig, start, end types.TimeUs, pageCursor string) ([]types.Kline, string, error)

	NewOrder(ctx context.Context, cfg types.MarketConfig, order types.Order) (types.Order, error)
	CancelOrder(ctx context.Context, cfg types.MarketConfig, orderID string) error
	OpenOrders(ctx context.Context, cfg types.MarketConfig) ([]types.Order, error)
	GetAccount(ctx context.Context, cfg types.MarketConfig) (types.AccountCoins, error)

	HistoryWebURL(cfg types.MarketConfig, date time.Time) string
	ArchiveToParquet(ctx context.Context, cfg types.MarketConfig, date time.Time) ([]types.Trade, error)
}

// RestClient is a generic resty-backed RestApi base that concrete
// exchange adapters embed and extend with exchange-specific payload
// (de)coding — it owns the rate-limited, retried, signed HTTP transport;
// the adapter owns the per-exchange path/shape mapping.
type RestClient struct {
	HTTP   *resty.Client
	Signer *Signer
	RL     *RateLimiter
}

// NewRestClient builds a resty client with retry/backoff, rate limited to
// the exchange's published budgets.
func NewRestClient(baseURL string, signer *Signer, limits Limits) *RestClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		})

	return &RestClient{HTTP: rc, Signer: signer, RL: NewRateLimiter(limits)}
}

// Do executes a signed request and maps the response/transport error onto
// the errs kinds so adapters don't need their own status-code mapping.
func (c *RestClient) Do(ctx context.Context, req *resty.Request, method, path string) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, errs.New(errs.Transport, fmt.Sprintf("%s %s", method, path), err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return resp, errs.New(errs.Auth, fmt.Sprintf("%s %s", method, path), fmt.Errorf("status %d", resp.StatusCode()))
	case resp.StatusCode() == http.StatusTooManyRequests:
		return resp, errs.New(errs.RateLimit, fmt.Sprintf("%s %s", method, path), fmt.Errorf("status %d", resp.StatusCode()))
	case resp.StatusCode() >= 400:
		return resp, errs.New(errs.Protocol, fmt.Sprintf("%s %s", method, path), fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}
	return resp, nil
}
