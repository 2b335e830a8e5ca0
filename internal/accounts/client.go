// Package accounts is the narrow client for the account collaborator. The
// only thing the ledger needs from it is the overdraft limit.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/novabank/transaction-engine/internal/cache"
)

const overdraftKeyPrefix = "account:overdraft:"

// overdraftView is the cached slice of account state this service reads.
type overdraftView struct {
	AccountID      string          `json:"accountId"`
	OverdraftLimit decimal.Decimal `json:"overdraftLimit"`
}

// Client reads overdraft limits, preferring the Redis cache the account
// service maintains and falling back to an HTTP call. Any failure resolves
// to a zero limit: an unreachable account service must never widen spending
// headroom.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *cache.View[overdraftView]
	log     *zap.Logger
}

func NewClient(baseURL string, redisClient *goredis.Client, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var view *cache.View[overdraftView]
	if redisClient != nil {
		view = cache.NewView[overdraftView](redisClient, 5*time.Minute, log)
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   view,
		log:     log,
	}
}

// OverdraftLimit returns the account's overdraft limit, zero when the
// collaborator cannot answer.
func (c *Client) OverdraftLimit(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if c.cache != nil {
		if view, ok := c.cache.Get(ctx, overdraftKeyPrefix+accountID); ok {
			return view.OverdraftLimit, nil
		}
	}
	if c.baseURL == "" {
		return decimal.Zero, nil
	}

	view, err := c.fetch(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("overdraft lookup failed: %w", err)
	}
	if c.cache != nil {
		c.cache.Set(ctx, overdraftKeyPrefix+accountID, view)
	}
	return view.OverdraftLimit, nil
}

func (c *Client) fetch(ctx context.Context, accountID string) (*overdraftView, error) {
	url := fmt.Sprintf("%s/v1/accounts/%s/overdraft", c.baseURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("account service returned %d", resp.StatusCode)
	}

	var view overdraftView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}
