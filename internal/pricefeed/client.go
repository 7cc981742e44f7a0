package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Config holds price feed settings.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client reads spot prices from a CoinGecko-compatible API. Failures
// propagate as errors; it never substitutes a numeric zero for an
// unknown price.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewClient creates a price feed client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.coingecko.com/api/v3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Price returns the USD spot price for an asset ID.
func (c *Client) Price(ctx context.Context, assetID string) (float64, error) {
	if assetID == "" {
		return 0, fmt.Errorf("empty asset id")
	}

	q := url.Values{}
	q.Set("ids", assetID)
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("price feed error %d: %s", resp.StatusCode, string(body))
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}

	price, ok := payload[assetID]["usd"]
	if !ok {
		return 0, fmt.Errorf("no usd price for %s", assetID)
	}
	return price, nil
}
