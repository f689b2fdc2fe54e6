// Package coingecko provides a client for the CoinGecko public market data API.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpulse/coinpulse/internal/model"
)

const (
	// DefaultBaseURL is the public CoinGecko v3 API root.
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	// DefaultTimeout is the total request timeout.
	DefaultTimeout = 20 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 10 * time.Second

	// HeaderAPIKey carries the optional demo API key.
	HeaderAPIKey = "x-cg-demo-api-key"

	vsCurrency   = "usd"
	maxErrorBody = 512
)

// Client fetches coin listings and price series from CoinGecko.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the demo API key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock overrides the clock used to stamp LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Client for baseURL.
// An empty baseURL falls back to DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: NewHTTPClient(timeout),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient creates an HTTP client with bounded dial, TLS and total timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// marketCoin mirrors one element of the /coins/markets response.
type marketCoin struct {
	ID                       string              `json:"id"`
	Symbol                   string              `json:"symbol"`
	Name                     string              `json:"name"`
	Image                    string              `json:"image"`
	CurrentPrice             decimal.NullDecimal `json:"current_price"`
	MarketCap                decimal.NullDecimal `json:"market_cap"`
	MarketCapRank            *int                `json:"market_cap_rank"`
	PriceChangePercentage24h decimal.NullDecimal `json:"price_change_percentage_24h"`
}

// marketChart mirrors the /coins/{id}/market_chart response.
type marketChart struct {
	Prices [][2]decimal.Decimal `json:"prices"`
}

// FetchTopCoins returns the limit highest market-cap coins, ordered by
// market cap descending as returned upstream.
func (c *Client) FetchTopCoins(ctx context.Context, limit int) ([]model.CoinSnapshot, error) {
	const op = "fetch top coins"

	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("page", "1")
	params.Set("sparkline", "false")
	params.Set("price_change_percentage", "24h")

	var raw []marketCoin
	if err := c.getJSON(ctx, op, "/coins/markets", params, &raw); err != nil {
		return nil, err
	}

	fetchedAt := c.now().UTC()
	coins := make([]model.CoinSnapshot, 0, len(raw))
	for _, rc := range raw {
		coins = append(coins, model.CoinSnapshot{
			CoinID:         rc.ID,
			Name:           rc.Name,
			Symbol:         strings.ToUpper(rc.Symbol),
			Price:          valueOrZero(rc.CurrentPrice),
			MarketCap:      valueOrZero(rc.MarketCap),
			PriceChange24h: valueOrZero(rc.PriceChangePercentage24h),
			Image:          rc.Image,
			Rank:           rc.MarketCapRank,
			LastUpdated:    fetchedAt,
		})
	}

	return coins, nil
}

// FetchCoinHistory returns the USD price series of coinID over the last days.
func (c *Client) FetchCoinHistory(ctx context.Context, coinID string, days int) ([]model.PricePoint, error) {
	op := "fetch history for " + coinID

	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("days", strconv.Itoa(days))

	var chart marketChart
	if err := c.getJSON(ctx, op, "/coins/"+url.PathEscape(coinID)+"/market_chart", params, &chart); err != nil {
		return nil, err
	}

	points := make([]model.PricePoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		points = append(points, model.PricePoint{
			Timestamp: time.UnixMilli(p[0].IntPart()).UTC(),
			Price:     p[1],
		})
	}

	return points, nil
}

// getJSON performs a GET request and decodes a 2xx JSON body into dst.
// Every failure is reported as a *RemoteFetchError.
func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, dst any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &RemoteFetchError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "coinpulse/1.0")
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteFetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteFetchError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &RemoteFetchError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

func valueOrZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
