// Package eodhd reads end-of-day closes from the EODHD API, which covers the
// Oslo exchange under the same ".OL" suffix Yahoo uses.
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"eom_fund/internal/market"
	"eom_fund/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const DefaultBaseURL = "https://eodhd.com/api"

// maxParallel caps concurrent requests, the free plan throttles hard.
const maxParallel = 4

// Client implements market.PriceSource.
type Client struct {
	BaseURL  string
	APIKey   string
	Adjusted bool // use adjusted_close instead of close
	HTTP     *http.Client
}

var _ market.PriceSource = (*Client)(nil)

func New(apiKey string, adjusted bool) *Client {
	return &Client{
		BaseURL:  DefaultBaseURL,
		APIKey:   apiKey,
		Adjusted: adjusted,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// eod is one element of the /eod/{ticker} response.
type eod struct {
	Date          models.Date      `json:"date"`
	Close         decimal.Decimal  `json:"close"`
	AdjustedClose *decimal.Decimal `json:"adjusted_close"`
}

// History fetches every ticker concurrently. A ticker unknown to EODHD is left
// out of the result; any other failure fails the whole fetch.
func (c *Client) History(ctx context.Context, tickers []string, from models.Date) (market.History, error) {
	h := market.History{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, ticker := range tickers {
		g.Go(func() error {
			rows, err := c.fetch(ctx, ticker, from)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range rows {
				px := r.Close
				if c.Adjusted && r.AdjustedClose != nil {
					px = *r.AdjustedClose
				}
				h.AddDecimal(ticker, r.Date, px)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return h.Normalize(), nil
}

func (c *Client) fetch(ctx context.Context, ticker string, from models.Date) ([]eod, error) {
	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("api_token", c.APIKey)
	q.Set("from", from.String())
	addr := fmt.Sprintf("%s/eod/%s?%s", c.BaseURL, url.PathEscape(ticker), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eodhd: %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Printf("WARN: eodhd has no data for %s, skipping", ticker)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eodhd: %s: unexpected status %s", ticker, resp.Status)
	}

	var rows []eod
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("eodhd: %s: decode: %w", ticker, err)
	}
	return rows, nil
}
