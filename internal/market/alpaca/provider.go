package alpaca

import (
	"context"
	"fmt"
	"time"

	"eom_fund/internal/market"
	"eom_fund/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// barClient is the subset of the Alpaca market data client the provider uses.
type barClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// Provider implements market.PriceSource with Alpaca daily bars.
type Provider struct {
	client barClient
	loc    *time.Location // exchange time zone, bars are dated in it
}

// Ensure Provider implements the interface
var _ market.PriceSource = (*Provider)(nil)

// NewProvider returns a new Alpaca provider. The client reads APCA_API_KEY_ID
// and APCA_API_SECRET_KEY from the environment.
func NewProvider() *Provider {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &Provider{
		client: marketdata.NewClient(marketdata.ClientOpts{}),
		loc:    loc,
	}
}

// History fetches split and dividend adjusted daily closes from `from` to now.
func (p *Provider) History(ctx context.Context, tickers []string, from models.Date) (market.History, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := p.client.GetMultiBars(tickers, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Adjustment("all"),
		Start:      from.Time(),
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: get bars: %w", err)
	}

	h := market.History{}
	for ticker, series := range bars {
		for _, b := range series {
			h.Add(ticker, models.DateOf(b.Timestamp.In(p.loc)), b.Close)
		}
	}
	return h.Normalize(), nil
}
