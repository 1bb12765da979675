package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fx-session-sentry/pkg/types"
)

type ohlc struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type candleBody struct {
	Complete bool      `json:"complete"`
	Volume   int64     `json:"volume"`
	Time     time.Time `json:"time"`
	Mid      *ohlc     `json:"mid"`
}

type candlesResponse struct {
	Instrument  string       `json:"instrument"`
	Granularity string       `json:"granularity"`
	Candles     []candleBody `json:"candles"`
}

// GetCandles complete mid-price candles, oldest first. The forming candle is dropped.
func (c *Client) GetCandles(ctx context.Context, pair, granularity string, count int) ([]types.Candle, error) {
	q := url.Values{}
	q.Set("granularity", granularity)
	q.Set("count", strconv.Itoa(count))
	q.Set("price", "M")

	var resp candlesResponse
	path := "/v3/instruments/" + types.InstrumentName(pair) + "/candles"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, fmt.Errorf("get %s %s candles: %w", pair, granularity, err)
	}

	out := make([]types.Candle, 0, len(resp.Candles))
	for _, cb := range resp.Candles {
		if !cb.Complete || cb.Mid == nil {
			continue
		}
		candle, err := parseCandle(cb)
		if err != nil {
			return nil, fmt.Errorf("parse %s candle at %s: %w", pair, cb.Time, err)
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseCandle(cb candleBody) (types.Candle, error) {
	var (
		vals [4]float64
		err  error
	)
	for i, s := range []string{cb.Mid.O, cb.Mid.H, cb.Mid.L, cb.Mid.C} {
		if vals[i], err = strconv.ParseFloat(s, 64); err != nil {
			return types.Candle{}, err
		}
	}
	return types.Candle{
		Time:   cb.Time,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: float64(cb.Volume),
	}, nil
}

type priceBucket struct {
	Price string `json:"price"`
}

type priceBody struct {
	Instrument string        `json:"instrument"`
	Time       time.Time     `json:"time"`
	Tradeable  bool          `json:"tradeable"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

type pricingResponse struct {
	Prices []priceBody `json:"prices"`
}

// GetPrices top-of-book quotes keyed by pair name.
func (c *Client) GetPrices(ctx context.Context, pairs []string) (map[string]types.Price, error) {
	instruments := make([]string, 0, len(pairs))
	for _, p := range pairs {
		instruments = append(instruments, types.InstrumentName(p))
	}
	q := url.Values{}
	q.Set("instruments", strings.Join(instruments, ","))

	var resp pricingResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/pricing"), q, nil, &resp); err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}

	out := make(map[string]types.Price, len(resp.Prices))
	for _, pb := range resp.Prices {
		if len(pb.Bids) == 0 || len(pb.Asks) == 0 {
			continue
		}
		bid, err := strconv.ParseFloat(pb.Bids[0].Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s bid: %w", pb.Instrument, err)
		}
		ask, err := strconv.ParseFloat(pb.Asks[0].Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s ask: %w", pb.Instrument, err)
		}
		pair := types.PairName(pb.Instrument)
		out[pair] = types.Price{Pair: pair, Bid: bid, Ask: ask, Time: pb.Time}
	}
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, pair string) (*types.Price, error) {
	prices, err := c.GetPrices(ctx, []string{pair})
	if err != nil {
		return nil, err
	}
	p, ok := prices[types.PairName(pair)]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", pair)
	}
	return &p, nil
}
