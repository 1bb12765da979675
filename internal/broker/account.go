package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fx-session-sentry/pkg/types"
)

const defaultMarginRate = 0.05

type accountResponse struct {
	Account struct {
		ID              string `json:"id"`
		Currency        string `json:"currency"`
		Balance         string `json:"balance"`
		MarginAvailable string `json:"marginAvailable"`
		MarginRate      string `json:"marginRate"`
		OpenTradeCount  int    `json:"openTradeCount"`
	} `json:"account"`
}

func (c *Client) GetAccount(ctx context.Context) (*types.Account, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/summary"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	a := resp.Account
	balance, err := parseAmount(a.Balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	margin, err := parseAmount(a.MarginAvailable)
	if err != nil {
		return nil, fmt.Errorf("parse margin available: %w", err)
	}
	rate, err := parseAmount(a.MarginRate)
	if err != nil {
		return nil, fmt.Errorf("parse margin rate: %w", err)
	}
	if rate <= 0 {
		rate = defaultMarginRate
	}
	return &types.Account{
		ID:              a.ID,
		Currency:        a.Currency,
		Balance:         balance,
		MarginAvailable: margin,
		MarginRate:      rate,
		OpenTradeCount:  a.OpenTradeCount,
	}, nil
}

// parseAmount OANDA sends decimals as strings; an empty field reads as zero.
func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

type positionSide struct {
	Units string `json:"units"`
}

type positionsResponse struct {
	Positions []struct {
		Instrument   string       `json:"instrument"`
		Long         positionSide `json:"long"`
		Short        positionSide `json:"short"`
		UnrealizedPL string       `json:"unrealizedPL"`
	} `json:"positions"`
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	var resp positionsResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/openPositions"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	out := make([]types.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		long, err := parseAmount(p.Long.Units)
		if err != nil {
			return nil, fmt.Errorf("parse %s long units: %w", p.Instrument, err)
		}
		short, err := parseAmount(p.Short.Units)
		if err != nil {
			return nil, fmt.Errorf("parse %s short units: %w", p.Instrument, err)
		}
		upl, _ := parseAmount(p.UnrealizedPL)
		out = append(out, types.Position{
			Pair:         types.PairName(p.Instrument),
			LongUnits:    long,
			ShortUnits:   short,
			UnrealizedPL: upl,
		})
	}
	return out, nil
}

// OpenPairs the set of pairs with a non-zero position.
func OpenPairs(positions []types.Position) map[string]bool {
	out := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.IsOpen() {
			out[types.PairName(p.Pair)] = true
		}
	}
	return out
}

type tradeBody struct {
	ID                string    `json:"id"`
	Instrument        string    `json:"instrument"`
	Price             string    `json:"price"`
	OpenTime          time.Time `json:"openTime"`
	State             string    `json:"state"`
	InitialUnits      string    `json:"initialUnits"`
	CurrentUnits      string    `json:"currentUnits"`
	RealizedPL        string    `json:"realizedPL"`
	AverageClosePrice string    `json:"averageClosePrice"`
	CloseTime         time.Time `json:"closeTime"`
	ClientExtensions  *struct {
		ID string `json:"id"`
	} `json:"clientExtensions"`
}

type tradesResponse struct {
	Trades []tradeBody `json:"trades"`
}

func (c *Client) GetOpenTrades(ctx context.Context) ([]types.Trade, error) {
	var resp tradesResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/openTrades"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("get open trades: %w", err)
	}
	out := make([]types.Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		units, err := strconv.ParseInt(t.CurrentUnits, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s units: %w", t.ID, err)
		}
		price, err := parseAmount(t.Price)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s price: %w", t.ID, err)
		}
		trade := types.Trade{ID: t.ID, Pair: types.PairName(t.Instrument), Units: units, Price: price, OpenTime: t.OpenTime}
		if t.ClientExtensions != nil {
			trade.ClientID = t.ClientExtensions.ID
		}
		out = append(out, trade)
	}
	return out, nil
}

// GetClosedTrades the most recent closed trades, newest first.
func (c *Client) GetClosedTrades(ctx context.Context, count int) ([]types.ClosedTrade, error) {
	q := url.Values{}
	q.Set("state", "CLOSED")
	q.Set("count", strconv.Itoa(count))

	var resp tradesResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/trades"), q, nil, &resp); err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}
	out := make([]types.ClosedTrade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		units, err := strconv.ParseInt(t.InitialUnits, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s units: %w", t.ID, err)
		}
		open, err := parseAmount(t.Price)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s price: %w", t.ID, err)
		}
		closePrice, err := parseAmount(t.AverageClosePrice)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s close price: %w", t.ID, err)
		}
		pl, _ := parseAmount(t.RealizedPL)
		out = append(out, types.ClosedTrade{
			ID:         t.ID,
			Pair:       types.PairName(t.Instrument),
			Units:      units,
			OpenPrice:  open,
			ClosePrice: closePrice,
			RealizedPL: pl,
			CloseTime:  t.CloseTime,
		})
	}
	return out, nil
}
