package types

import (
	"strings"
	"time"
)

// Candle OHLC bar, oldest-first in every slice handed to the analyzers.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

func (c Candle) Range() float64 { return c.High - c.Low }

func (c Candle) IsBullish() bool { return c.Close > c.Open }

func (c Candle) IsBearish() bool { return c.Close < c.Open }

// Price top-of-book quote
type Price struct {
	Pair string    `json:"pair"`
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Time time.Time `json:"time"`
}

func (p Price) Mid() float64 { return (p.Bid + p.Ask) / 2 }

// SpreadPips spread expressed in pips of the pair.
func (p Price) SpreadPips() float64 {
	return (p.Ask - p.Bid) / PipSize(p.Pair)
}

type Account struct {
	ID              string  `json:"id"`
	Currency        string  `json:"currency"`
	Balance         float64 `json:"balance"`
	MarginAvailable float64 `json:"margin_available"`
	MarginRate      float64 `json:"margin_rate"`
	OpenTradeCount  int     `json:"open_trade_count"`
}

// Trade an order fill as reported by the broker.
type Trade struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	Pair       string    `json:"pair"`
	Units      int64     `json:"units"`
	Price      float64   `json:"price"`
	OpenTime   time.Time `json:"open_time"`
	StopLoss   float64   `json:"stop_loss_pips"`
	TakeProfit float64   `json:"take_profit_pips"`
}

type Position struct {
	Pair         string  `json:"pair"`
	LongUnits    float64 `json:"long_units"`
	ShortUnits   float64 `json:"short_units"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

func (p Position) IsOpen() bool { return p.LongUnits != 0 || p.ShortUnits != 0 }

type ClosedTrade struct {
	ID         string    `json:"id"`
	Pair       string    `json:"pair"`
	Units      int64     `json:"units"`
	OpenPrice  float64   `json:"open_price"`
	ClosePrice float64   `json:"close_price"`
	RealizedPL float64   `json:"realized_pl"`
	CloseTime  time.Time `json:"close_time"`
}

// PnLPips signed result in pips for the trade direction.
func (t ClosedTrade) PnLPips() float64 {
	diff := t.ClosePrice - t.OpenPrice
	if t.Units < 0 {
		diff = -diff
	}
	return diff / PipSize(t.Pair)
}

// TradeResult outcome of a closed trade for the loss-streak rule.
type TradeResult string

const (
	ResultWin       TradeResult = "win"
	ResultLoss      TradeResult = "loss"
	ResultBreakeven TradeResult = "breakeven"
)

// ClassifyResult half a pip either side of zero counts as breakeven.
func ClassifyResult(pnlPips float64) TradeResult {
	switch {
	case pnlPips > 0.5:
		return ResultWin
	case pnlPips < -0.5:
		return ResultLoss
	default:
		return ResultBreakeven
	}
}

// IsJPYPair reports whether pip math for the pair uses two decimals.
func IsJPYPair(pair string) bool {
	return strings.Contains(strings.ToUpper(pair), "JPY")
}

func PipSize(pair string) float64 {
	if IsJPYPair(pair) {
		return 0.01
	}
	return 0.0001
}

// InstrumentName EUR/USD -> EUR_USD
func InstrumentName(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", "_"))
}

// PairName EUR_USD -> EUR/USD
func PairName(instrument string) string {
	return strings.ToUpper(strings.ReplaceAll(instrument, "_", "/"))
}

// NormalizePairs canonical EUR/USD names, blanks and duplicates dropped, order kept.
func NormalizePairs(pairs []string) []string {
	out := make([]string, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		name := PairName(strings.TrimSpace(p))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// QuoteCurrency the second leg of the pair, "" when the name is malformed.
func QuoteCurrency(pair string) string {
	parts := strings.Split(PairName(pair), "/")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
