package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRequest a market order with distance-based protective orders. Negative units sell.
type OrderRequest struct {
	Pair           string
	Units          int64
	StopLossPips   float64
	TakeProfitPips float64
}

type distanceSpec struct {
	Distance string `json:"distance"`
}

type clientExtensions struct {
	ID      string `json:"id"`
	Tag     string `json:"tag,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type marketOrder struct {
	Type             string           `json:"type"`
	Instrument       string           `json:"instrument"`
	Units            string           `json:"units"`
	TimeInForce      string           `json:"timeInForce"`
	PositionFill     string           `json:"positionFill"`
	StopLossOnFill   distanceSpec     `json:"stopLossOnFill"`
	TakeProfitOnFill distanceSpec     `json:"takeProfitOnFill"`
	ClientExtensions clientExtensions `json:"clientExtensions"`
}

type orderEnvelope struct {
	Order marketOrder `json:"order"`
}

type orderResponse struct {
	OrderFillTransaction *struct {
		ID          string    `json:"id"`
		Price       string    `json:"price"`
		Time        time.Time `json:"time"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
			Units   string `json:"units"`
			Price   string `json:"price"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
	OrderRejectTransaction *struct {
		RejectReason string `json:"rejectReason"`
	} `json:"orderRejectTransaction"`
}

// FormatDistance pips as a price distance: 3 decimals for JPY pairs, 5 otherwise.
func FormatDistance(pair string, pips float64) string {
	places := int32(5)
	if types.IsJPYPair(pair) {
		places = 3
	}
	return decimal.NewFromFloat(pips).
		Mul(decimal.NewFromFloat(types.PipSize(pair))).
		StringFixed(places)
}

// PlaceMarketOrder submits once. A cancel or reject transaction, or an answer without a
// fill, is ErrOrderRejected.
func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*types.Trade, error) {
	if req.Units == 0 {
		return nil, fmt.Errorf("%w: zero units for %s", ErrOrderRejected, req.Pair)
	}
	clientID := uuid.NewString()
	body := orderEnvelope{Order: marketOrder{
		Type:             "MARKET",
		Instrument:       types.InstrumentName(req.Pair),
		Units:            strconv.FormatInt(req.Units, 10),
		TimeInForce:      "FOK",
		PositionFill:     "DEFAULT",
		StopLossOnFill:   distanceSpec{Distance: FormatDistance(req.Pair, req.StopLossPips)},
		TakeProfitOnFill: distanceSpec{Distance: FormatDistance(req.Pair, req.TakeProfitPips)},
		ClientExtensions: clientExtensions{ID: clientID, Tag: "fx-session-sentry"},
	}}

	var resp orderResponse
	err := c.send(ctx, http.MethodPost, c.accountPath("/orders"), nil, body, &resp, 0)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, fmt.Errorf("%w: %w", ErrOrderRejected, err)
		}
		return nil, fmt.Errorf("place %s order: %w", req.Pair, err)
	}

	switch {
	case resp.OrderRejectTransaction != nil:
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, resp.OrderRejectTransaction.RejectReason)
	case resp.OrderCancelTransaction != nil:
		return nil, fmt.Errorf("%w: cancelled: %s", ErrOrderRejected, resp.OrderCancelTransaction.Reason)
	case resp.OrderFillTransaction == nil:
		return nil, fmt.Errorf("%w: no fill for %s", ErrOrderRejected, req.Pair)
	}

	fill := resp.OrderFillTransaction
	trade := &types.Trade{
		ID:         fill.ID,
		ClientID:   clientID,
		Pair:       req.Pair,
		Units:      req.Units,
		OpenTime:   fill.Time,
		StopLoss:   req.StopLossPips,
		TakeProfit: req.TakeProfitPips,
	}
	priceText := fill.Price
	if fill.TradeOpened != nil {
		trade.ID = fill.TradeOpened.TradeID
		if fill.TradeOpened.Price != "" {
			priceText = fill.TradeOpened.Price
		}
	}
	if trade.Price, err = parseAmount(priceText); err != nil {
		return nil, fmt.Errorf("parse fill price %q: %w", priceText, err)
	}

	zap.L().Info("订单成交",
		zap.String("pair", req.Pair),
		zap.String("trade_id", trade.ID),
		zap.Int64("units", req.Units),
		zap.Float64("price", trade.Price))
	return trade, nil
}

// CloseTrade closes the whole trade.
func (c *Client) CloseTrade(ctx context.Context, tradeID string) error {
	body := map[string]string{"units": "ALL"}
	if err := c.do(ctx, http.MethodPut, c.accountPath("/trades/"+tradeID+"/close"), nil, body, nil); err != nil {
		return fmt.Errorf("close trade %s: %w", tradeID, err)
	}
	return nil
}
