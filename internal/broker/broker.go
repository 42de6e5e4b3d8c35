package broker

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"swingbot/internal/gateway"
)

// Client wraps the authenticated Alpaca trading session. Only the order
// gateway goroutine calls it.
type Client struct {
	client *alpaca.Client
}

func New(apiKey, apiSecret, baseURL string) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &Client{client: alpaca.NewClient(opts)}
}

// PlaceOrder submits a market day order for the given gateway order.
func (c *Client) PlaceOrder(ctx context.Context, order gateway.Order) error {
	req := alpaca.PlaceOrderRequest{
		Symbol:      order.Symbol(),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}

	switch o := order.(type) {
	case gateway.BuyEquity:
		qty := decimal.NewFromInt(o.Qty)
		req.Side = alpaca.Buy
		req.Qty = &qty
	case gateway.SellEquity:
		qty := decimal.NewFromInt(o.Qty)
		req.Side = alpaca.Sell
		req.Qty = &qty
	case gateway.BuyFractional:
		notional := o.Notional
		req.Side = alpaca.Buy
		req.Notional = &notional
	case gateway.SellFractional:
		amount := o.Amount
		req.Side = alpaca.Sell
		req.Qty = &amount
	default:
		return fmt.Errorf("unsupported order type %T", order)
	}

	placed, err := c.client.PlaceOrder(req)
	if err != nil {
		log.Error().Err(err).Str("symbol", order.Symbol()).Str("side", string(req.Side)).Msg("place order failed")
		return err
	}

	log.Info().
		Str("order_id", placed.ID).
		Str("symbol", order.Symbol()).
		Str("side", string(req.Side)).
		Str("status", string(placed.Status)).
		Msg("order placed")
	return nil
}

// Cash returns the account's authoritative cash balance.
func (c *Client) Cash(ctx context.Context) (float64, error) {
	acct, err := c.client.GetAccount()
	if err != nil {
		log.Error().Err(err).Msg("fetch account failed")
		return 0, err
	}
	cash, _ := acct.Cash.Float64()
	return cash, nil
}
