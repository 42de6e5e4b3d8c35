package gateway

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"swingbot/internal/ledger"
)

// Order is the closed set of broker mutations a monitor may request. Equity
// orders are whole shares; fractional orders are priced by notional dollars
// or a fractional amount held.
type Order interface {
	Symbol() string
	isOrder()
}

type BuyEquity struct {
	Sym string
	Qty int64
}

type SellEquity struct {
	Sym string
	Qty int64
}

type BuyFractional struct {
	Sym      string
	Notional decimal.Decimal
}

type SellFractional struct {
	Sym    string
	Amount decimal.Decimal
}

func (o BuyEquity) Symbol() string      { return o.Sym }
func (o SellEquity) Symbol() string     { return o.Sym }
func (o BuyFractional) Symbol() string  { return o.Sym }
func (o SellFractional) Symbol() string { return o.Sym }

func (BuyEquity) isOrder()      {}
func (SellEquity) isOrder()     {}
func (BuyFractional) isOrder()  {}
func (SellFractional) isOrder() {}

// Request pairs an order with its private reply channel. The reply channel
// must have capacity 1 so the gateway never blocks on a slow requester.
type Request struct {
	Order Order
	Reply chan Response
}

// Response reports the outcome of one order. Err == nil means the broker
// accepted it.
type Response struct {
	Err error
}

func (r Response) Processed() bool { return r.Err == nil }

// Broker is the slice of the brokerage the gateway consumes: place a market
// order, read authoritative cash.
type Broker interface {
	PlaceOrder(ctx context.Context, order Order) error
	Cash(ctx context.Context) (float64, error)
}

// Gateway owns the single broker session. All order mutations flow through
// one goroutine in strict arrival order, so the broker can never see two
// conflicting orders at once. After every processed order it refreshes the
// shared ledger from the broker's account figure rather than computing the
// new balance locally.
type Gateway struct {
	broker   Broker
	ledger   *ledger.Ledger
	requests chan Request
	done     chan struct{}
}

func New(broker Broker, led *ledger.Ledger, queueSize int) *Gateway {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Gateway{
		broker:   broker,
		ledger:   led,
		requests: make(chan Request, queueSize),
		done:     make(chan struct{}),
	}
}

// Requests is the inbound order channel. Closing it shuts the gateway down
// cleanly once the queue drains.
func (g *Gateway) Requests() chan<- Request { return g.requests }

// Done is closed when the gateway loop exits, for whatever reason. The caller
// decides whether that is fatal.
func (g *Gateway) Done() <-chan struct{} { return g.done }

// Close stops the gateway by closing the inbound channel.
func (g *Gateway) Close() { close(g.requests) }

// Run seeds the ledger from the broker account and then serves order requests
// until the inbound channel closes or the context is cancelled. The initial
// cash fetch must succeed; without it every monitor would size buys off a
// zero ledger.
func (g *Gateway) Run(ctx context.Context) error {
	defer close(g.done)

	cash, err := g.broker.Cash(ctx)
	if err != nil {
		return err
	}
	g.ledger.Set(cash)
	log.Info().Float64("cash", cash).Msg("broker account loaded, gateway serving orders")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-g.requests:
			if !ok {
				log.Info().Msg("all requesters gone, gateway exiting")
				return nil
			}
			g.process(ctx, req)
		}
	}
}

func (g *Gateway) process(ctx context.Context, req Request) {
	err := g.broker.PlaceOrder(ctx, req.Order)
	if err != nil {
		log.Error().Err(err).Str("symbol", req.Order.Symbol()).Msg("order rejected by broker")
	}
	req.Reply <- Response{Err: err}

	// Success or failure, re-fetch the authoritative balance. Partial fills,
	// fees and rejections all make local accounting drift.
	cash, cashErr := g.broker.Cash(ctx)
	if cashErr != nil {
		log.Error().Err(cashErr).Msg("could not refresh account cash")
		return
	}
	g.ledger.Set(cash)
}
