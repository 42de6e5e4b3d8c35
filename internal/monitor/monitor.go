package monitor

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"swingbot/internal/gateway"
	"swingbot/internal/ledger"
	"swingbot/internal/md"
	"swingbot/internal/strategy"
)

var (
	// ErrNoBar aborts a live run that arrived without price data. Only
	// backtests may run without a bar.
	ErrNoBar = errors.New("no bar data provided outside backtest mode")

	// ErrReplyTimeout is reported when the gateway does not answer within the
	// configured window. Monitor state stays untouched, same as a rejection.
	ErrReplyTimeout = errors.New("order gateway reply timed out")
)

// Config is one instrument's entry from the config file.
type Config struct {
	Symbol            string
	Strategy          string
	EmergencyLimitPct float64  // positive drop percentage that forces liquidation
	UpperLimitPct     *float64 // optional take-profit percentage
	Intensity         int      // max shares per buy; max dollars for fractional
	Fractional        bool     // instrument is priced by fractional notional
}

// Options carries engine-wide knobs shared by every monitor.
type Options struct {
	ReplyTimeout time.Duration
	RiskOffHour  int              // UTC hour after which the weekly risk-off fires
	Now          func() time.Time // injectable clock
}

// Monitor owns one symbol's trading state. Exactly one run mutates it at a
// time; concurrent ticks for the same symbol are skipped, not queued. Every
// gateway request is resolved before local state changes, so a failed or
// timed-out order leaves the monitor where it was and the next eligible tick
// retries naturally.
type Monitor struct {
	mu sync.Mutex

	symbol     string
	fractional bool
	strat      strategy.Strategy
	stratName  string
	requests   chan<- gateway.Request

	holding   bool
	costBasis float64
	qty       decimal.Decimal
	openedOn  int // day-of-era the position was opened

	emergencyPct float64 // stored negated: a drop below this forces liquidation
	upperPct     *float64
	cap          int

	replyTimeout time.Duration
	riskOffHour  int
	now          func() time.Time
}

func New(cfg Config, requests chan<- gateway.Request, opts Options) (*Monitor, error) {
	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 30 * time.Second
	}
	return &Monitor{
		symbol:       cfg.Symbol,
		fractional:   cfg.Fractional,
		strat:        strat,
		stratName:    cfg.Strategy,
		requests:     requests,
		qty:          decimal.Zero,
		emergencyPct: -math.Abs(cfg.EmergencyLimitPct),
		upperPct:     cfg.UpperLimitPct,
		cap:          cfg.Intensity,
		replyTimeout: opts.ReplyTimeout,
		riskOffHour:  opts.RiskOffHour,
		now:          opts.Now,
	}, nil
}

func (m *Monitor) Symbol() string { return m.symbol }

// Run executes one live tick under the monitor's lock.
func (m *Monitor) Run(led *ledger.Ledger, bar *md.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run(led, bar)
}

// TryRun is Run unless the monitor is still busy with a previous tick, in
// which case it reports ok=false and the tick is skipped.
func (m *Monitor) TryRun(led *ledger.Ledger, bar *md.Bar) (bool, error) {
	if !m.mu.TryLock() {
		return false, nil
	}
	defer m.mu.Unlock()
	return true, m.run(led, bar)
}

func (m *Monitor) run(led *ledger.Ledger, bar *md.Bar) error {
	if bar == nil {
		return ErrNoBar
	}

	// Swing-trade guard: never re-evaluate the day a position was opened.
	if m.openedToday() {
		return nil
	}

	directive := m.strat.Evaluate(*bar)
	price := bar.Close

	if m.holding {
		pct := (price - m.costBasis) / m.costBasis * 100.0

		if pct <= m.emergencyPct {
			log.Warn().Str("symbol", m.symbol).Float64("price", price).Float64("move_pct", pct).
				Msg("emergency margin triggered, liquidating")
			m.sell(price, "emergency margin")
			return nil
		}
		if m.upperPct != nil && pct >= *m.upperPct {
			log.Warn().Str("symbol", m.symbol).Float64("price", price).Float64("move_pct", pct).
				Msg("upper bound triggered, liquidating")
			m.sell(price, "upper bound")
			return nil
		}
		if m.weekRiskOff() && !m.openedToday() {
			log.Info().Str("symbol", m.symbol).Msg("nearing end of trading week, liquidating")
			m.sell(price, "weekly risk-off")
			return nil
		}
	}

	switch directive {
	case strategy.Buy:
		m.buy(price, led)
	case strategy.Sell:
		m.sell(price, "strategy")
	default:
		log.Info().Str("symbol", m.symbol).Msg("holding")
	}
	return nil
}

func (m *Monitor) buy(price float64, led *ledger.Ledger) {
	if m.holding {
		log.Info().Str("symbol", m.symbol).Msg("cannot buy, already holding")
		return
	}

	qty, cost, ok := m.sizeBuy(led.Cash(), price)
	if !ok {
		log.Info().Str("symbol", m.symbol).Msg("cannot buy, not enough money available")
		return
	}

	var order gateway.Order
	if m.fractional {
		order = gateway.BuyFractional{Sym: m.symbol, Notional: decimal.NewFromFloat(cost).Round(2)}
	} else {
		order = gateway.BuyEquity{Sym: m.symbol, Qty: qty.IntPart()}
	}

	resp := m.send(order)
	if !resp.Processed() {
		log.Error().Err(resp.Err).Str("symbol", m.symbol).Msg("buy not processed")
		return
	}

	m.holding = true
	m.costBasis = price
	m.qty = qty
	m.openedOn = dayOfEra(m.now())
	log.Info().Str("symbol", m.symbol).Str("qty", qty.String()).
		Float64("price", price).Float64("total", cost).Msg("bought, suspended until next day")
}

func (m *Monitor) sell(price float64, reason string) {
	if !m.holding {
		log.Info().Str("symbol", m.symbol).Msg("cannot sell, not holding")
		return
	}

	var order gateway.Order
	if m.fractional {
		order = gateway.SellFractional{Sym: m.symbol, Amount: m.qty}
	} else {
		order = gateway.SellEquity{Sym: m.symbol, Qty: m.qty.IntPart()}
	}

	resp := m.send(order)
	if !resp.Processed() {
		log.Error().Err(resp.Err).Str("symbol", m.symbol).Msg("sell not processed")
		return
	}

	log.Info().Str("symbol", m.symbol).Str("qty", m.qty.String()).
		Float64("price", price).Str("reason", reason).Msg("sold")
	m.holding = false
	m.qty = decimal.Zero
}

// sizeBuy computes the committed quantity and cost for one buy. Equity buys
// take min(cap, floor(cash/price)) whole shares; fractional buys commit
// min(cap, cash) dollars with a $1 minimum notional.
func (m *Monitor) sizeBuy(cash, price float64) (qty decimal.Decimal, cost float64, ok bool) {
	if m.fractional {
		amount := math.Min(float64(m.cap), cash)
		if amount < 1 {
			return decimal.Zero, 0, false
		}
		qty = decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(price))
		return qty, amount, true
	}

	affordable := int(math.Floor(cash / price))
	shares := m.cap
	if affordable < shares {
		shares = affordable
	}
	if shares <= 0 {
		return decimal.Zero, 0, false
	}
	return decimal.NewFromInt(int64(shares)), price * float64(shares), true
}

// send performs the synchronous gateway round trip. The reply channel is
// private to this request; a missing reply within the timeout is a gateway
// error, not a hang.
func (m *Monitor) send(order gateway.Order) gateway.Response {
	reply := make(chan gateway.Response, 1)
	timer := time.NewTimer(m.replyTimeout)
	defer timer.Stop()

	select {
	case m.requests <- gateway.Request{Order: order, Reply: reply}:
	case <-timer.C:
		return gateway.Response{Err: ErrReplyTimeout}
	}

	select {
	case resp := <-reply:
		return resp
	case <-timer.C:
		return gateway.Response{Err: ErrReplyTimeout}
	}
}

func (m *Monitor) openedToday() bool {
	return m.holding && m.openedOn == dayOfEra(m.now())
}

// weekRiskOff reports whether it is the trading week's final day past the
// configured late-day cutoff.
func (m *Monitor) weekRiskOff() bool {
	now := m.now().UTC()
	return endOfMarketWeek(now) && now.Hour() >= m.riskOffHour
}

func endOfMarketWeek(t time.Time) bool {
	switch t.UTC().Weekday() {
	case time.Friday, time.Saturday, time.Sunday:
		return true
	default:
		return false
	}
}

func dayOfEra(t time.Time) int {
	return int(t.UTC().Unix() / 86400)
}
