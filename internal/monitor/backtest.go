package monitor

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"swingbot/internal/ledger"
	"swingbot/internal/md"
	"swingbot/internal/strategy"
)

// Backtest replays historical bars against a virtual ledger and returns the
// money made. No gateway calls are made; fills are assumed instant at the
// bar's close. Buys are refused on the trading week's final day so a live run
// starting Monday would not inherit a weekend position.
func (m *Monitor) Backtest(led *ledger.Ledger, bars []md.Bar) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var moneyMade float64
	for _, bar := range bars {
		directive := m.strat.Evaluate(bar)
		price := bar.Close

		if m.holding {
			pct := (price - m.costBasis) / m.costBasis * 100.0
			if pct < m.emergencyPct {
				proceeds := m.positionValue(price)
				led.Add(proceeds)
				moneyMade += proceeds
				m.holding = false
				m.qty = decimal.Zero
				continue
			}
		}

		switch directive {
		case strategy.Buy:
			if m.holding {
				continue
			}
			if endOfMarketWeek(m.now()) {
				log.Info().Str("symbol", m.symbol).Msg("cannot buy, end of market week")
				continue
			}
			qty, cost, ok := m.sizeBuy(led.Cash(), price)
			if !ok {
				continue
			}
			led.Add(-cost)
			moneyMade -= cost
			m.holding = true
			m.costBasis = price
			m.qty = qty
			log.Info().Str("symbol", m.symbol).Str("qty", qty.String()).
				Float64("price", price).Float64("total", cost).Msg("backtest bought")
		case strategy.Sell:
			if !m.holding {
				continue
			}
			proceeds := m.positionValue(price)
			led.Add(proceeds)
			moneyMade += proceeds
			m.holding = false
			m.qty = decimal.Zero
			log.Info().Str("symbol", m.symbol).Float64("price", price).
				Float64("payout", proceeds).Msg("backtest sold")
		}
	}

	log.Info().Str("symbol", m.symbol).Float64("profit", moneyMade).Msg("backtest finished")
	return moneyMade
}

func (m *Monitor) positionValue(price float64) float64 {
	value, _ := m.qty.Mul(decimal.NewFromFloat(price)).Float64()
	return value
}
