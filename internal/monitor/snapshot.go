package monitor

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"swingbot/internal/strategy"
)

// Snapshot is the durable form of a monitor, keyed by symbol in the state
// store. The strategy's memory travels inside it, tagged with the strategy
// name so a reload cannot graft one variant's state onto another.
type Snapshot struct {
	Holding       bool            `json:"holding"`
	CostBasis     float64         `json:"cost_basis"`
	StrategyState json.RawMessage `json:"strategy_state"`
	StrategyName  string          `json:"strategy_name"`
	OpenedOn      int             `json:"opened_on"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// Snapshot serializes the monitor's current state.
func (m *Monitor) Snapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, name, err := m.strat.Snapshot()
	if err != nil {
		return nil, err
	}
	snap := Snapshot{
		Holding:       m.holding,
		CostBasis:     m.costBasis,
		StrategyState: state,
		StrategyName:  name,
		OpenedOn:      m.openedOn,
		Quantity:      m.qty,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot for %s: %w", m.symbol, err)
	}
	return data, nil
}

// Restore rehydrates the monitor from a stored snapshot. A snapshot whose
// strategy name does not match the configured one is discarded whole, never
// merged. Corrupt strategy bytes fail loudly.
func (m *Monitor) Restore(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot for %s: %w", m.symbol, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.StrategyName != m.stratName {
		log.Info().Str("symbol", m.symbol).
			Str("stored", snap.StrategyName).Str("configured", m.stratName).
			Msg("strategy changed in config, discarding stored state")
		return nil
	}

	strat, err := strategy.Restore(snap.StrategyName, snap.StrategyState)
	if err != nil {
		return err
	}

	if snap.Holding && snap.Quantity.IsZero() {
		// A bad write in the past could persist a held position with zero
		// quantity; repair it rather than wedging the sell path.
		log.Info().Str("symbol", m.symbol).Msg("held position with zero quantity in store, correcting to 1")
		snap.Quantity = decimal.NewFromInt(1)
	}

	m.strat = strat
	m.holding = snap.Holding
	m.costBasis = snap.CostBasis
	m.openedOn = snap.OpenedOn
	m.qty = snap.Quantity
	if !m.holding {
		m.qty = decimal.Zero
	}
	return nil
}
