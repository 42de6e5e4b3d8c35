package ledger

import "sync"

// Ledger is the process-wide cash / buying-power cell. Monitors read it to
// size buys; only the order gateway writes it in live mode, always from the
// broker's authoritative account figure, never incrementally. Backtests own a
// private ledger and adjust it directly.
type Ledger struct {
	mu   sync.RWMutex
	cash float64
}

func New(initial float64) *Ledger {
	return &Ledger{cash: initial}
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

func (l *Ledger) Set(cash float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = cash
}

// Add applies a delta. Backtest only.
func (l *Ledger) Add(delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash += delta
}
