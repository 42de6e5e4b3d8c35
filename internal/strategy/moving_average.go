package strategy

import "swingbot/internal/md"

// ema is an exponential moving average with smoothing 2/(period+1). The first
// observation seeds the average.
type ema struct {
	Period  int     `json:"period"`
	Current float64 `json:"current"`
	Primed  bool    `json:"primed"`
}

func newEMA(period int) ema {
	return ema{Period: period}
}

func (e *ema) next(value float64) float64 {
	if !e.Primed {
		e.Current = value
		e.Primed = true
		return value
	}
	k := 2.0 / (float64(e.Period) + 1.0)
	e.Current += (value - e.Current) * k
	return e.Current
}

// SingleMovingAverage buys when the close is above its EMA and sells when it
// is below.
type SingleMovingAverage struct {
	EMA ema `json:"ema"`
}

func NewSingleMovingAverage() *SingleMovingAverage {
	return &SingleMovingAverage{EMA: newEMA(2)}
}

func (s *SingleMovingAverage) Evaluate(bar md.Bar) Directive {
	avg := s.EMA.next(bar.Close)
	if bar.Close > avg {
		return Buy
	}
	if bar.Close < avg {
		return Sell
	}
	return Hold
}

func (s *SingleMovingAverage) Snapshot() ([]byte, string, error) {
	return snapshotJSON(s, NameSingleMovingAverage)
}

// TwoMovingAverages is a crossover strategy: buy while the fast EMA is above
// the slow one, sell while it is below.
type TwoMovingAverages struct {
	Fast ema `json:"fast"`
	Slow ema `json:"slow"`
}

func NewTwoMovingAverages() *TwoMovingAverages {
	return &TwoMovingAverages{Fast: newEMA(2), Slow: newEMA(6)}
}

func (s *TwoMovingAverages) Evaluate(bar md.Bar) Directive {
	fast := s.Fast.next(bar.Close)
	slow := s.Slow.next(bar.Close)
	if fast > slow {
		return Buy
	}
	if fast < slow {
		return Sell
	}
	return Hold
}

func (s *TwoMovingAverages) Snapshot() ([]byte, string, error) {
	return snapshotJSON(s, NameTwoMovingAverages)
}
