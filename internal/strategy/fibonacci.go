package strategy

import (
	"github.com/rs/zerolog/log"

	"swingbot/internal/md"
)

// Number of bars accumulated before a retracement window is evaluated.
const fibMaxBars = 460

// Leeway applied to each retracement ratio when building the price bands.
const fibErrorMargin = 0.05

// FibonacciRetracement is a two-phase state machine. It accumulates a fixed
// window of bars; if the window closed higher than it opened it buys and
// watches three retracement bands (0.236 profit, 0.5 half-way-back, 0.618
// failure) until the price lands in one, then returns to accumulating. A
// downtrend window just resets the counter.
type FibonacciRetracement struct {
	BarStart   float64 `json:"bar_start"`
	BarEnd     float64 `json:"bar_end"`
	CurrentBar int     `json:"current_bar"`
	Monitoring bool    `json:"monitoring"`
	Uptrend    bool    `json:"uptrend"`

	ProfitLower   float64 `json:"profit_lower"`
	ProfitUpper   float64 `json:"profit_upper"`
	HalfBackLower float64 `json:"half_back_lower"`
	HalfBackUpper float64 `json:"half_back_upper"`
	FailureLower  float64 `json:"failure_lower"`
	FailureUpper  float64 `json:"failure_upper"`
}

func NewFibonacciRetracement() *FibonacciRetracement {
	return &FibonacciRetracement{}
}

func (f *FibonacciRetracement) Evaluate(bar md.Bar) Directive {
	close := bar.Close

	if f.Monitoring {
		// Profit band first: it overrides the others when bands overlap.
		if close >= f.ProfitLower && close <= f.ProfitUpper {
			f.reset()
			return Sell
		}
		// Ambiguous retracement, wait it out.
		if close >= f.HalfBackLower && close <= f.HalfBackUpper {
			return Hold
		}
		if close >= f.FailureLower && close <= f.FailureUpper {
			// Uptrend failed, get out before it gets worse.
			f.reset()
			return Sell
		}
		return Hold
	}

	if f.CurrentBar == 0 {
		f.BarStart = close
	}

	if f.CurrentBar == fibMaxBars {
		f.BarEnd = close
		difference := f.BarEnd - f.BarStart
		f.Uptrend = difference > 0

		f.ProfitLower, f.ProfitUpper = fibBand(f.BarEnd, difference, 0.236)
		f.HalfBackLower, f.HalfBackUpper = fibBand(f.BarEnd, difference, 0.5)
		f.FailureLower, f.FailureUpper = fibBand(f.BarEnd, difference, 0.618)

		if f.Uptrend {
			log.Info().
				Float64("close", close).
				Float64("difference", difference).
				Float64("profit_lower", f.ProfitLower).
				Float64("profit_upper", f.ProfitUpper).
				Float64("half_back_lower", f.HalfBackLower).
				Float64("half_back_upper", f.HalfBackUpper).
				Float64("failure_lower", f.FailureLower).
				Float64("failure_upper", f.FailureUpper).
				Msg("uptrend detected, monitoring retracement")
			f.Monitoring = true
			f.CurrentBar = 0
			return Buy
		}

		log.Info().Float64("close", close).Msg("downtrend detected, resetting window")
		f.reset()
		return Hold
	}

	f.CurrentBar++
	return Hold
}

func (f *FibonacciRetracement) reset() {
	f.Monitoring = false
	f.CurrentBar = 0
}

// fibBand builds the widened price band around end - difference*ratio. Bounds
// are normalized so lower <= upper regardless of trend direction.
func fibBand(end, difference, ratio float64) (lower, upper float64) {
	a := end - difference*(ratio+fibErrorMargin)
	b := end - difference*(ratio-fibErrorMargin)
	if a > b {
		a, b = b, a
	}
	return a, b
}

func (f *FibonacciRetracement) Snapshot() ([]byte, string, error) {
	return snapshotJSON(f, NameFibonacci)
}
