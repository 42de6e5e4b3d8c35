package strategy

import (
	"encoding/json"
	"fmt"

	"swingbot/internal/md"
)

// Directive is a strategy's output signal for one bar.
type Directive int

const (
	Hold Directive = iota
	Buy
	Sell
)

func (d Directive) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Strategy is the per-instrument decision engine. Implementations own only the
// numeric memory they need and must be able to serialize it so a monitor
// snapshot survives a restart.
type Strategy interface {
	// Evaluate consumes one bar and produces a directive.
	Evaluate(bar md.Bar) Directive
	// Snapshot returns the strategy's internal memory and its identity name.
	Snapshot() ([]byte, string, error)
}

// The strategy set is closed; these names select the implementation in config
// and tag serialized state so a reload cannot silently coerce one variant into
// another.
const (
	NameSingleMovingAverage = "Single Moving Average"
	NameTwoMovingAverages   = "Two Moving Averages"
	NameSupportResist       = "Support and Resist"
	NameFibonacci           = "Fibonacci"
)

// ErrUnknownStrategy is a configuration error; it aborts startup.
var ErrUnknownStrategy = fmt.Errorf("unknown strategy")

// New builds a fresh strategy from its configured name.
func New(name string) (Strategy, error) {
	switch name {
	case NameSingleMovingAverage:
		return NewSingleMovingAverage(), nil
	case NameTwoMovingAverages:
		return NewTwoMovingAverages(), nil
	case NameSupportResist:
		return NewSupportResist(), nil
	case NameFibonacci:
		return NewFibonacciRetracement(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Restore rebuilds a strategy from a (state, name) pair produced by Snapshot.
// A name that does not match a known variant fails loudly.
func Restore(name string, state []byte) (Strategy, error) {
	switch name {
	case NameSingleMovingAverage:
		var s SingleMovingAverage
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("restore %s: %w", name, err)
		}
		return &s, nil
	case NameTwoMovingAverages:
		var s TwoMovingAverages
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("restore %s: %w", name, err)
		}
		return &s, nil
	case NameSupportResist:
		var s SupportResist
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("restore %s: %w", name, err)
		}
		return &s, nil
	case NameFibonacci:
		var s FibonacciRetracement
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("restore %s: %w", name, err)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

func snapshotJSON(s any, name string) ([]byte, string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot %s: %w", name, err)
	}
	return data, name, nil
}
