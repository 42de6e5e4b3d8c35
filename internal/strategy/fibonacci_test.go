package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fills the accumulation window: fibMaxBars bars at start, then one bar at end
// which triggers the window evaluation.
func fillWindow(f *FibonacciRetracement, start, end float64) Directive {
	for i := 0; i < fibMaxBars; i++ {
		f.Evaluate(closeBar(start))
	}
	return f.Evaluate(closeBar(end))
}

func TestFibonacciAccumulationHoldsUntilWindowCloses(t *testing.T) {
	f := NewFibonacciRetracement()
	for i := 0; i < fibMaxBars; i++ {
		assert.Equal(t, Hold, f.Evaluate(closeBar(100)))
	}
	assert.False(t, f.Monitoring)
}

func TestFibonacciUptrendEntersMonitoringAndBuys(t *testing.T) {
	f := NewFibonacciRetracement()
	got := fillWindow(f, 100, 150)

	require.Equal(t, Buy, got)
	require.True(t, f.Monitoring)
	assert.True(t, f.Uptrend)
	assert.Equal(t, 0, f.CurrentBar)

	// difference = 50; bands are end - diff*(ratio +/- margin).
	assert.InDelta(t, 135.7, f.ProfitLower, 1e-9)
	assert.InDelta(t, 140.7, f.ProfitUpper, 1e-9)
	assert.InDelta(t, 122.5, f.HalfBackLower, 1e-9)
	assert.InDelta(t, 127.5, f.HalfBackUpper, 1e-9)
	assert.InDelta(t, 116.6, f.FailureLower, 1e-9)
	assert.InDelta(t, 121.6, f.FailureUpper, 1e-9)
}

func TestFibonacciProfitBandSellsAndResets(t *testing.T) {
	f := NewFibonacciRetracement()
	require.Equal(t, Buy, fillWindow(f, 100, 150))

	assert.Equal(t, Sell, f.Evaluate(closeBar(140)))
	assert.False(t, f.Monitoring)
	assert.Equal(t, 0, f.CurrentBar)
}

func TestFibonacciHalfBackBandHolds(t *testing.T) {
	f := NewFibonacciRetracement()
	require.Equal(t, Buy, fillWindow(f, 100, 150))

	assert.Equal(t, Hold, f.Evaluate(closeBar(125)))
	assert.True(t, f.Monitoring, "an ambiguous retracement keeps monitoring")
}

func TestFibonacciFailureBandSellsAndResets(t *testing.T) {
	f := NewFibonacciRetracement()
	require.Equal(t, Buy, fillWindow(f, 100, 150))

	assert.Equal(t, Sell, f.Evaluate(closeBar(120)))
	assert.False(t, f.Monitoring)
}

func TestFibonacciOutsideAllBandsHolds(t *testing.T) {
	f := NewFibonacciRetracement()
	require.Equal(t, Buy, fillWindow(f, 100, 150))

	assert.Equal(t, Hold, f.Evaluate(closeBar(149)))
	assert.True(t, f.Monitoring)
}

func TestFibonacciDowntrendResetsWithoutMonitoring(t *testing.T) {
	f := NewFibonacciRetracement()
	got := fillWindow(f, 150, 100)

	assert.Equal(t, Hold, got)
	assert.False(t, f.Monitoring)
	assert.False(t, f.Uptrend)
	assert.Equal(t, 0, f.CurrentBar)
}

func TestFibonacciFlatWindowIsNotAnUptrend(t *testing.T) {
	f := NewFibonacciRetracement()
	got := fillWindow(f, 100, 100)

	assert.Equal(t, Hold, got)
	assert.False(t, f.Monitoring)
}
