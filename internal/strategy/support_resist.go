package strategy

import "swingbot/internal/md"

// SupportResist trades around the classic floor-trader pivot. The first bar
// only records high/low/close; every later bar decides against the previous
// bar's values and then rolls them forward.
type SupportResist struct {
	PrevHigh  float64 `json:"prev_high"`
	PrevLow   float64 `json:"prev_low"`
	PrevClose float64 `json:"prev_close"`
	Primed    bool    `json:"primed"`
}

func NewSupportResist() *SupportResist {
	return &SupportResist{}
}

func (s *SupportResist) Evaluate(bar md.Bar) Directive {
	if !s.Primed {
		s.record(bar)
		s.Primed = true
		return Hold
	}

	pivot := (s.PrevHigh + s.PrevLow + s.PrevClose) / 3.0
	resistance := 2.0*pivot - s.PrevLow
	s.record(bar)

	if bar.Close >= resistance {
		return Sell
	}
	if bar.Close > pivot {
		return Buy
	}
	return Hold
}

func (s *SupportResist) record(bar md.Bar) {
	s.PrevHigh = bar.High
	s.PrevLow = bar.Low
	s.PrevClose = bar.Close
}

func (s *SupportResist) Snapshot() ([]byte, string, error) {
	return snapshotJSON(s, NameSupportResist)
}
