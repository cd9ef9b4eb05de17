package models

import (
	"fmt"
	"time"
)

// RawQuote is a quote row as returned by a broker adapter
type RawQuote struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Last      float64   `json:"last"`
	PrevClose float64   `json:"prev_close"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// QuoteSnapshot is a point-in-time reading of one symbol. It is built at
// fetch time, evaluated and discarded.
type QuoteSnapshot struct {
	Symbol string  `json:"-"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	PctChg float64 `json:"pct_chg"`
	PctAmp float64 `json:"pct_amp"`
	Volume int64   `json:"volume"`
}

// NewQuoteSnapshot derives the percentage fields from a raw quote.
// A zero divisor yields 0 for the derived value.
func NewQuoteSnapshot(q RawQuote) *QuoteSnapshot {
	s := &QuoteSnapshot{
		Symbol: q.Symbol,
		Open:   q.Open,
		High:   q.High,
		Low:    q.Low,
		Close:  q.Last,
		Volume: q.Volume,
	}
	if q.PrevClose != 0 {
		s.PctChg = q.Last/q.PrevClose*100 - 100
	}
	if q.Low != 0 {
		s.PctAmp = q.High/q.Low*100 - 100
	}
	return s
}

// Fields exposes the snapshot under the condition field names
func (s *QuoteSnapshot) Fields() map[string]interface{} {
	return map[string]interface{}{
		string(FieldOpen):      s.Open,
		string(FieldHigh):      s.High,
		string(FieldLow):       s.Low,
		string(FieldClose):     s.Close,
		string(FieldVolume):    s.Volume,
		string(FieldAmplitude): s.PctAmp,
		string(FieldPctChange): s.PctChg,
	}
}

// String renders the snapshot for trigger messages
func (s *QuoteSnapshot) String() string {
	return fmt.Sprintf("{open:%g high:%g low:%g close:%g pct_chg:%.2f pct_amp:%.2f volume:%d}",
		s.Open, s.High, s.Low, s.Close, s.PctChg, s.PctAmp, s.Volume)
}
