package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeseriesPoint is a single interest sample as reported by a provider.
// Points keep the order in which they were captured (ascending timestamp).
type TimeseriesPoint struct {
	Timestamp time.Time      `json:"timestamp"`
	Value     int            `json:"value"` // 0-100 interest value
	IsPartial bool           `json:"is_partial"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the point holds a usable interest sample.
func (p *TimeseriesPoint) Validate() error {
	if p.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if p.Value < 0 || p.Value > 100 {
		return fmt.Errorf("interest value %d must be between 0 and 100", p.Value)
	}
	return nil
}

// SeriesKey identifies one stored timeseries. Together with a point's
// timestamp it forms the unique key of a persisted timeseries row.
type SeriesKey struct {
	KeywordID   string
	SourceID    string
	Region      string
	Granularity Granularity
}

// breakoutLabel is how providers report a rising query that grew by more
// than they are willing to quantify.
const breakoutLabel = "Breakout"

// RisingQuery is a related query whose interest is growing. Value holds the
// percentage growth unless Breakout is set.
type RisingQuery struct {
	Query    string
	Value    int
	Breakout bool
}

type risingQueryJSON struct {
	Query string          `json:"query"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as a number, or as "Breakout".
func (q RisingQuery) MarshalJSON() ([]byte, error) {
	value := json.RawMessage(fmt.Sprintf("%d", q.Value))
	if q.Breakout {
		value = json.RawMessage(`"` + breakoutLabel + `"`)
	}
	return json.Marshal(risingQueryJSON{Query: q.Query, Value: value})
}

// UnmarshalJSON accepts a numeric value or the (case-insensitive) string "breakout".
func (q *RisingQuery) UnmarshalJSON(data []byte) error {
	var raw risingQueryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Query = raw.Query
	q.Value = 0
	q.Breakout = false
	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		return nil
	}

	var n float64
	if err := json.Unmarshal(raw.Value, &n); err == nil {
		q.Value = int(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.Value, &s); err != nil {
		return fmt.Errorf("rising query %q: unsupported value %s", raw.Query, string(raw.Value))
	}
	if !strings.EqualFold(strings.TrimSpace(s), breakoutLabel) {
		return fmt.Errorf("rising query %q: unsupported value %q", raw.Query, s)
	}
	q.Breakout = true
	return nil
}

// String renders the query the way the provider labels it.
func (q RisingQuery) String() string {
	if q.Breakout {
		return fmt.Sprintf("%s (%s)", q.Query, breakoutLabel)
	}
	return fmt.Sprintf("%s (+%d%%)", q.Query, q.Value)
}
