package model

import (
	"fmt"
	"time"
)

// Timeframe is one of the fixed candle bucket durations the engine maintains.
// The set is closed on purpose: interval strings arriving from the query
// layer are validated against it instead of being used as raw map keys.
type Timeframe string

const (
	TF15s Timeframe = "15s"
	TF30s Timeframe = "30s"
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// ErrUnknownTimeframe is returned when a string does not name a supported
// timeframe. The query boundary maps it to an invalid-configuration reply.
var ErrUnknownTimeframe = fmt.Errorf("unknown timeframe")

var timeframeDurations = map[Timeframe]time.Duration{
	TF15s: 15 * time.Second,
	TF30s: 30 * time.Second,
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// allTimeframes is ordered shortest to longest.
var allTimeframes = []Timeframe{TF15s, TF30s, TF1m, TF5m, TF15m, TF1h, TF4h, TF1d}

// Timeframes returns all supported timeframes, shortest first.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(allTimeframes))
	copy(out, allTimeframes)
	return out
}

// ParseTimeframe validates s against the supported set.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}

// Duration returns the bucket length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Bucket returns the start of the bucket containing t, aligned to the
// timeframe boundary (floor division on the Unix timeline).
func (tf Timeframe) Bucket(t time.Time) time.Time {
	d := timeframeDurations[tf]
	sec := int64(d / time.Second)
	return time.Unix((t.Unix()/sec)*sec, 0).UTC()
}

func (tf Timeframe) String() string { return string(tf) }
