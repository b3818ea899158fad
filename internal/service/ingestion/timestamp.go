package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestampMicro converts a record timestamp to microseconds since the
// epoch. Numeric values are scaled by magnitude, so seconds, milliseconds,
// microseconds and nanoseconds are all accepted. Zero means now.
func ParseTimestampMicro(v any, now time.Time) (int64, error) {
	switch val := v.(type) {
	case int64:
		return scaleMicro(val, now), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) || val >= math.MaxInt64 || val < math.MinInt64 {
			return 0, fmt.Errorf("invalid time value %v", val)
		}
		return scaleMicro(int64(val), now), nil
	case json.Number:
		return ParseTimestampMicro(numberValue(val), now)
	case string:
		return parseTimestampString(val, now)
	default:
		return 0, fmt.Errorf("invalid time type %T", v)
	}
}

// scaleMicro picks the unit from the magnitude of n, so negative values stay
// negative and never wrap into the future.
func scaleMicro(n int64, now time.Time) int64 {
	if n == 0 {
		return now.UnixMicro()
	}
	mag := n
	if mag < 0 {
		if mag == math.MinInt64 {
			return n / 1000
		}
		mag = -mag
	}
	switch {
	case mag > 1e18:
		return n / 1000
	case mag > 1e15:
		return n
	case mag > 1e12:
		return n * 1000
	default:
		return n * 1_000_000
	}
}

func parseTimestampString(s string, now time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return scaleMicro(n, now), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMicro(), nil
		}
	}
	return 0, fmt.Errorf("invalid time format [%s]", s)
}
