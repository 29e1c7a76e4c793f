// Package timestamp normalizes the timestamp encodings seen on the
// activity feed to int64 Unix milliseconds (UTC).
//
// Feed producers are inconsistent: some write epoch millis, some epoch
// seconds, some RFC3339 strings, some numeric strings. Everything
// downstream (enrichment, catch-up filtering, TTL math) works in
// milliseconds, so the conversion happens once at decode time.
//
// A value of 0 means "not set". Functions accept and return it
// untouched rather than erroring.
package timestamp

import (
	"strconv"
	"time"
)

// millisThreshold separates epoch seconds from epoch milliseconds.
// Values above it (≈ Sep 2001 in millis) are taken as milliseconds.
const millisThreshold = 1e12

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds; zero time maps
// to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time; 0 maps to the
// zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders a timestamp as RFC3339 UTC for display. Returns ""
// for an unset timestamp.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts whatever encoding a producer used to Unix
// milliseconds:
//   - int64/float64/int/int32: millis when above the threshold,
//     seconds otherwise
//   - string: RFC3339, then integer, then float
//   - time.Time and *time.Time
//
// Unparseable input yields 0, the unset value; callers decide whether
// that is an error.
func Parse(input any) int64 {
	if input == nil {
		return 0
	}

	switch v := input.(type) {
	case int64:
		return fromNumeric(v)

	case float64:
		if v == 0 {
			return 0
		}
		if v > millisThreshold {
			return int64(v)
		}
		return int64(v * 1000)

	case int:
		return fromNumeric(int64(v))

	case int32:
		return fromNumeric(int64(v))

	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return ToUnixMs(t)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return fromNumeric(n)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return Parse(f)
		}
		return 0

	case time.Time:
		return ToUnixMs(v)

	case *time.Time:
		if v == nil {
			return 0
		}
		return ToUnixMs(*v)

	default:
		return 0
	}
}

func fromNumeric(v int64) int64 {
	if v == 0 {
		return 0
	}
	if v > millisThreshold {
		return v
	}
	return v * 1000
}

// Add shifts a timestamp by a duration. The unset value stays unset.
func Add(ms int64, d time.Duration) int64 {
	if ms == 0 {
		return 0
	}
	return time.UnixMilli(ms).Add(d).UnixMilli()
}

// Since returns the elapsed time since the given timestamp, 0 when
// unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}
