// Package oracle caches currency conversion rates fetched from an external
// feed. Quotes are served from cache within a TTL; refreshes are deduplicated
// per pair, and a failed refresh falls back to the last known rate marked
// stale rather than blocking the caller.
package oracle

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// RateScale is the fixed-point scale for rates: a rate of 1.0 is stored as
// 100_000_000. Integer fixed-point avoids float drift in money conversion.
const RateScale = 100_000_000

// Quote is a conversion rate for a currency pair. Stale marks a quote served
// past its TTL after a failed refresh; callers requiring freshness must
// reject it or apply a safety margin.
type Quote struct {
	Pair      string    `json:"pair"`
	Rate      int64     `json:"rate"` // Scaled by RateScale
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
}

// Convert applies the rate to an amount in minor units. The intermediate
// product is computed in 128 bits so amount*rate cannot wrap; a result beyond
// the int64 range saturates at math.MaxInt64.
func (q Quote) Convert(amount int64) int64 {
	if amount <= 0 || q.Rate <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(q.Rate))
	if hi >= RateScale {
		return math.MaxInt64
	}
	quot, _ := bits.Div64(hi, lo, RateScale)
	if quot > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(quot)
}

// ParseRate converts a positive decimal string into a RateScale fixed-point
// value. Fractional digits beyond the scale are truncated.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid rate %q", s)
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 8 {
		fracPart = fracPart[:8]
	}
	fracPart += strings.Repeat("0", 8-len(fracPart))

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}

	if whole > (math.MaxInt64-frac)/RateScale {
		return 0, fmt.Errorf("rate %q overflows the fixed-point range", s)
	}

	rate := whole*RateScale + frac
	if rate <= 0 {
		return 0, fmt.Errorf("rate must be positive, got %q", s)
	}
	return rate, nil
}
