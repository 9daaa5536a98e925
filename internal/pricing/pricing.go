// Package pricing holds the quality tiers offered by the animate-mix model
// and the per-second price of each.
package pricing

import (
	"fmt"
	"strings"
)

// Mode is a quality/cost tier. The string value is the wire value the
// remote service expects in parameters.mode.
type Mode string

const (
	// Standard is the cheaper, faster tier.
	Standard Mode = "wan-std"
	// Professional trades price for output quality.
	Professional Mode = "wan-pro"
)

// FreeQuotaSeconds is the number of generated seconds granted to new accounts.
const FreeQuotaSeconds = 50

var pricePerSecond = map[Mode]float64{
	Standard:     0.6,
	Professional: 0.9,
}

// Modes returns all known modes in display order.
func Modes() []Mode {
	return []Mode{Standard, Professional}
}

// ParseMode accepts either the wire value (wan-std, wan-pro) or the
// descriptive name (standard, professional).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wan-std", "standard", "std":
		return Standard, nil
	case "wan-pro", "professional", "pro":
		return Professional, nil
	}
	return "", fmt.Errorf("invalid mode %q: must be one of wan-std, wan-pro", s)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := pricePerSecond[m]
	return ok
}

// Description is a short human label for the tier.
func (m Mode) Description() string {
	switch m {
	case Standard:
		return "standard (fast, cost-effective)"
	case Professional:
		return "professional (higher quality, smoother motion)"
	}
	return "unknown"
}

// PricePerSecond returns the rate for m in currency units per generated second.
func (m Mode) PricePerSecond() float64 {
	return pricePerSecond[m]
}

// Estimate returns durationSeconds x price(m). Negative durations cost nothing.
func Estimate(durationSeconds float64, m Mode) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return durationSeconds * m.PricePerSecond()
}
