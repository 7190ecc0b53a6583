package pricing

import (
	"fmt"
	"math"
	"strings"
)

// Policy selects how the occupancy delta moves the price.
type Policy string

const (
	// PolicySurge only raises the price once occupancy passes the target ratio.
	PolicySurge Policy = "surge"
	// PolicySymmetric discounts below the target ratio and surcharges above it.
	PolicySymmetric Policy = "symmetric"
)

const DefaultTargetRatio = 0.5

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicySurge, "":
		return PolicySurge, nil
	case PolicySymmetric:
		return PolicySymmetric, nil
	default:
		return "", fmt.Errorf("unknown pricing policy %q (want surge|symmetric)", s)
	}
}

// Config holds the deployment pricing parameters.
type Config struct {
	Policy      Policy
	BasePrice   float64
	Elasticity  float64
	TargetRatio float64
}

// Price returns the visit price for the given occupancy. It never fails: a
// non-finite or non-positive result falls back to the base price.
func (c Config) Price(occupied, total int) float64 {
	return Price(c.Policy, occupied, total, c.BasePrice, c.Elasticity, c.TargetRatio)
}

// Price computes basePrice * (1 + elasticity * delta) rounded to cents, where
// delta is the occupancy ratio minus targetRatio (floored at zero for PolicySurge).
func Price(policy Policy, occupied, total int, basePrice, elasticity, targetRatio float64) float64 {
	if total < 1 {
		total = 1
	}
	ratio := clamp(float64(occupied)/float64(total), 0, 1)

	delta := ratio - targetRatio
	if policy != PolicySymmetric {
		delta = math.Max(0, delta)
	}

	price := round2(basePrice * (1 + elasticity*delta))
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return round2(basePrice)
	}
	return price
}

// Ratio is the clamped occupancy ratio used by Price.
func Ratio(occupied, total int) float64 {
	if total < 1 {
		total = 1
	}
	return clamp(float64(occupied)/float64(total), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round2 rounds to cents. Magnitudes past 2^53/100 carry no cents and are
// returned as is, so the scaling cannot overflow.
func round2(v float64) float64 {
	if math.Abs(v) >= 1<<53/100 {
		return v
	}
	return math.Round(v*100) / 100
}
