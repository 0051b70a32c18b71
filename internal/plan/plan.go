// Package plan defines the pricing tiers of the FleetMaster platform.
package plan

import (
	"errors"
	"sort"
)

var (
	ErrUnknownPlan     = errors.New("plan: unknown plan")
	ErrUnknownDuration = errors.New("plan: unknown duration")
)

// Plan identifies a pricing tier.
type Plan string

const (
	PlanTrial      Plan = "trial"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// TopTier is the plan granted to super-administrators.
const TopTier = PlanEnterprise

// Limits describes what a plan allows a tenant to manage.
type Limits struct {
	MaxVehicles int  `json:"maxVehicles"` // 0 = unlimited
	MaxDrivers  int  `json:"maxDrivers"`  // 0 = unlimited
	Reports     bool `json:"reports"`
	HistoryDays int  `json:"historyDays"` // how far back payment history reaches
}

// Config holds a plan's limits, pricing and upgrade weight.
type Config struct {
	Plan      Plan
	Limits    Limits
	BasePrice int64 // monthly price in whole COP
	Weight    int   // ordering for the key-redemption downgrade guard
}

// Catalog is the hardcoded plan table.
var Catalog = map[Plan]Config{
	PlanTrial: {
		Plan:      PlanTrial,
		Limits:    Limits{MaxVehicles: 3, MaxDrivers: 3, Reports: false, HistoryDays: 30},
		BasePrice: 0,
		Weight:    0,
	},
	PlanBasic: {
		Plan:      PlanBasic,
		Limits:    Limits{MaxVehicles: 10, MaxDrivers: 10, Reports: false, HistoryDays: 90},
		BasePrice: 50000,
		Weight:    1,
	},
	PlanPro: {
		Plan:      PlanPro,
		Limits:    Limits{MaxVehicles: 40, MaxDrivers: 40, Reports: true, HistoryDays: 365},
		BasePrice: 90000,
		Weight:    2,
	},
	PlanEnterprise: {
		Plan:      PlanEnterprise,
		Limits:    Limits{MaxVehicles: 0, MaxDrivers: 0, Reports: true, HistoryDays: 0},
		BasePrice: 150000,
		Weight:    3,
	},
}

// Valid returns true if the plan name is recognised.
func Valid(p Plan) bool {
	_, ok := Catalog[p]
	return ok
}

// Purchasable returns true if the plan can be bought at checkout.
func Purchasable(p Plan) bool {
	return Valid(p) && p != PlanTrial
}

// Names returns the purchasable plan names, ordered by upgrade weight.
func Names() []string {
	out := make([]string, 0, len(Catalog))
	for p := range Catalog {
		if Purchasable(p) {
			out = append(out, string(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return WeightOf(Plan(out[i])) < WeightOf(Plan(out[j]))
	})
	return out
}

// LimitsFor returns the limits for a plan, falling back to the trial tier
// for unknown names.
func LimitsFor(p Plan) Limits {
	cfg, ok := Catalog[p]
	if !ok {
		cfg = Catalog[PlanTrial]
	}
	return cfg.Limits
}

// WeightOf returns the upgrade weight of a plan (trial = 0).
func WeightOf(p Plan) int {
	cfg, ok := Catalog[p]
	if !ok {
		return 0
	}
	return cfg.Weight
}

// Duration identifies a billing period.
type Duration string

const (
	DurationMonthly    Duration = "monthly"
	DurationSemiannual Duration = "semiannual"
	DurationYearly     Duration = "yearly"
)

// ValidDuration returns true if the duration name is recognised.
func ValidDuration(d Duration) bool {
	switch d {
	case DurationMonthly, DurationSemiannual, DurationYearly:
		return true
	}
	return false
}

// Days returns the subscription length granted for a duration.
func (d Duration) Days() int {
	switch d {
	case DurationSemiannual:
		return 180
	case DurationYearly:
		return 365
	default:
		return 30
	}
}

// priceFactor is the multiple of the monthly base price charged per duration.
// Semiannual and yearly carry a built-in discount (5x and 10x the monthly
// price instead of 6x and 12x).
func (d Duration) priceFactor() int64 {
	switch d {
	case DurationSemiannual:
		return 5
	case DurationYearly:
		return 10
	default:
		return 1
	}
}

// PriceFor returns the charge in whole COP for buying a plan for a duration.
func PriceFor(p Plan, d Duration) (int64, error) {
	cfg, ok := Catalog[p]
	if !ok {
		return 0, ErrUnknownPlan
	}
	if !ValidDuration(d) {
		return 0, ErrUnknownDuration
	}
	return cfg.BasePrice * d.priceFactor(), nil
}
