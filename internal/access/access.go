// Package access derives a tenant's authoritative access decision.
//
// Several authority sources can disagree about what a tenant may do: the
// trial clock, a paid subscription, an administrator-granted override, the
// email-confirmation flag and the role. Evaluate resolves them into one
// AccountStatus using a fixed precedence; the result is a point-in-time
// decision, recomputed on every session refresh and never persisted.
package access

import (
	"math"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/plan"
)

// Level is the coarse authorization tier.
type Level string

const (
	LevelFull    Level = "FULL"
	LevelLimited Level = "LIMITED"
	LevelBlocked Level = "BLOCKED"
)

// Reason explains why a level was assigned.
type Reason string

const (
	ReasonActiveSubscription Reason = "ACTIVE_SUBSCRIPTION"
	ReasonTrial              Reason = "TRIAL"
	ReasonTrialExpired       Reason = "TRIAL_EXPIRED"
	ReasonUnconfirmed        Reason = "UNCONFIRMED"
)

// TrialDays is the length of the free trial window.
const TrialDays = 5

// indefiniteDays is reported when access has no expiry (admins, overrides
// without an expiry date).
const indefiniteDays = 9999

// RoleSuperAdmin bypasses all billing checks.
const RoleSuperAdmin = "SUPERADMIN"

// AccountStatus is the derived access decision for one tenant.
type AccountStatus struct {
	Level         Level       `json:"accessLevel"`
	Reason        Reason      `json:"reason"`
	Plan          plan.Plan   `json:"plan"`
	IsManual      bool        `json:"isManual,omitempty"`
	DaysRemaining int         `json:"daysRemaining"`
	Limits        plan.Limits `json:"limits"`
}

// Grant is an unexpired administrator override as seen by the evaluator.
type Grant struct {
	Plan      plan.Plan
	ExpiresAt *time.Time // nil = indefinite
}

// Paid is an active subscription with a due date in the future.
type Paid struct {
	Plan  plan.Plan
	DueAt time.Time
}

// Input bundles the records the evaluator reads. Callers pass the
// most-recent unexpired override and the active subscription, or nil.
type Input struct {
	Role         string
	Confirmed    bool
	CreatedAt    time.Time // start of the trial clock
	Override     *Grant
	Subscription *Paid
}

// Evaluate computes the AccountStatus for a tenant at the given instant.
//
// Precedence, first match wins: super-admin role, unconfirmed block,
// manual override, paid subscription, open trial window, expired trial.
// Confirmation gates everything; overrides outrank subscriptions;
// subscriptions outrank the trial clock.
func Evaluate(in Input, now time.Time) AccountStatus {
	if in.Role == RoleSuperAdmin {
		return AccountStatus{
			Level:         LevelFull,
			Reason:        ReasonActiveSubscription,
			Plan:          plan.TopTier,
			DaysRemaining: indefiniteDays,
			Limits:        plan.LimitsFor(plan.TopTier),
		}
	}

	if !in.Confirmed {
		return AccountStatus{
			Level:         LevelBlocked,
			Reason:        ReasonUnconfirmed,
			Plan:          plan.PlanTrial,
			DaysRemaining: 0,
			Limits:        plan.LimitsFor(plan.PlanTrial),
		}
	}

	if in.Override != nil && !overrideExpired(in.Override, now) {
		days := indefiniteDays
		if in.Override.ExpiresAt != nil {
			days = ceilDays(in.Override.ExpiresAt.Sub(now))
		}
		return AccountStatus{
			Level:         LevelFull,
			Reason:        ReasonActiveSubscription,
			Plan:          in.Override.Plan,
			IsManual:      true,
			DaysRemaining: days,
			Limits:        plan.LimitsFor(in.Override.Plan),
		}
	}

	if in.Subscription != nil && in.Subscription.DueAt.After(now) {
		return AccountStatus{
			Level:         LevelFull,
			Reason:        ReasonActiveSubscription,
			Plan:          in.Subscription.Plan,
			DaysRemaining: ceilDays(in.Subscription.DueAt.Sub(now)),
			Limits:        plan.LimitsFor(in.Subscription.Plan),
		}
	}

	if remaining := TrialDaysRemaining(in.CreatedAt, now); remaining > 0 {
		return AccountStatus{
			Level:         LevelLimited,
			Reason:        ReasonTrial,
			Plan:          plan.PlanTrial,
			DaysRemaining: remaining,
			Limits:        plan.LimitsFor(plan.PlanTrial),
		}
	}

	return AccountStatus{
		Level:         LevelBlocked,
		Reason:        ReasonTrialExpired,
		Plan:          plan.PlanTrial,
		DaysRemaining: 0,
		Limits:        plan.LimitsFor(plan.PlanTrial),
	}
}

// TrialDaysRemaining returns how many trial days are left. Elapsed time is
// truncated to whole calendar days, so a tenant created 4d23h ago has
// used 4 days and keeps 1.
func TrialDaysRemaining(createdAt, now time.Time) int {
	elapsed := floorDays(now.Sub(createdAt))
	remaining := TrialDays - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func overrideExpired(g *Grant, now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// floorDays truncates a duration to whole days (elapsed time).
func floorDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// ceilDays rounds a duration up to whole days (remaining time).
// Remaining and elapsed deliberately round in opposite directions;
// boundary tests depend on this exact arithmetic.
func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
