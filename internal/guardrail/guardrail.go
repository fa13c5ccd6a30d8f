/**
 * @description
 * This package implements the margin guardrail check: a pure policy evaluation
 * deciding whether a proposed payout erodes platform margin below an acceptable
 * floor, or whether rate/surge multiplier compounding inflates the payout
 * unreasonably. It performs no I/O; the orchestrator owns persistence and the
 * override audit trail.
 */

package guardrail

import (
	"fmt"
	"math"
	"strings"
)

// Policy carries the configured thresholds the check evaluates against.
// FloorByRegion overrides FloorPercent for specific region codes.
type Policy struct {
	FloorPercent            float64
	FloorByRegion           map[string]float64
	MaxCompoundedMultiplier float64
}

// Input is the proposed payout's economics.
type Input struct {
	SubjectTotalCents int64
	BasePayCents      int64
	BonusCents        int64
	RateMultiplier    float64
	SurgeMultiplier   float64
	JobValueCents     int64
	Region            string
}

// Result is the outcome of one guardrail evaluation. A failing check defaults
// to blocking the payout; an authorized override converts it to proceed, but
// the override decision lives with the caller, not here.
type Result struct {
	Pass        bool     `json:"pass"`
	BlockOrWarn bool     `json:"block_or_warn"`
	FailReasons []string `json:"fail_reasons,omitempty"`
	Message     string   `json:"message"`
}

// PayeeTotalCents computes the effective payout to the payee after multiplier
// compounding: (base pay × rate × surge) + bonus, rounded to whole cents.
func PayeeTotalCents(in Input) int64 {
	rate := in.RateMultiplier
	if rate <= 0 {
		rate = 1
	}
	surge := in.SurgeMultiplier
	if surge <= 0 {
		surge = 1
	}
	return int64(math.Round(float64(in.BasePayCents)*rate*surge)) + in.BonusCents
}

// FloorFor resolves the margin floor for a region, falling back to the default.
func (p Policy) FloorFor(region string) float64 {
	if p.FloorByRegion != nil {
		if floor, ok := p.FloorByRegion[strings.ToUpper(strings.TrimSpace(region))]; ok {
			return floor
		}
	}
	return p.FloorPercent
}

// Check evaluates the proposed payout against the policy. Callers only invoke
// it when the subject carries quote economics (JobValueCents > 0); legacy
// subjects without a quote skip the guardrail entirely.
func Check(in Input, policy Policy) Result {
	if in.JobValueCents <= 0 {
		return Result{
			Pass:    true,
			Message: "guardrail skipped: no job value populated",
		}
	}

	var failReasons []string

	payeeTotal := PayeeTotalCents(in)
	marginPercent := (float64(in.JobValueCents-payeeTotal) / float64(in.JobValueCents)) * 100
	floor := policy.FloorFor(in.Region)
	if marginPercent < floor {
		failReasons = append(failReasons, fmt.Sprintf(
			"margin %.2f%% is below the %.2f%% floor for region %s (payout %d of job value %d)",
			marginPercent, floor, regionLabel(in.Region), payeeTotal, in.JobValueCents,
		))
	}

	rate := in.RateMultiplier
	if rate <= 0 {
		rate = 1
	}
	surge := in.SurgeMultiplier
	if surge <= 0 {
		surge = 1
	}
	compounded := rate * surge
	if policy.MaxCompoundedMultiplier > 0 && compounded > policy.MaxCompoundedMultiplier {
		failReasons = append(failReasons, fmt.Sprintf(
			"compounded multiplier %.2f (rate %.2f x surge %.2f) exceeds the %.2f cap",
			compounded, rate, surge, policy.MaxCompoundedMultiplier,
		))
	}

	if len(failReasons) == 0 {
		return Result{
			Pass:    true,
			Message: fmt.Sprintf("margin %.2f%% clears the %.2f%% floor", marginPercent, floor),
		}
	}

	return Result{
		Pass:        false,
		BlockOrWarn: true,
		FailReasons: failReasons,
		Message:     fmt.Sprintf("margin guardrail failed: %s", strings.Join(failReasons, "; ")),
	}
}

func regionLabel(region string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(region))
	if trimmed == "" {
		return "default"
	}
	return trimmed
}
