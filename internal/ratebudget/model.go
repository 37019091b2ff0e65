// Package ratebudget relates the social network's read quotas to how often
// engagement is collected and how many campaigns may collect at once.
//
// Quotas are per read endpoint. A collection cycle calls each of the
// ReadEndpoints once, so callsPerCycle is spread evenly across them.
package ratebudget

import (
	"math"
	"time"
)

// ReadEndpoints is the number of engagement read APIs (liked by, retweeted
// by, quoted by, replies to), each with its own quota.
const ReadEndpoints = 4

const floorEpsilon = 1e-9

// CyclesPerWindow is how many collection cycles fit in one quota window.
func CyclesPerWindow(windowMinutes, intervalMinutes float64) float64 {
	if intervalMinutes <= 0 {
		return math.Inf(1)
	}
	return windowMinutes / intervalMinutes
}

// CallsPerCampaignPerWindow is the load one campaign puts on a single read
// endpoint during one quota window.
func CallsPerCampaignPerWindow(windowMinutes float64, callsPerCycle int, intervalMinutes float64) float64 {
	return CyclesPerWindow(windowMinutes, intervalMinutes) * float64(callsPerCycle) / ReadEndpoints
}

// Utilization returns the percentage of each endpoint's quota consumed when
// concurrentCampaigns collect at the given interval.
func Utilization(quotaPerWindow int, windowMinutes float64, callsPerCycle int, intervalMinutes float64, concurrentCampaigns int) float64 {
	if quotaPerWindow <= 0 {
		return math.Inf(1)
	}
	perCampaign := CallsPerCampaignPerWindow(windowMinutes, callsPerCycle, intervalMinutes)
	return perCampaign * float64(concurrentCampaigns) / float64(quotaPerWindow) * 100
}

// MaxSafeConcurrency is the number of campaigns that may collect at once
// while keeping utilization at or below safetyMargin (0..1] of the quota.
func MaxSafeConcurrency(quotaPerWindow int, windowMinutes float64, callsPerCycle int, intervalMinutes float64, safetyMargin float64) int {
	perCampaign := CallsPerCampaignPerWindow(windowMinutes, callsPerCycle, intervalMinutes)
	if perCampaign <= 0 {
		return math.MaxInt32
	}
	if math.IsInf(perCampaign, 1) || quotaPerWindow <= 0 {
		return 0
	}
	return int(math.Floor(float64(quotaPerWindow)/perCampaign*safetyMargin + floorEpsilon))
}

// SafeInterval returns the shortest whole-minute collection interval that
// keeps concurrentCampaigns within safetyMargin of the quota.
func SafeInterval(quotaPerWindow int, windowMinutes float64, callsPerCycle int, concurrentCampaigns int, safetyMargin float64) time.Duration {
	if concurrentCampaigns <= 0 || callsPerCycle <= 0 {
		return time.Minute
	}
	if quotaPerWindow <= 0 || safetyMargin <= 0 {
		return time.Duration(math.MaxInt64)
	}
	minutes := windowMinutes * float64(callsPerCycle) * float64(concurrentCampaigns) /
		(ReadEndpoints * float64(quotaPerWindow) * safetyMargin)
	whole := math.Ceil(minutes - floorEpsilon)
	if whole < 1 {
		whole = 1
	}
	return time.Duration(whole) * time.Minute
}

// Budget bundles the inputs for a specific deployment.
type Budget struct {
	Quota         Quota
	CallsPerCycle int
	Interval      time.Duration
	SafetyMargin  float64
}

func (b Budget) windowMinutes() float64   { return b.Quota.Window.Minutes() }
func (b Budget) intervalMinutes() float64 { return b.Interval.Minutes() }

// Utilization is the percentage of quota used by concurrent campaigns.
func (b Budget) Utilization(concurrent int) float64 {
	return Utilization(b.Quota.Calls, b.windowMinutes(), b.CallsPerCycle, b.intervalMinutes(), concurrent)
}

// AdmissionLimit is the maximum number of campaigns allowed in the
// collecting phase.
func (b Budget) AdmissionLimit() int {
	return MaxSafeConcurrency(b.Quota.Calls, b.windowMinutes(), b.CallsPerCycle, b.intervalMinutes(), b.SafetyMargin)
}

// Admit reports whether one more campaign may start collecting given how
// many already are.
func (b Budget) Admit(collecting int) bool {
	return collecting < b.AdmissionLimit()
}
