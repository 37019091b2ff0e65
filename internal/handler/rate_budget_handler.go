package handler

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/unclebandit/campaign-lifecycle/internal/metrics"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/ratebudget"
)

// StatusCounter counts campaigns in a given status.
type StatusCounter interface {
	CountByStatus(ctx context.Context, status model.CampaignStatus) (int, error)
}

// RateBudgetHandler reports how the configured collection interval uses
// the social network's read quota.
type RateBudgetHandler struct {
	Budget    ratebudget.Budget
	Campaigns StatusCounter
	Metrics   *metrics.Metrics
}

type rateBudgetReport struct {
	Interval       string  `json:"interval"`
	QuotaCalls     int     `json:"quota_calls"`
	QuotaWindow    string  `json:"quota_window"`
	CallsPerCycle  int     `json:"calls_per_cycle"`
	SafetyMargin   float64 `json:"safety_margin"`
	Collecting     int     `json:"collecting"`
	UtilizationPct float64 `json:"utilization_pct"`
	PerCampaignPct float64 `json:"per_campaign_pct"`
	AdmissionLimit int     `json:"admission_limit"`
	SafeInterval   string  `json:"safe_interval"`
	Admit          bool    `json:"admit"`
}

// GetRateBudget handles GET /rate-budget. The optional interval query
// parameter overrides the configured interval, either as a Go duration
// ("15m") or a number of minutes ("15").
func (h *RateBudgetHandler) GetRateBudget(w http.ResponseWriter, r *http.Request) {
	b := h.Budget
	if raw := r.URL.Query().Get("interval"); raw != "" {
		interval, err := parseInterval(raw)
		if err != nil {
			http.Error(w, "invalid interval", http.StatusBadRequest)
			return
		}
		b.Interval = interval
	}

	collecting, err := h.Campaigns.CountByStatus(r.Context(), model.StatusRunning)
	if err != nil {
		http.Error(w, "failed to count running campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	utilization := b.Utilization(collecting)
	if b.Interval == h.Budget.Interval {
		h.Metrics.SetRateBudget(collecting, utilization)
	}

	report := rateBudgetReport{
		Interval:       b.Interval.String(),
		QuotaCalls:     b.Quota.Calls,
		QuotaWindow:    b.Quota.Window.String(),
		CallsPerCycle:  b.CallsPerCycle,
		SafetyMargin:   b.SafetyMargin,
		Collecting:     collecting,
		UtilizationPct: round2(utilization),
		PerCampaignPct: round2(b.Utilization(1)),
		AdmissionLimit: b.AdmissionLimit(),
		SafeInterval:   ratebudget.SafeInterval(b.Quota.Calls, b.Quota.Window.Minutes(), b.CallsPerCycle, collecting, b.SafetyMargin).String(),
		Admit:          b.Admit(collecting),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func parseInterval(raw string) (time.Duration, error) {
	if minutes, err := strconv.Atoi(raw); err == nil {
		if minutes <= 0 {
			return 0, strconv.ErrRange
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}

func round2(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	return math.Round(v*100) / 100
}
