package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/reward"
	"github.com/unclebandit/campaign-lifecycle/internal/scheduler"
)

// closable are the statuses a close may start from. Closing is accepted so
// a close that failed part-way can be re-driven from the top.
var closable = []model.CampaignStatus{model.StatusRunning, model.StatusClosing}

// SettlementCoordinator closes campaigns: it recomputes reward rates from
// real participation, hands off distribution and schedules expiry.
type SettlementCoordinator struct {
	Deps
	Scheduler     JobScheduler
	ClaimDuration time.Duration
}

// ExpiryDedupeKey identifies the single pending expiry job of a campaign.
func ExpiryDedupeKey(campaignID int64) string {
	return fmt.Sprintf("campaign:%d:%s", campaignID, events.NameExpiration)
}

// CloseCampaign runs the close steps in order and stops at the first
// failure. The caller re-drives a failed close from the top. Once every
// step finished the campaign is marked closed, and further closes are
// no-ops until it leaves Closing.
func (s *SettlementCoordinator) CloseCampaign(ctx context.Context, campaignID int64) error {
	err := s.closeCampaign(ctx, campaignID)
	switch {
	case err == nil:
		s.Metrics.ObserveClose("closed")
	case errors.Is(err, appErrors.ErrCloseRejected):
		s.Metrics.ObserveClose("rejected")
	default:
		s.Metrics.ObserveClose("failed")
	}
	return err
}

func (s *SettlementCoordinator) closeCampaign(ctx context.Context, campaignID int64) error {
	log := s.logger().With("op", "close", "campaign_id", campaignID)

	unlock, err := s.lockCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	defer unlock()

	cc, err := s.load(ctx, campaignID)
	if err != nil {
		return err
	}
	c := cc.Campaign
	if c.Status == model.StatusClosing && c.ClosedAt != nil {
		s.audit(ctx, c.ID, model.AuditSkipped, "close", map[string]any{"closed_at": c.ClosedAt})
		log.Info("close already completed", "closed_at", c.ClosedAt)
		return nil
	}
	if !c.Type.Valid() {
		return appErrors.NewValidationError("campaign %d has unknown type %q", c.ID, c.Type)
	}

	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, closable, model.StatusClosing)
	if err != nil {
		return fmt.Errorf("mark campaign %d closing: %w", c.ID, err)
	}
	if !ok {
		log.Warn("close rejected", "status", c.Status)
		return fmt.Errorf("campaign %d in status %s: %w", c.ID, c.Status, appErrors.ErrCloseRejected)
	}
	s.audit(ctx, c.ID, model.AuditStarted, "close", map[string]any{"previous_status": c.Status})

	fail := func(step string, err error) error {
		s.audit(ctx, c.ID, model.AuditFailed, "close: "+step, map[string]string{"error": err.Error()})
		log.Error("close step failed", "step", step, "err", err)
		return err
	}

	participants, err := s.EngagementRepo.CountDistinctParticipants(ctx, c.ID, model.PaymentUnpaid)
	if err != nil {
		return fail("count participants", fmt.Errorf("count participants: %w", err))
	}

	rates, err := reward.ComputeRates(c.Budget, participants, reward.CurrencyOf(c))
	if err != nil {
		return fail("compute rates", err)
	}
	if err := s.CampaignRepo.UpdateRewardRates(ctx, c.ID, rates); err != nil {
		return fail("update rates", fmt.Errorf("update rates: %w", err))
	}
	s.audit(ctx, c.ID, model.AuditSucceeded, "close: rates recomputed",
		map[string]any{"participants": participants, "rates": rates})

	if err := s.Bus.Publish(ctx, events.DistributeRewards{CampaignID: c.ID}); err != nil {
		return fail("publish distribution", fmt.Errorf("publish %s: %w", events.NameDistributeRewards, err))
	}

	now := s.now()
	expiryAt := now.Add(s.ClaimDuration)
	payload := events.Expiration{
		CampaignID:   c.ID,
		OwnerID:      c.OwnerID,
		CampaignType: c.Type,
		CreatedAt:    now,
		ExpiryAt:     expiryAt,
	}
	job, err := s.Scheduler.AddJob(ctx, events.NameExpiration, payload, expiryAt,
		scheduler.WithDedupeKey(ExpiryDedupeKey(c.ID)))
	if err != nil {
		var se *appErrors.SchedulingError
		if !errors.As(err, &se) {
			err = &appErrors.SchedulingError{EventName: events.NameExpiration, Err: err}
		}
		return fail("schedule expiry", err)
	}

	if _, err := s.CampaignRepo.MarkClosed(ctx, c.ID, now); err != nil {
		return fail("record close", fmt.Errorf("record close: %w", err))
	}

	s.audit(ctx, c.ID, model.AuditSucceeded, "close",
		map[string]any{"job_id": job.ID, "expiry_at": expiryAt})
	log.Info("campaign closed", "participants", participants, "rate", rates.Like, "expiry_at", expiryAt)
	return nil
}
