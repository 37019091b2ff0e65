package service

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/social"
)

// ExpiryHandler settles a closed campaign when its expiry job fires.
// Delivery is at-least-once; only a campaign still in Closing is settled.
type ExpiryHandler struct {
	Deps
	Contract social.ContractService
	Notifier social.Notifier
}

func (h *ExpiryHandler) OnExpiration(ctx context.Context, ev events.Expiration) error {
	log := h.logger().With("op", events.NameExpiration, "campaign_id", ev.CampaignID)

	unlock, err := h.lockCampaign(ctx, ev.CampaignID)
	if err != nil {
		return err
	}
	defer unlock()

	cc, err := h.load(ctx, ev.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Warn("expiry for missing campaign dropped")
			h.Metrics.ObserveExpiry("skipped")
			return nil
		}
		return err
	}
	c := cc.Campaign

	if c.Status != model.StatusClosing {
		log.Info("expiry already applied or not applicable", "status", c.Status)
		h.audit(ctx, c.ID, model.AuditSkipped, "expiry", map[string]any{"status": c.Status})
		h.Metrics.ObserveExpiry("skipped")
		return nil
	}

	h.audit(ctx, c.ID, model.AuditStarted, "expiry", nil)

	var result social.SettlementResult
	switch c.Type {
	case model.TypeHBAR:
		result, err = h.Contract.Expiry(ctx, c, cc.Owner)
	case model.TypeFungible:
		result, err = h.Contract.ExpiryFungible(ctx, c, cc.Owner)
	default:
		err = appErrors.NewValidationError("campaign %d has unknown type %q", c.ID, c.Type)
	}
	if err != nil {
		h.audit(ctx, c.ID, model.AuditFailed, "expiry", map[string]string{"error": err.Error()})
		log.Error("settlement failed", "err", err)
		h.Metrics.ObserveExpiry("failed")
		return &appErrors.ExternalServiceError{Op: "expiry", CampaignID: c.ID, Err: err}
	}

	ok, err := h.CampaignRepo.TransitionStatus(ctx, c.ID,
		[]model.CampaignStatus{model.StatusClosing}, model.StatusRewardsDistributed)
	if err != nil {
		h.audit(ctx, c.ID, model.AuditFailed, "expiry", map[string]string{"error": err.Error()})
		h.Metrics.ObserveExpiry("failed")
		return fmt.Errorf("mark campaign %d rewards distributed: %w", c.ID, err)
	}
	if !ok {
		return fmt.Errorf("mark campaign %d rewards distributed: status changed concurrently", c.ID)
	}

	h.audit(ctx, c.ID, model.AuditSucceeded, "expiry", result)
	h.Metrics.ObserveExpiry("applied")
	log.Info("campaign settled", "settlement_status", result.Status)

	if h.Notifier != nil {
		h.Notifier.SendToUser(ctx, c.OwnerID, "CAMPAIGN_SETTLED", map[string]any{
			"campaignId": c.ID,
			"status":     result.Status,
			"balance":    result.Balance,
		})
	}
	return nil
}
