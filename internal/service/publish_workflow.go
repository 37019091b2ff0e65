package service

import (
	"context"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/lifecycle"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/ratebudget"
	"github.com/unclebandit/campaign-lifecycle/internal/social"
)

// PublishWorkflow executes the resumable publication steps. Every step
// re-classifies the campaign under its lock and only acts when the
// campaign is waiting at that step, so redelivered events are harmless.
type PublishWorkflow struct {
	Deps
	Publisher social.Poster
	Contract  social.ContractService
	Notifier  social.Notifier
	Templates Templates

	// Budget gates FINALIZE on collection capacity. Nil disables the check.
	Budget *ratebudget.Budget
}

// Run executes step for campaignID and then publishes the event for the
// following step.
func (w *PublishWorkflow) Run(ctx context.Context, campaignID int64, step lifecycle.Step) error {
	next, skipped, err := w.runLocked(ctx, campaignID, step)
	switch {
	case err != nil:
		w.Metrics.ObserveResume(string(step), "failed")
		return err
	case skipped:
		w.Metrics.ObserveResume(string(step), "skipped")
		return nil
	}
	w.Metrics.ObserveResume(string(step), "completed")
	if next == nil {
		return nil
	}
	if err := w.Bus.Publish(ctx, next); err != nil {
		w.logger().Error("publish next step", "op", next.Name(), "campaign_id", campaignID, "err", err)
		return fmt.Errorf("publish %s: %w", next.Name(), err)
	}
	return nil
}

// runLocked returns the event for the next step, or nil when the workflow
// is finished.
func (w *PublishWorkflow) runLocked(ctx context.Context, campaignID int64, step lifecycle.Step) (next events.Event, skipped bool, err error) {
	unlock, err := w.lockCampaign(ctx, campaignID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	cc, err := w.load(ctx, campaignID)
	if err != nil {
		return nil, false, err
	}

	analysis := lifecycle.Classify(cc.Campaign)
	if !analysis.Resumable() || analysis.ResumeFromStep != step {
		w.logger().Info("step skipped", "op", step, "campaign_id", campaignID,
			"state", analysis.State, "resume_from", analysis.ResumeFromStep)
		w.audit(ctx, campaignID, model.AuditSkipped, string(step),
			map[string]any{"state": analysis.State, "resume_from": analysis.ResumeFromStep})
		return nil, true, nil
	}

	w.audit(ctx, campaignID, model.AuditStarted, string(step), nil)

	switch step {
	case lifecycle.StepFirstPost:
		next, err = w.firstPost(ctx, cc)
	case lifecycle.StepSmartContract:
		next, err = w.smartContract(ctx, cc)
	case lifecycle.StepSecondPost:
		if err = w.secondPost(ctx, cc); err == nil {
			err = w.finalize(ctx, cc)
		}
	case lifecycle.StepFinalize:
		err = w.finalize(ctx, cc)
	default:
		err = fmt.Errorf("unknown step %q", step)
	}
	return next, false, err
}

func (w *PublishWorkflow) firstPost(ctx context.Context, cc *CampaignContext) (events.Event, error) {
	c := cc.Campaign
	text := RenderPost(w.Templates.FirstPost, c)
	postID, err := w.Publisher.Publish(ctx, text, false, nil, cc.Owner)
	if err != nil {
		return nil, w.external(ctx, lifecycle.StepFirstPost, c.ID, err)
	}
	if err := w.mark(ctx, lifecycle.StepFirstPost, c.ID, postID, w.CampaignRepo.SetFirstPost); err != nil {
		return nil, err
	}
	return events.PublishSmartContract{CampaignID: c.ID}, nil
}

func (w *PublishWorkflow) smartContract(ctx context.Context, cc *CampaignContext) (events.Event, error) {
	c := cc.Campaign
	txID, err := w.Contract.Fund(ctx, c, cc.Owner)
	if err != nil {
		return nil, w.external(ctx, lifecycle.StepSmartContract, c.ID, err)
	}
	if err := w.mark(ctx, lifecycle.StepSmartContract, c.ID, txID, w.CampaignRepo.SetContractTx); err != nil {
		return nil, err
	}
	return events.PublishSecondContent{CampaignID: c.ID}, nil
}

func (w *PublishWorkflow) secondPost(ctx context.Context, cc *CampaignContext) error {
	c := cc.Campaign
	text := RenderPost(w.Templates.SecondPost, c)
	postID, err := w.Publisher.Publish(ctx, text, true, c.FirstPostID, cc.Owner)
	if err != nil {
		return w.external(ctx, lifecycle.StepSecondPost, c.ID, err)
	}
	if err := w.mark(ctx, lifecycle.StepSecondPost, c.ID, postID, w.CampaignRepo.SetSecondPost); err != nil {
		return err
	}
	c.SecondPostID = &postID
	return nil
}

// finalize admits the campaign into the collecting phase.
func (w *PublishWorkflow) finalize(ctx context.Context, cc *CampaignContext) error {
	c := cc.Campaign
	var (
		ok  bool
		err error
	)
	if w.Budget != nil {
		var collecting int
		limit := w.Budget.AdmissionLimit()
		collecting, ok, err = w.CampaignRepo.AdmitRunning(ctx, c.ID, limit)
		if err == nil || errors.Is(err, appErrors.ErrCollectionCapacity) {
			w.Metrics.SetRateBudget(collecting, w.Budget.Utilization(collecting))
		}
		if errors.Is(err, appErrors.ErrCollectionCapacity) {
			w.audit(ctx, c.ID, model.AuditFailed, string(lifecycle.StepFinalize),
				map[string]any{"collecting": collecting, "limit": limit})
			w.logger().Warn("collection capacity reached", "campaign_id", c.ID,
				"collecting", collecting, "limit", limit)
			return appErrors.ErrCollectionCapacity
		}
	} else {
		ok, err = w.CampaignRepo.TransitionStatus(ctx, c.ID,
			[]model.CampaignStatus{model.StatusStarted}, model.StatusRunning)
	}
	if err != nil {
		w.audit(ctx, c.ID, model.AuditFailed, string(lifecycle.StepFinalize), map[string]string{"error": err.Error()})
		return fmt.Errorf("finalize campaign %d: %w", c.ID, err)
	}
	if !ok {
		return fmt.Errorf("finalize campaign %d: status changed concurrently", c.ID)
	}
	w.audit(ctx, c.ID, model.AuditSucceeded, string(lifecycle.StepFinalize), nil)
	w.logger().Info("campaign running", "campaign_id", c.ID)

	if w.Notifier != nil {
		w.Notifier.SendToUser(ctx, c.OwnerID, "CAMPAIGN_RUNNING", map[string]int64{"campaignId": c.ID})
	}
	return nil
}

// mark persists a progress marker after its step succeeded.
func (w *PublishWorkflow) mark(ctx context.Context, step lifecycle.Step, campaignID int64, value string,
	set func(context.Context, int64, string) (bool, error)) error {
	ok, err := set(ctx, campaignID, value)
	if err != nil {
		w.audit(ctx, campaignID, model.AuditFailed, string(step), map[string]string{"value": value, "error": err.Error()})
		return fmt.Errorf("persist %s marker for campaign %d: %w", step, campaignID, err)
	}
	if !ok {
		w.audit(ctx, campaignID, model.AuditFailed, string(step), map[string]string{"value": value, "error": "marker rejected"})
		return fmt.Errorf("persist %s marker for campaign %d: precondition no longer holds", step, campaignID)
	}
	w.audit(ctx, campaignID, model.AuditSucceeded, string(step), map[string]string{"value": value})
	w.logger().Info("step completed", "op", step, "campaign_id", campaignID, "value", value)
	return nil
}

// external records a failed collaborator call. The step's marker stays
// unset so the next classification resumes from the same step.
func (w *PublishWorkflow) external(ctx context.Context, step lifecycle.Step, campaignID int64, err error) error {
	w.audit(ctx, campaignID, model.AuditFailed, string(step), map[string]string{"error": err.Error()})
	w.logger().Error("external call failed", "op", step, "campaign_id", campaignID, "err", err)
	return &appErrors.ExternalServiceError{Op: string(step), CampaignID: campaignID, Err: err}
}
