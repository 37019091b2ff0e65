package service

import (
	"context"
	"fmt"

	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/lifecycle"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/scheduler"
)

// EventWorker consumes lifecycle events from the bus and the scheduler.
type EventWorker struct {
	Deps
	Workflow *PublishWorkflow
	Expiry   *ExpiryHandler
}

func (w *EventWorker) HandlePublishContent(ctx context.Context, ev events.PublishContent) error {
	return w.Workflow.Run(ctx, ev.CampaignID, lifecycle.StepFirstPost)
}

func (w *EventWorker) HandlePublishSmartContract(ctx context.Context, ev events.PublishSmartContract) error {
	return w.Workflow.Run(ctx, ev.CampaignID, lifecycle.StepSmartContract)
}

func (w *EventWorker) HandlePublishSecondContent(ctx context.Context, ev events.PublishSecondContent) error {
	return w.Workflow.Run(ctx, ev.CampaignID, lifecycle.StepSecondPost)
}

// HandleDistributeRewards records the hand-off; payouts are made by the
// external distribution service reading the recomputed rates.
func (w *EventWorker) HandleDistributeRewards(ctx context.Context, ev events.DistributeRewards) error {
	w.audit(ctx, ev.CampaignID, model.AuditSucceeded, "distribution requested", nil)
	w.logger().Info("reward distribution requested", "campaign_id", ev.CampaignID)
	return nil
}

func (w *EventWorker) HandleExpiration(ctx context.Context, ev events.Expiration) error {
	return w.Expiry.OnExpiration(ctx, ev)
}

// JobHandler adapts scheduled jobs to the event handlers.
func (w *EventWorker) JobHandler() scheduler.HandlerFunc {
	return func(ctx context.Context, job model.ScheduledJob) error {
		ev, err := events.DecodeData(job.EventName, job.Payload)
		if err != nil {
			return fmt.Errorf("job %d: %w", job.ID, err)
		}
		return events.Dispatch(ctx, w, ev)
	}
}

var _ events.Handler = (*EventWorker)(nil)
