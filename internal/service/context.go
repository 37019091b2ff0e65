package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/lock"
	"github.com/unclebandit/campaign-lifecycle/internal/metrics"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/repository"
	"github.com/unclebandit/campaign-lifecycle/internal/scheduler"
	"github.com/unclebandit/campaign-lifecycle/internal/social"
)

// Deps are the connected collaborators shared by every lifecycle operation.
type Deps struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	EngagementRepo repository.EngagementRepositoryInterface
	AuditRepo      repository.AuditLogRepositoryInterface
	Bus            events.Bus
	Locker         lock.Locker
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Clock          func() time.Time
}

// JobScheduler is the part of the scheduler the settlement flow needs.
type JobScheduler interface {
	AddJob(ctx context.Context, eventName string, payload any, executeAt time.Time, opts ...scheduler.JobOption) (*model.ScheduledJob, error)
}

// CampaignContext is a campaign loaded for a single operation.
type CampaignContext struct {
	Campaign *model.Campaign
	Owner    social.Owner
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock()
}

func (d *Deps) load(ctx context.Context, campaignID int64) (*CampaignContext, error) {
	c, err := d.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignContext{
		Campaign: c,
		Owner:    social.Owner{ID: c.OwnerID, Handle: c.OwnerHandle},
	}, nil
}

// lockCampaign takes the per-campaign lock, or returns a no-op unlock when
// no Locker is configured.
func (d *Deps) lockCampaign(ctx context.Context, campaignID int64) (func(), error) {
	if d.Locker == nil {
		return func() {}, nil
	}
	return d.Locker.Lock(ctx, lock.CampaignKey(campaignID))
}

// audit appends a best-effort entry; failures are logged, never returned.
func (d *Deps) audit(ctx context.Context, campaignID int64, status, message string, data any) {
	if d.AuditRepo == nil {
		return
	}
	entry := &model.AuditLogEntry{
		CampaignID: campaignID,
		Timestamp:  d.now(),
		Status:     status,
		Message:    message,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			entry.Data = raw
		}
	}
	if err := d.AuditRepo.Append(context.WithoutCancel(ctx), entry); err != nil {
		d.logger().Warn("append audit entry", "campaign_id", campaignID, "message", message, "err", err)
	}
}
