package lifecycle

import (
	"context"
	"log/slog"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

// DiagnosticLimit caps the audit entries attached to an inconsistent state.
const DiagnosticLimit = 10

// AuditReader returns the most recent audit entries, newest first.
type AuditReader interface {
	Recent(ctx context.Context, campaignID int64, limit int) ([]model.AuditLogEntry, error)
}

// Analyzer applies Classify on behalf of a requester.
type Analyzer struct {
	audit  AuditReader
	logger *slog.Logger
}

func NewAnalyzer(audit AuditReader, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{audit: audit, logger: logger}
}

// Authorize checks that requesterID owns c.
func Authorize(c *model.Campaign, requesterID int64) error {
	if c.OwnerID == 0 {
		return appErrors.NewValidationError("campaign %d has no owner", c.ID)
	}
	if c.OwnerID != requesterID {
		return &appErrors.AuthorizationError{CampaignID: c.ID, RequesterID: requesterID}
	}
	return nil
}

// Analyze classifies c for its owner. Inconsistent campaigns carry the most
// recent audit entries; reading them is best effort.
func (a *Analyzer) Analyze(ctx context.Context, c *model.Campaign, requesterID int64) (Analysis, error) {
	if err := Authorize(c, requesterID); err != nil {
		return Analysis{}, err
	}

	result := Classify(c)
	if result.Inconsistent && a.audit != nil {
		entries, err := a.audit.Recent(ctx, c.ID, DiagnosticLimit)
		if err != nil {
			a.logger.Warn("audit log unavailable for diagnostics", "campaign_id", c.ID, "err", err)
		} else {
			result.Diagnostics = entries
		}
	}
	return result, nil
}
