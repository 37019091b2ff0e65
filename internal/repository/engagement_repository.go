package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

// EngagementRepositoryInterface defines the read used at close time. Rows
// are written by the collection subsystem.
type EngagementRepositoryInterface interface {
	CountDistinctParticipants(ctx context.Context, campaignID int64, status model.PaymentStatus) (int, error)
}

// EngagementRepository is the concrete implementation
type EngagementRepository struct {
	DB *sql.DB
}

// CountDistinctParticipants counts unique participants in one payment status
func (r *EngagementRepository) CountDistinctParticipants(ctx context.Context, campaignID int64, status model.PaymentStatus) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(DISTINCT participant_id)
        FROM engagements
        WHERE campaign_id = $1 AND payment_status = $2`, campaignID, status).Scan(&n)
	return n, err
}
