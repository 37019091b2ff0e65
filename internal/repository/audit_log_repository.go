package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

type AuditLogRepositoryInterface interface {
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	Recent(ctx context.Context, campaignID int64, limit int) ([]model.AuditLogEntry, error)
}

type AuditLogRepository struct {
	DB *sql.DB
}

// Append inserts a new entry and fills in its ID
func (r *AuditLogRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	var data any
	if len(entry.Data) > 0 {
		data = []byte(entry.Data)
	}
	query := `
        INSERT INTO campaign_audit_logs (campaign_id, timestamp, status, message, data)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		entry.CampaignID,
		entry.Timestamp,
		entry.Status,
		entry.Message,
		data,
	).Scan(&entry.ID)
}

// Recent returns up to limit entries for the campaign, newest first
func (r *AuditLogRepository) Recent(ctx context.Context, campaignID int64, limit int) ([]model.AuditLogEntry, error) {
	query := `
        SELECT id, campaign_id, timestamp, status, message, data
        FROM campaign_audit_logs
        WHERE campaign_id = $1
        ORDER BY timestamp DESC, id DESC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.AuditLogEntry{}
	for rows.Next() {
		var (
			e    model.AuditLogEntry
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.Timestamp, &e.Status, &e.Message, &data); err != nil {
			return nil, err
		}
		e.Data = data
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ AuditLogRepositoryInterface = (*AuditLogRepository)(nil)
