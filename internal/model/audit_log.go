package model

import (
	"encoding/json"
	"time"
)

// AuditLogEntry is an append-only record of a lifecycle step outcome.
type AuditLogEntry struct {
	ID         int64           `db:"id" json:"id"`
	CampaignID int64           `db:"campaign_id" json:"campaign_id"`
	Timestamp  time.Time       `db:"timestamp" json:"timestamp"`
	Status     string          `db:"status" json:"status"`
	Message    string          `db:"message" json:"message"`
	Data       json.RawMessage `db:"data" json:"data,omitempty"`
}

const (
	AuditStarted   = "started"
	AuditSucceeded = "succeeded"
	AuditFailed    = "failed"
	AuditSkipped   = "skipped"
)
