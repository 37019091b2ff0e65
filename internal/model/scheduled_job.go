package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobDead       JobStatus = "dead"
	JobReplaced   JobStatus = "replaced"
)

// ScheduledJob is a durable delayed delivery of Payload to the handler
// registered for EventName.
type ScheduledJob struct {
	ID          int64           `db:"id" json:"id"`
	EventName   string          `db:"event_name" json:"event_name"`
	DedupeKey   *string         `db:"dedupe_key" json:"dedupe_key,omitempty"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	ExecuteAt   time.Time       `db:"execute_at" json:"execute_at"`
	Status      JobStatus       `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	LastError   *string         `db:"last_error" json:"last_error,omitempty"`
	LockedBy    *string         `db:"locked_by" json:"locked_by,omitempty"`
	LockedAt    *time.Time      `db:"locked_at" json:"locked_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
