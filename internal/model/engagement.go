package model

import "time"

type ActionType string

const (
	ActionComment ActionType = "comment"
	ActionRetweet ActionType = "retweet"
	ActionLike    ActionType = "like"
	ActionQuote   ActionType = "quote"
)

// Actions lists the rewarded engagement actions. The budget is shared equally
// between them.
var Actions = []ActionType{ActionComment, ActionRetweet, ActionLike, ActionQuote}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "UNPAID"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentSuspended PaymentStatus = "SUSPENDED"
)

type EngagementRecord struct {
	ID            int64         `db:"id" json:"id"`
	CampaignID    int64         `db:"campaign_id" json:"campaign_id"`
	ParticipantID string        `db:"participant_id" json:"participant_id"`
	ActionType    ActionType    `db:"action_type" json:"action_type"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	Timestamp     time.Time     `db:"timestamp" json:"timestamp"`
}
