// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	StatusApprovalPending    CampaignStatus = "ApprovalPending"
	StatusApproved           CampaignStatus = "Approved"
	StatusStarted            CampaignStatus = "Started"
	StatusRunning            CampaignStatus = "Running"
	StatusClosing            CampaignStatus = "Closing"
	StatusRewardsDistributed CampaignStatus = "RewardsDistributed"
	StatusRejected           CampaignStatus = "Rejected"
)

type CampaignType string

const (
	TypeHBAR     CampaignType = "HBAR"
	TypeFungible CampaignType = "FUNGIBLE"
)

// Valid reports whether t is one of the supported payout currencies.
func (t CampaignType) Valid() bool {
	return t == TypeHBAR || t == TypeFungible
}

// Rates holds the per-action reward in the campaign's smallest unit.
type Rates struct {
	Comment int64 `json:"comment"`
	Retweet int64 `json:"retweet"`
	Like    int64 `json:"like"`
	Quote   int64 `json:"quote"`
}

type Campaign struct {
	ID          int64          `db:"id" json:"id"`
	OwnerID     int64          `db:"owner_id" json:"owner_id"`
	OwnerHandle string         `db:"owner_handle" json:"owner_handle"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	Status      CampaignStatus `db:"status" json:"status"`
	Approved    bool           `db:"approved" json:"approved"`

	// Progress markers. Each is set only after its step succeeded and is
	// never cleared; they double as resumption checkpoints.
	FirstPostID  *string `db:"first_post_id" json:"first_post_id,omitempty"`
	ContractTxID *string `db:"contract_tx_id" json:"contract_tx_id,omitempty"`
	SecondPostID *string `db:"second_post_id" json:"second_post_id,omitempty"`

	Budget        int64        `db:"budget" json:"budget"`
	Rates         Rates        `json:"rates"`
	Type          CampaignType `db:"campaign_type" json:"campaign_type"`
	TokenID       *string      `db:"token_id" json:"token_id,omitempty"`
	TokenDecimals *int         `db:"token_decimals" json:"token_decimals,omitempty"`

	// ClosedAt is set once every close step finished.
	ClosedAt *time.Time `db:"closed_at" json:"closed_at,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
