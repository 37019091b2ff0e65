// Package social declares the external collaborators the lifecycle drives:
// the social network, the smart-contract settlement service and the
// notifier. Concrete clients live outside this module.
package social

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

// Owner identifies the account a post is published on behalf of.
type Owner struct {
	ID     int64
	Handle string
}

// Engagement is one participant action returned by a read endpoint.
type Engagement struct {
	ParticipantID string
	Timestamp     time.Time
}

type Poster interface {
	// Publish posts text and returns the new post id. A thread post is a
	// reply under parentPostID.
	Publish(ctx context.Context, text string, isThread bool, parentPostID *string, owner Owner) (string, error)
}

// Reader covers the four quota-bound engagement read endpoints. The
// lifecycle never reads engagements itself: Reader and ThrottledReader are
// the surface handed to the collection subsystem, paced by the same quota
// table FINALIZE admits against.
type Reader interface {
	LikedBy(ctx context.Context, postID string) ([]Engagement, error)
	RetweetedBy(ctx context.Context, postID string) ([]Engagement, error)
	QuotedBy(ctx context.Context, postID string) ([]Engagement, error)
	RepliesTo(ctx context.Context, postID string) ([]Engagement, error)
}

type Publisher interface {
	Poster
	Reader
}

// SettlementResult is what the contract service reports after expiry.
type SettlementResult struct {
	Status  string
	Balance *int64
}

type ContractService interface {
	// Fund escrows the campaign budget and returns the transaction id.
	Fund(ctx context.Context, c *model.Campaign, owner Owner) (string, error)
	Expiry(ctx context.Context, c *model.Campaign, owner Owner) (SettlementResult, error)
	ExpiryFungible(ctx context.Context, c *model.Campaign, owner Owner) (SettlementResult, error)
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	SendToUser(ctx context.Context, userID int64, eventType string, payload any) bool
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) SendToUser(context.Context, int64, string, any) bool { return false }
