// Package events is the closed set of lifecycle events exchanged between the
// API, the workflow executor and the scheduler.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

// Wire names. The three publish names are the resumption contract relied on
// by external callers.
const (
	NamePublishContent       = "CAMPAIGN_PUBLISH_CONTENT"
	NamePublishSmartContract = "CAMPAIGN_PUBLISH_DO_SM_TRANSACTION"
	NamePublishSecondContent = "CAMPAIGN_PUBLISH_SECOND_CONTENT"
	NameDistributeRewards    = "DISTRIBUTE_REWARDS"
	NameExpiration           = "EXPIRATION"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Name() string
	isEvent()
}

type PublishContent struct {
	CampaignID int64 `json:"campaignId"`
}

type PublishSmartContract struct {
	CampaignID int64 `json:"campaignId"`
}

type PublishSecondContent struct {
	CampaignID int64 `json:"campaignId"`
}

type DistributeRewards struct {
	CampaignID int64 `json:"campaignId"`
}

// Expiration is the payload of the delayed settlement job scheduled at close.
type Expiration struct {
	CampaignID   int64              `json:"campaignId"`
	OwnerID      int64              `json:"ownerId"`
	CampaignType model.CampaignType `json:"campaignType"`
	CreatedAt    time.Time          `json:"createdAt"`
	ExpiryAt     time.Time          `json:"expiryAt"`
}

func (PublishContent) Name() string       { return NamePublishContent }
func (PublishSmartContract) Name() string { return NamePublishSmartContract }
func (PublishSecondContent) Name() string { return NamePublishSecondContent }
func (DistributeRewards) Name() string    { return NameDistributeRewards }
func (Expiration) Name() string           { return NameExpiration }

func (PublishContent) isEvent()       {}
func (PublishSmartContract) isEvent() {}
func (PublishSecondContent) isEvent() {}
func (DistributeRewards) isEvent()    {}
func (Expiration) isEvent()           {}

// Handler has one method per variant.
type Handler interface {
	HandlePublishContent(ctx context.Context, ev PublishContent) error
	HandlePublishSmartContract(ctx context.Context, ev PublishSmartContract) error
	HandlePublishSecondContent(ctx context.Context, ev PublishSecondContent) error
	HandleDistributeRewards(ctx context.Context, ev DistributeRewards) error
	HandleExpiration(ctx context.Context, ev Expiration) error
}

// Dispatch routes ev to the matching Handler method.
func Dispatch(ctx context.Context, h Handler, ev Event) error {
	switch e := ev.(type) {
	case PublishContent:
		return h.HandlePublishContent(ctx, e)
	case PublishSmartContract:
		return h.HandlePublishSmartContract(ctx, e)
	case PublishSecondContent:
		return h.HandlePublishSecondContent(ctx, e)
	case DistributeRewards:
		return h.HandleDistributeRewards(ctx, e)
	case Expiration:
		return h.HandleExpiration(ctx, e)
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

// Envelope is the wire format of an event.
type Envelope struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Data        json.RawMessage `json:"data"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Encode wraps ev in a fresh envelope.
func Encode(ev Event) (Envelope, []byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	env := Envelope{
		ID:          uuid.NewString(),
		Name:        ev.Name(),
		Data:        data,
		PublishedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, err
	}
	return env, body, nil
}

// Decode parses an envelope and its typed payload.
func Decode(body []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("invalid envelope: %w", err)
	}
	ev, err := DecodeData(env.Name, env.Data)
	return env, ev, err
}

// DecodeData builds the variant named name from its JSON payload.
func DecodeData(name string, data []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch name {
	case NamePublishContent:
		var e PublishContent
		err = json.Unmarshal(data, &e)
		ev = e
	case NamePublishSmartContract:
		var e PublishSmartContract
		err = json.Unmarshal(data, &e)
		ev = e
	case NamePublishSecondContent:
		var e PublishSecondContent
		err = json.Unmarshal(data, &e)
		ev = e
	case NameDistributeRewards:
		var e DistributeRewards
		err = json.Unmarshal(data, &e)
		ev = e
	case NameExpiration:
		var e Expiration
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", name, err)
	}
	return ev, nil
}

// Bus publishes events fire-and-forget.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
}
