package social

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/ratebudget"
)

// Sandbox stands in for the social network and the contract service when
// running locally. Posts and transactions are logged and given random ids;
// reads return what was recorded with Engage.
type Sandbox struct {
	Logger *slog.Logger

	mu          sync.Mutex
	engagements map[string]map[string][]Engagement
}

func NewSandbox(logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{Logger: logger, engagements: map[string]map[string][]Engagement{}}
}

func (s *Sandbox) Publish(_ context.Context, text string, isThread bool, parentPostID *string, owner Owner) (string, error) {
	id := uuid.NewString()
	attrs := []any{"post_id", id, "owner", owner.Handle, "thread", isThread, "chars", len(text)}
	if parentPostID != nil {
		attrs = append(attrs, "parent_post_id", *parentPostID)
	}
	s.Logger.Info("sandbox post published", attrs...)
	return id, nil
}

// Engage records a participant action against postID for one endpoint.
func (s *Sandbox) Engage(postID, endpoint string, e Engagement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEndpoint, ok := s.engagements[postID]
	if !ok {
		byEndpoint = map[string][]Engagement{}
		s.engagements[postID] = byEndpoint
	}
	byEndpoint[endpoint] = append(byEndpoint[endpoint], e)
}

func (s *Sandbox) read(postID, endpoint string) []Engagement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Engagement(nil), s.engagements[postID][endpoint]...)
}

func (s *Sandbox) LikedBy(_ context.Context, postID string) ([]Engagement, error) {
	return s.read(postID, ratebudget.EndpointLikedBy), nil
}

func (s *Sandbox) RetweetedBy(_ context.Context, postID string) ([]Engagement, error) {
	return s.read(postID, ratebudget.EndpointRetweetedBy), nil
}

func (s *Sandbox) QuotedBy(_ context.Context, postID string) ([]Engagement, error) {
	return s.read(postID, ratebudget.EndpointQuotedBy), nil
}

func (s *Sandbox) RepliesTo(_ context.Context, postID string) ([]Engagement, error) {
	return s.read(postID, ratebudget.EndpointRepliesTo), nil
}

func (s *Sandbox) Fund(_ context.Context, c *model.Campaign, owner Owner) (string, error) {
	tx := "sandbox-" + uuid.NewString()
	s.Logger.Info("sandbox contract funded", "campaign_id", c.ID, "owner", owner.Handle, "budget", c.Budget, "tx_id", tx)
	return tx, nil
}

func (s *Sandbox) Expiry(_ context.Context, c *model.Campaign, _ Owner) (SettlementResult, error) {
	s.Logger.Info("sandbox campaign expired", "campaign_id", c.ID)
	return SettlementResult{Status: "SUCCESS"}, nil
}

func (s *Sandbox) ExpiryFungible(_ context.Context, c *model.Campaign, _ Owner) (SettlementResult, error) {
	s.Logger.Info("sandbox fungible campaign expired", "campaign_id", c.ID, "token_id", c.TokenID)
	return SettlementResult{Status: "SUCCESS"}, nil
}

var (
	_ Publisher       = (*Sandbox)(nil)
	_ ContractService = (*Sandbox)(nil)
)
