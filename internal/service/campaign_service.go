package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/lifecycle"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/reward"
)

// CampaignService is the entry point used by the HTTP layer.
type CampaignService struct {
	Deps
	Analyzer   *lifecycle.Analyzer
	Workflow   *PublishWorkflow
	Settlement *SettlementCoordinator
}

type DraftRequest struct {
	OwnerID          int64              `json:"owner_id"`
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	Budget           int64              `json:"budget"`
	ExpectedEngagers int                `json:"expected_engagers"`
	Type             model.CampaignType `json:"campaign_type"`
	TokenID          *string            `json:"token_id,omitempty"`
	TokenDecimals    *int               `json:"token_decimals,omitempty"`
}

// Draft validates the request, estimates rates from the declared number of
// engagers and stores the campaign awaiting approval.
func (s *CampaignService) Draft(ctx context.Context, req DraftRequest) (*model.Campaign, error) {
	v := &appErrors.ValidationError{}
	if req.OwnerID <= 0 {
		v.Add(errors.New("owner is required"))
	}
	if strings.TrimSpace(req.Name) == "" {
		v.Add(errors.New("name cannot be empty"))
	}
	if req.Budget <= 0 {
		v.Add(errors.New("budget must be positive"))
	}
	if req.ExpectedEngagers < 0 {
		v.Add(errors.New("expected engagers must not be negative"))
	}

	c := &model.Campaign{
		OwnerID:       req.OwnerID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Status:        model.StatusApprovalPending,
		Budget:        req.Budget,
		Type:          req.Type,
		TokenID:       req.TokenID,
		TokenDecimals: req.TokenDecimals,
	}
	if _, err := reward.CurrencyOf(c).Decimals(); err != nil {
		var inner *appErrors.ValidationError
		if errors.As(err, &inner) {
			v.Errors = append(v.Errors, inner.Errors...)
		} else {
			v.Add(err)
		}
	}
	if v.HasError() {
		return nil, v
	}

	rates, err := reward.ComputeRates(req.Budget, req.ExpectedEngagers, reward.CurrencyOf(c))
	if err != nil {
		return nil, err
	}
	c.Rates = rates

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.logger().Info("campaign drafted", "campaign_id", c.ID, "owner_id", c.OwnerID, "rate", rates.Like)
	return c, nil
}

// Analyze classifies the campaign for its owner.
func (s *CampaignService) Analyze(ctx context.Context, campaignID, requesterID int64) (lifecycle.Analysis, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return lifecycle.Analysis{}, err
	}
	a, err := s.Analyzer.Analyze(ctx, c, requesterID)
	if err != nil {
		return lifecycle.Analysis{}, err
	}
	s.Metrics.ObserveClassification(string(a.State))
	return a, nil
}

// Resume continues the workflow from the step the analysis names. A
// non-retryable analysis is returned as is.
func (s *CampaignService) Resume(ctx context.Context, campaignID, requesterID int64) (lifecycle.Analysis, error) {
	a, err := s.Analyze(ctx, campaignID, requesterID)
	if err != nil {
		return a, err
	}
	if !a.Resumable() {
		return a, nil
	}

	log := s.logger().With("op", "resume", "campaign_id", campaignID, "step", a.ResumeFromStep)
	if ev, ok := a.ResumeFromStep.Event(campaignID); ok {
		if err := s.Bus.Publish(ctx, ev); err != nil {
			log.Error("publish resume event", "err", err)
			return a, fmt.Errorf("publish %s: %w", ev.Name(), err)
		}
		log.Info("resume event published", "event", ev.Name())
		return a, nil
	}

	if err := s.Workflow.Run(ctx, campaignID, a.ResumeFromStep); err != nil {
		return a, err
	}
	log.Info("campaign finalized")
	return a, nil
}

// Close settles the campaign on behalf of its owner.
func (s *CampaignService) Close(ctx context.Context, campaignID, requesterID int64) error {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := lifecycle.Authorize(c, requesterID); err != nil {
		return err
	}
	return s.Settlement.CloseCampaign(ctx, campaignID)
}
