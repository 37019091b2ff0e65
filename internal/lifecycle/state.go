// Package lifecycle classifies a campaign's publication progress from its
// persisted markers and names the step a resumption should start from.
package lifecycle

import (
	"fmt"

	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

type State string

const (
	StateNotStarted          State = "NOT_STARTED"
	StateSmartContractFailed State = "SMART_CONTRACT_FAILED"
	StateSecondTweetFailed   State = "SECOND_TWEET_FAILED"
	StateFullyPublished      State = "FULLY_PUBLISHED"
	StateError               State = "ERROR_STATE"
)

// Step is a resumable workflow step.
type Step string

const (
	StepFirstPost     Step = "FIRST_POST"
	StepSmartContract Step = "SMART_CONTRACT"
	StepSecondPost    Step = "SECOND_POST"
	StepFinalize      Step = "FINALIZE"
)

// EventName is the event that (re-)starts the workflow at s. FINALIZE has
// none: the status update is performed directly.
func (s Step) EventName() string {
	switch s {
	case StepFirstPost:
		return events.NamePublishContent
	case StepSmartContract:
		return events.NamePublishSmartContract
	case StepSecondPost:
		return events.NamePublishSecondContent
	default:
		return ""
	}
}

// Event builds the event resuming campaignID at s.
func (s Step) Event(campaignID int64) (events.Event, bool) {
	switch s {
	case StepFirstPost:
		return events.PublishContent{CampaignID: campaignID}, true
	case StepSmartContract:
		return events.PublishSmartContract{CampaignID: campaignID}, true
	case StepSecondPost:
		return events.PublishSecondContent{CampaignID: campaignID}, true
	default:
		return nil, false
	}
}

const (
	ActionNone          = "none"
	ActionWaitApproval  = "wait for admin approval"
	ActionPublish       = "publish campaign content"
	ActionRetryContract = "retry smart contract transaction"
	ActionRetrySecond   = "retry second post"
	ActionFinalize      = "finalize campaign status"
	ActionContact       = "contact support"
)

// Analysis is the outcome of classifying a campaign.
type Analysis struct {
	CampaignID     int64                 `json:"campaign_id"`
	State          State                 `json:"state"`
	CanRetry       bool                  `json:"can_retry"`
	NextAction     string                `json:"next_action"`
	ResumeFromStep Step                  `json:"resume_from_step,omitempty"`
	ErrorMessage   string                `json:"error_message,omitempty"`
	Inconsistent   bool                  `json:"inconsistent,omitempty"`
	Diagnostics    []model.AuditLogEntry `json:"diagnostics,omitempty"`
}

// Resumable reports whether the analysis names a step to resume from.
func (a Analysis) Resumable() bool {
	return a.CanRetry && a.ResumeFromStep != ""
}

var classifiable = map[model.CampaignStatus]bool{
	model.StatusApprovalPending: true,
	model.StatusApproved:        true,
	model.StatusStarted:         true,
}

// Classify derives the lifecycle state from status, approval and the three
// progress markers. It has no side effects.
func Classify(c *model.Campaign) Analysis {
	a := Analysis{CampaignID: c.ID}

	if c.Status == model.StatusRunning {
		a.State = StateFullyPublished
		a.NextAction = ActionNone
		return a
	}

	if !c.Approved {
		a.State = StateError
		a.NextAction = ActionWaitApproval
		a.ErrorMessage = "campaign is not approved"
		return a
	}

	if !classifiable[c.Status] {
		a.State = StateError
		a.NextAction = ActionContact
		a.ErrorMessage = fmt.Sprintf("unexpected campaign status %q", c.Status)
		return a
	}

	first, contract, second := c.FirstPostID != nil, c.ContractTxID != nil, c.SecondPostID != nil
	switch {
	case !first && !contract && !second:
		a.State, a.CanRetry, a.ResumeFromStep, a.NextAction = StateNotStarted, true, StepFirstPost, ActionPublish
	case first && !contract && !second:
		a.State, a.CanRetry, a.ResumeFromStep, a.NextAction = StateSmartContractFailed, true, StepSmartContract, ActionRetryContract
	case first && contract && !second:
		a.State, a.CanRetry, a.ResumeFromStep, a.NextAction = StateSecondTweetFailed, true, StepSecondPost, ActionRetrySecond
	case first && contract && second && c.Status == model.StatusStarted:
		a.State, a.CanRetry, a.ResumeFromStep, a.NextAction = StateFullyPublished, true, StepFinalize, ActionFinalize
	default:
		a.State = StateError
		a.NextAction = ActionContact
		a.Inconsistent = true
		a.ErrorMessage = fmt.Sprintf(
			"inconsistent progress markers for status %s: first_post=%s contract_tx=%s second_post=%s",
			c.Status, marker(first), marker(contract), marker(second))
	}
	return a
}

func marker(set bool) string {
	if set {
		return "set"
	}
	return "unset"
}
