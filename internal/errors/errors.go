package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError collects every field problem found in a single pass.
type ValidationError struct {
	Errors []error
}

func NewValidationError(format string, args ...any) *ValidationError {
	v := &ValidationError{}
	v.Add(fmt.Errorf(format, args...))
	return v
}

func (v *ValidationError) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

func (v *ValidationError) HasError() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	msgs := make([]string, 0, len(v.Errors))
	for _, err := range v.Errors {
		msgs = append(msgs, err.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// AuthorizationError means the requester does not own the campaign.
type AuthorizationError struct {
	CampaignID  int64
	RequesterID int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %d is not allowed to act on campaign %d", e.RequesterID, e.CampaignID)
}

// ExternalServiceError wraps a failed call to the social network or the
// smart-contract service during a resumable step.
type ExternalServiceError struct {
	Op         string
	CampaignID int64
	Err        error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed for campaign %d: %v", e.Op, e.CampaignID, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// SchedulingError is returned when a delayed job could not be enqueued.
type SchedulingError struct {
	EventName string
	Err       error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s: %v", e.EventName, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

var (
	// ErrCloseRejected is returned when a campaign is not in a closable status.
	ErrCloseRejected = errors.New("campaign cannot be closed in its current status")

	// ErrLockNotAcquired is returned when a per-campaign lock is held elsewhere.
	ErrLockNotAcquired = errors.New("campaign lock is held by another worker")

	// ErrCollectionCapacity is returned when finalizing would push the number
	// of campaigns collecting engagement past the rate budget.
	ErrCollectionCapacity = errors.New("engagement collection is at capacity")
)

// IsNotFound reports whether err is (or wraps) ErrCampaignNotFound.
func IsNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf)
}
