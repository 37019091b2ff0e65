package scheduler

import "github.com/unclebandit/campaign-lifecycle/internal/model"

type Transition struct {
	From model.JobStatus
	To   model.JobStatus
}

// ValidTransitions lists every status change a job may go through.
// processing -> pending covers both a retry and a stale claim being released;
// processing -> replaced is the same release when a newer job took the dedupe key.
var ValidTransitions = []Transition{
	{From: model.JobPending, To: model.JobProcessing},
	{From: model.JobPending, To: model.JobReplaced},
	{From: model.JobProcessing, To: model.JobSucceeded},
	{From: model.JobProcessing, To: model.JobPending},
	{From: model.JobProcessing, To: model.JobDead},
	{From: model.JobProcessing, To: model.JobReplaced},
}

func IsValidTransition(from, to model.JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
