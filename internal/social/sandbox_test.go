package social

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/ratebudget"
)

func TestSandbox_PublishAndSettle(t *testing.T) {
	s := NewSandbox(nil)
	ctx := context.Background()

	first, err := s.Publish(ctx, "hello", false, nil, Owner{ID: 1, Handle: "alice"})
	require.NoError(t, err)
	second, err := s.Publish(ctx, "rewards", true, &first, Owner{ID: 1, Handle: "alice"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	tx, err := s.Fund(ctx, &model.Campaign{ID: 3, Budget: 10}, Owner{})
	require.NoError(t, err)
	assert.Contains(t, tx, "sandbox-")

	res, err := s.ExpiryFungible(ctx, &model.Campaign{ID: 3}, Owner{})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", res.Status)
}

func TestThrottledReader_PacesReadsOfSandbox(t *testing.T) {
	s := NewSandbox(nil)
	s.Engage("p1", ratebudget.EndpointLikedBy, Engagement{ParticipantID: "u1"})
	s.Engage("p1", ratebudget.EndpointLikedBy, Engagement{ParticipantID: "u2"})

	r := NewThrottledReader(s, ratebudget.QuotaTable{
		ratebudget.EndpointLikedBy: {Calls: 1, Window: time.Hour},
	})

	likes, err := r.LikedBy(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, likes, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.LikedBy(ctx, "p1")
	assert.Error(t, err)
}
