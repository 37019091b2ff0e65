package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []Event
	failures int
}

func (r *recordingHandler) record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, ev)
	if r.failures > 0 {
		r.failures--
		return errors.New("boom")
	}
	return nil
}

func (r *recordingHandler) HandlePublishContent(_ context.Context, ev PublishContent) error {
	return r.record(ev)
}
func (r *recordingHandler) HandlePublishSmartContract(_ context.Context, ev PublishSmartContract) error {
	return r.record(ev)
}
func (r *recordingHandler) HandlePublishSecondContent(_ context.Context, ev PublishSecondContent) error {
	return r.record(ev)
}
func (r *recordingHandler) HandleDistributeRewards(_ context.Context, ev DistributeRewards) error {
	return r.record(ev)
}
func (r *recordingHandler) HandleExpiration(_ context.Context, ev Expiration) error {
	return r.record(ev)
}

func TestEncodeDecode_AllVariants(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	all := []Event{
		PublishContent{CampaignID: 1},
		PublishSmartContract{CampaignID: 2},
		PublishSecondContent{CampaignID: 3},
		DistributeRewards{CampaignID: 4},
		Expiration{CampaignID: 5, OwnerID: 9, CampaignType: model.TypeHBAR, CreatedAt: now, ExpiryAt: now.Add(time.Hour)},
	}
	for _, ev := range all {
		env, body, err := Encode(ev)
		require.NoError(t, err)
		assert.NotEmpty(t, env.ID)

		got, decoded, err := Decode(body)
		require.NoError(t, err)
		assert.Equal(t, ev.Name(), got.Name)
		assert.Equal(t, ev, decoded)
	}
}

func TestDecode_UnknownName(t *testing.T) {
	_, _, err := Decode([]byte(`{"id":"x","name":"SOMETHING_ELSE","data":{}}`))
	assert.ErrorContains(t, err, "unknown event")
}

func TestDispatch_RoutesEveryVariant(t *testing.T) {
	h := &recordingHandler{}
	ctx := context.Background()
	require.NoError(t, Dispatch(ctx, h, PublishContent{CampaignID: 1}))
	require.NoError(t, Dispatch(ctx, h, PublishSmartContract{CampaignID: 1}))
	require.NoError(t, Dispatch(ctx, h, PublishSecondContent{CampaignID: 1}))
	require.NoError(t, Dispatch(ctx, h, DistributeRewards{CampaignID: 1}))
	require.NoError(t, Dispatch(ctx, h, Expiration{CampaignID: 1}))
	assert.Len(t, h.received, 5)
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	err := bus.Publish(context.Background(), DistributeRewards{CampaignID: 1})
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestMemoryBus_RetriesUntilSuccess(t *testing.T) {
	bus := NewMemoryBus(WithRetry(3, time.Millisecond), WithSynchronousDelivery())
	h := &recordingHandler{failures: 2}
	bus.Subscribe(h)

	require.NoError(t, bus.Publish(context.Background(), DistributeRewards{CampaignID: 7}))
	assert.Len(t, h.received, 3)
}

func TestMemoryBus_GivesUpAfterMaxRetries(t *testing.T) {
	bus := NewMemoryBus(WithRetry(1, time.Millisecond), WithSynchronousDelivery())
	h := &recordingHandler{failures: 10}
	bus.Subscribe(h)

	require.NoError(t, bus.Publish(context.Background(), DistributeRewards{CampaignID: 7}))
	assert.Len(t, h.received, 2)
}

func TestMemoryBus_Async(t *testing.T) {
	bus := NewMemoryBus()
	h1, h2 := &recordingHandler{}, &recordingHandler{}
	bus.Subscribe(h1)
	bus.Subscribe(h2)

	require.NoError(t, bus.Publish(context.Background(), PublishContent{CampaignID: 3}))
	bus.Wait()
	assert.Len(t, h1.received, 1)
	assert.Len(t, h2.received, 1)
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int64(3)}))
}

func TestPublishing_CarriesEnvelopeMetadata(t *testing.T) {
	env, body, err := Encode(DistributeRewards{CampaignID: 11})
	require.NoError(t, err)

	msg := publishing(env, body, 1)
	assert.Equal(t, env.ID, msg.MessageId)
	assert.Equal(t, NameDistributeRewards, msg.Type)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, 1, retryCount(msg.Headers))
}
