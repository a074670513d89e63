package repos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusdesk/internal/model"
)

func TestOutboxLeaseCompleteAndRetry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	store := setupStore(t).WithClock(func() time.Time { return now })

	ev, err := store.EnqueueOutbox(ctx, model.OutboxKindAssignmentClaimed, map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.OutboxPending, ev.Status)

	claimed, err := store.ClaimOutbox(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Event.Attempts)
	assert.Equal(t, "u1", claimed[0].Event.Payload["user_id"])

	again, err := store.ClaimOutbox(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased events are not handed out twice")

	retryAt := now.Add(time.Minute)
	require.NoError(t, store.FailOutbox(ctx, ev.ID, claimed[0].LeaseToken, "smtp down", &retryAt))
	assert.ErrorIs(t, store.FailOutbox(ctx, ev.ID, claimed[0].LeaseToken, "x", nil), ErrLeaseLost)

	none, err := store.ClaimOutbox(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)

	now = now.Add(2 * time.Minute)
	retried, err := store.ClaimOutbox(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 2, retried[0].Event.Attempts)
	assert.Equal(t, "smtp down", retried[0].Event.LastError)

	require.NoError(t, store.CompleteOutbox(ctx, ev.ID, retried[0].LeaseToken))
	got, err := store.GetOutboxEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
}

func TestOutboxExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	store := setupStore(t).WithClock(func() time.Time { return now })

	_, err := store.EnqueueOutbox(ctx, "test.kind", nil)
	require.NoError(t, err)
	first, err := store.ClaimOutbox(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	now = now.Add(2 * time.Minute)
	second, err := store.ClaimOutbox(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].LeaseToken, second[0].LeaseToken)
	assert.ErrorIs(t, store.CompleteOutbox(ctx, first[0].Event.ID, first[0].LeaseToken), ErrLeaseLost)
}
