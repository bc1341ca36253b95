package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserSubscriptionBeforeCreateSetsActiveMarker(t *testing.T) {
	sub := &UserSubscription{UserID: 42, Status: SubscriptionStatusActive}
	require.NoError(t, sub.BeforeCreate(nil))

	assert.NotEmpty(t, sub.ID)
	require.NotNil(t, sub.ActiveUserID)
	assert.Equal(t, uint(42), *sub.ActiveUserID)

	expired := &UserSubscription{UserID: 42, Status: SubscriptionStatusExpired}
	require.NoError(t, expired.BeforeCreate(nil))
	assert.Nil(t, expired.ActiveUserID)
}

func TestUserSubscriptionTransitions(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)
	userID := uint(7)
	sub := &UserSubscription{
		UserID:             userID,
		ActiveUserID:       &userID,
		Status:             SubscriptionStatusActive,
		StartedAt:          start,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}

	assert.True(t, sub.IsActiveAt(start))
	assert.False(t, sub.IsActiveAt(end))

	sub.Extend(30*24*time.Hour, "ORD-2")
	assert.Equal(t, end, sub.CurrentPeriodStart)
	assert.Equal(t, end.Add(30*24*time.Hour), sub.CurrentPeriodEnd)
	assert.Equal(t, "ORD-2", sub.LastPaidOrderReference)
	assert.Equal(t, start, sub.StartedAt)

	sub.MarkExpired()
	assert.Equal(t, SubscriptionStatusExpired, sub.Status)
	assert.Nil(t, sub.ActiveUserID)
	assert.Equal(t, end, sub.CurrentPeriodStart)
	assert.False(t, sub.IsActiveAt(start))

	cancelAt := start.Add(time.Hour)
	sub.MarkCancelled(cancelAt)
	assert.Equal(t, SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
	assert.Equal(t, cancelAt, *sub.CancelledAt)
}

func TestLedgerEntriesAreAppendOnly(t *testing.T) {
	entry := &SubscriptionCreditLedger{}
	assert.ErrorIs(t, entry.BeforeUpdate(nil), ErrLedgerImmutable)
	assert.ErrorIs(t, entry.BeforeDelete(nil), ErrLedgerImmutable)

	order := &ProcessedSubscriptionOrder{}
	assert.ErrorIs(t, order.BeforeUpdate(nil), ErrProcessedOrderImmutable)
	assert.ErrorIs(t, order.BeforeDelete(nil), ErrProcessedOrderImmutable)
}
