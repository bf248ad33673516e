package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyroute/internal/store"
	"notifyroute/internal/types"
)

func newTestManager(t *testing.T) (*DeliveryManagerImpl, *store.MemoryStore, *mockClock, types.NotificationRequest) {
	t.Helper()
	st := store.NewMemoryStore()
	clock := &mockClock{now: testNow}

	ev := types.NewEvent("ORDER_SHIPPED", "user@example.com", nil).Normalize(clock)
	require.NoError(t, st.SaveEvent(ev))
	req := types.NewNotificationRequest(ev, types.ChannelEmail, "subject", "body", clock.Now())

	dm := NewDeliveryManager(st, clock, &mockLogger{})
	require.NoError(t, dm.Register(context.Background(), req))
	return dm, st, clock, req
}

func TestDeliveryManager_Register(t *testing.T) {
	dm, st, _, req := newTestManager(t)

	got, ok := st.GetRequest(req.ID)
	require.True(t, ok)
	assert.Equal(t, types.StatusPending, got.Status)

	err := dm.Register(context.Background(), req)
	assert.Error(t, err, "duplicate request id")

	sent := req
	sent.ID = "other"
	sent.Status = types.StatusSent
	err = dm.Register(context.Background(), sent)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestDeliveryManager_MarkSent(t *testing.T) {
	dm, st, _, req := newTestManager(t)

	updated, err := dm.MarkSent(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSent, updated.Status)
	assert.Empty(t, updated.FailureReason)

	attempts := st.Attempts(req.ID)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Successful)
	assert.Equal(t, testNow, attempts[0].Timestamp)

	// SENT is terminal.
	_, err = dm.MarkFailed(context.Background(), req.ID, "late failure")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	_, err = dm.MarkSent(context.Background(), req.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestDeliveryManager_MarkFailed(t *testing.T) {
	tests := []struct {
		name       string
		reason     string
		wantReason string
	}{
		{name: "reason kept", reason: "Carrier blocked the message", wantReason: "Carrier blocked the message"},
		{name: "empty reason", reason: "", wantReason: "unknown failure"},
		{name: "blank reason", reason: "   ", wantReason: "unknown failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dm, st, _, req := newTestManager(t)

			updated, err := dm.MarkFailed(context.Background(), req.ID, tt.reason)
			require.NoError(t, err)
			assert.Equal(t, types.StatusFailed, updated.Status)
			assert.Equal(t, tt.wantReason, updated.FailureReason)

			attempts := st.Attempts(req.ID)
			require.Len(t, attempts, 1)
			assert.False(t, attempts[0].Successful)
			assert.Equal(t, tt.wantReason, attempts[0].Reason)
		})
	}
}

func TestDeliveryManager_Requeue(t *testing.T) {
	dm, _, clock, req := newTestManager(t)

	_, err := dm.Requeue(context.Background(), req.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "PENDING cannot be requeued")

	_, err = dm.MarkFailed(context.Background(), req.ID, "Network timeout error")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	updated, err := dm.Requeue(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Empty(t, updated.FailureReason)
	require.NotNil(t, updated.LastRetryAt)
	assert.Equal(t, testNow.Add(30*time.Second), *updated.LastRetryAt)

	_, err = dm.MarkFailed(context.Background(), req.ID, "Network timeout error")
	require.NoError(t, err)
	updated, err = dm.Requeue(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.RetryCount)
}

func TestDeliveryManager_MarkDeadLetter(t *testing.T) {
	dm, st, clock, req := newTestManager(t)

	_, err := dm.MarkDeadLetter(context.Background(), req.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "only FAILED requests can be dead-lettered")

	_, err = dm.MarkFailed(context.Background(), req.ID, "Invalid recipient email address")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	entry, err := dm.MarkDeadLetter(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeadLetter, entry.Request.Status)
	assert.Equal(t, "Invalid recipient email address", entry.Request.FailureReason)
	assert.Equal(t, testNow.Add(time.Hour), entry.DeadLetteredAt)

	dl := st.ListDeadLetter()
	require.Len(t, dl, 1)
	assert.Equal(t, req.ID, dl[0].Request.ID)

	_, err = dm.Requeue(context.Background(), req.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestDeliveryManager_UnknownRequest(t *testing.T) {
	dm, _, _, _ := newTestManager(t)

	_, err := dm.MarkSent(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = dm.MarkFailed(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = dm.Requeue(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
