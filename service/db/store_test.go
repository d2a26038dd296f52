package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureItems(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	_, err := store.GetItem(ctx, "appSessions")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetItem(ctx, "appSessions", `{"a":"b"}`))
	v, err := store.GetItem(ctx, "appSessions")
	require.NoError(t, err)
	assert.Equal(t, `{"a":"b"}`, v)

	require.NoError(t, store.SetItem(ctx, "appSessions", `{}`))
	v, err = store.GetItem(ctx, "appSessions")
	require.NoError(t, err)
	assert.Equal(t, `{}`, v)

	require.NoError(t, store.RemoveItem(ctx, "appSessions"))
	_, err = store.GetItem(ctx, "appSessions")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.RemoveItem(ctx, "appSessions"))
}

func TestSecureItems_ConcurrentWriters(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.SetItem(ctx, fmt.Sprintf("key-%d", i), "v"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		v, err := store.GetItem(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	}
}

func TestAuthorizationEvents(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	events := []authz.Event{
		{RequestID: "req-1", Method: authz.MethodConnect, Counterparty: "dapp-a", AppURL: "https://a.example", Outcome: authz.OutcomePending, Timestamp: now},
		{RequestID: "req-1", Method: authz.MethodConnect, Counterparty: "dapp-a", AppURL: "https://a.example", Owner: "owner", Outcome: authz.OutcomeApproved, Timestamp: now.Add(time.Second)},
		{RequestID: "req-2", Method: authz.MethodSignTransaction, Counterparty: "dapp-b", Outcome: authz.OutcomeRejected, ErrorCode: authz.CodeUserRejected, Transactions: 2, Warnings: 1, RequiresConfirmation: true, Timestamp: now},
	}
	for _, e := range events {
		require.NoError(t, store.RecordEvent(ctx, e))
	}

	t.Run("latest event", func(t *testing.T) {
		latest, err := store.LatestEvent(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, "approved", latest.Outcome)
		require.NotNil(t, latest.Owner)
		assert.Equal(t, "owner", *latest.Owner)
		assert.Nil(t, latest.ErrorCode)
		assert.WithinDuration(t, now.Add(time.Second), latest.OccurredAt, time.Microsecond)
	})

	t.Run("rejection fields", func(t *testing.T) {
		latest, err := store.LatestEvent(ctx, "req-2")
		require.NoError(t, err)
		require.NotNil(t, latest.ErrorCode)
		assert.Equal(t, int32(-32000), *latest.ErrorCode)
		assert.Equal(t, int32(2), latest.Transactions)
		assert.True(t, latest.RequiresConfirmation)
		assert.Nil(t, latest.AppURL)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := store.LatestEvent(ctx, "missing")
		assert.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("filter by counterparty", func(t *testing.T) {
		list, err := store.ListEvents(ctx, ListEventsParams{Counterparty: "dapp-a"})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "approved", list[0].Outcome)
		assert.Equal(t, "pending", list[1].Outcome)
	})

	t.Run("limit", func(t *testing.T) {
		list, err := store.ListEvents(ctx, ListEventsParams{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
