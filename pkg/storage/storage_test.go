package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMessageRoundTrip(t *testing.T) {
	store := openTestStore(t)

	snr := -12
	msg := Message{
		MessageID: uuid.NewString(),
		Kind:      KindGroup,
		Sender:    "N0CALL",
		GroupName: "@HAMNET",
		Content:   "evening net starting",
		SNR:       &snr,
	}
	require.NoError(t, store.SaveMessage(msg))

	recent, err := store.RecentMessages(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, msg.MessageID, recent[0].MessageID)
	assert.Equal(t, KindGroup, recent[0].Kind)
	assert.Equal(t, "@HAMNET", recent[0].GroupName)
	require.NotNil(t, recent[0].SNR)
	assert.Equal(t, -12, *recent[0].SNR)
	assert.NotZero(t, recent[0].Timestamp)
}

func TestMessageValidation(t *testing.T) {
	store := openTestStore(t)

	assert.Error(t, store.SaveMessage(Message{Kind: KindDirect, Sender: "A", Content: "x"}))
	assert.Error(t, store.SaveMessage(Message{MessageID: "1", Kind: "bogus", Sender: "A", Content: "x"}))
	assert.Error(t, store.SaveMessage(Message{MessageID: "1", Kind: KindDirect, Sender: "A"}))
}

func TestKindCountsAndTopSenders(t *testing.T) {
	store := openTestStore(t)

	for i, kind := range []string{KindDirect, KindGroup, KindGroup, KindUrgent} {
		sender := "N0CALL"
		if i == 0 {
			sender = "K1ABC"
		}
		require.NoError(t, store.SaveMessage(Message{
			MessageID: uuid.NewString(),
			Kind:      kind,
			Sender:    sender,
			Content:   "x",
		}))
	}

	since := time.Now().Add(-time.Minute)
	counts, err := store.KindCountsSince(since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[KindDirect])
	assert.Equal(t, int64(2), counts[KindGroup])
	assert.Equal(t, int64(1), counts[KindUrgent])

	total, err := store.CountMessagesSince(since)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	senders, err := store.TopSenders(since, 2)
	require.NoError(t, err)
	require.Len(t, senders, 2)
	assert.Equal(t, "N0CALL", senders[0])
}

func TestUserLifecycle(t *testing.T) {
	store := openTestStore(t)
	id := "a1b2c3d4e5f60718293a4b5c6d7e8f90"

	require.NoError(t, store.SaveUser(id))
	require.NoError(t, store.SaveUser(id)) // idempotent

	require.NoError(t, store.Subscribe(id, "@HAMNET"))
	require.NoError(t, store.Subscribe(id, "@WX"))
	require.NoError(t, store.Mute(id, "@WX"))

	subs, err := store.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []string{"@HAMNET", "@WX"}, subs[id])

	mutes, err := store.Mutes()
	require.NoError(t, err)
	assert.Equal(t, []string{"@WX"}, mutes[id])

	require.NoError(t, store.Unmute(id, "@WX"))
	mutes, err = store.Mutes()
	require.NoError(t, err)
	assert.Empty(t, mutes[id])

	require.NoError(t, store.MarkWelcomed(id))
	users, err := store.Users()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].WelcomeSent)

	// Cascade removes subscriptions with the user.
	require.NoError(t, store.DeleteUser(id))
	subs, err = store.Subscriptions()
	require.NoError(t, err)
	assert.Empty(t, subs)

	assert.ErrorIs(t, store.DeleteUser(id), ErrNotFound)
}

func TestBindingReplacesOnConflict(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveBinding("N0CALL", "a1b2c3d4e5f60718293a4b5c6d7e8f90"))
	require.NoError(t, store.SaveBinding("N0CALL", "ffffffffffffffffffffffffffffffff"))

	bindings, err := store.Bindings()
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "ffffffffffffffffffffffffffffffff", bindings[0].Identity)

	require.NoError(t, store.DeleteBinding("N0CALL"))
	assert.ErrorIs(t, store.DeleteBinding("N0CALL"), ErrNotFound)
}

func TestDailyStats(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordInbound("2026-08-25"))
	require.NoError(t, store.RecordInbound("2026-08-25"))
	require.NoError(t, store.RecordOutbound("2026-08-25"))
	require.NoError(t, store.RecordInbound("2026-08-24"))

	stats, err := store.DailyStats(10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "2026-08-25", stats[0].Day)
	assert.Equal(t, int64(2), stats[0].Inbound)
	assert.Equal(t, int64(1), stats[0].Outbound)
}
