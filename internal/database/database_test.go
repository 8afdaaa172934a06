package database

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func makeEvent(sessionID, kind, path string, ts time.Time) *Event {
	return &Event{
		ID:         fmt.Sprintf("%s-%s-%d", sessionID, kind, ts.UnixNano()),
		SessionID:  sessionID,
		UserID:     "u-" + sessionID,
		EventType:  kind,
		Payload:    json.RawMessage(`{"k":"v"}`),
		URL:        "https://site.test" + path,
		Path:       path,
		Timestamp:  ts,
		IPAddress:  "203.0.113.1",
		UserAgent:  "test-agent",
		ReceivedAt: ts,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}

func TestInsertEventBatch(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	batch := []*Event{
		makeEvent("s1", "pageview", "/", now),
		makeEvent("s1", "click", "/", now.Add(time.Second)),
		makeEvent("s2", "pageview", "/about", now.Add(2*time.Second)),
	}
	require.NoError(t, db.InsertEventBatch(batch))

	count, err := db.GetEventCount()
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// empty batch is a no-op
	require.NoError(t, db.InsertEventBatch(nil))
}

func TestInsertEventBatchIsAtomic(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	good := makeEvent("s1", "pageview", "/", now)
	dup := makeEvent("s1", "pageview", "/", now) // same primary key

	err := db.InsertEventBatch([]*Event{good, dup})
	require.Error(t, err)

	count, err := db.GetEventCount()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count, "a failed batch persists nothing")
}

func TestUpsertSessionRefreshesLiveness(t *testing.T) {
	db := newTestDB(t)

	created := time.Now().Add(-time.Hour)
	require.NoError(t, db.UpsertSession(&Session{
		SessionID:    "s1",
		UserID:       "u1",
		IsActive:     true,
		LastActivity: created,
		IPAddress:    "203.0.113.1",
		CreatedAt:    created,
	}))

	later := time.Now()
	require.NoError(t, db.UpsertSession(&Session{
		SessionID:    "s1",
		UserID:       "u1",
		IsActive:     true,
		LastActivity: later,
		IPAddress:    "203.0.113.2",
		CreatedAt:    later,
	}))

	sessions, err := db.ActiveSessions(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, sessions, 1, "one row per session identifier")

	s := sessions[0]
	assert.Equal(t, "203.0.113.2", s.IPAddress)
	assert.Equal(t, later.UnixMilli(), s.LastActivity.UnixMilli())
	assert.Equal(t, created.UnixMilli(), s.CreatedAt.UnixMilli(), "created_at survives upserts")
}

func TestActiveSessionsWindowAndOrder(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, db.UpsertSession(&Session{
			SessionID:    id,
			UserID:       "u",
			IsActive:     true,
			LastActivity: now.Add(-time.Duration(10-i*4) * time.Minute), // -10m, -6m, -2m
			CreatedAt:    now,
		}))
	}
	require.NoError(t, db.UpsertSession(&Session{
		SessionID: "gone", UserID: "u", IsActive: false, LastActivity: now, CreatedAt: now,
	}))

	sessions, err := db.ActiveSessions(now.Add(-5 * time.Minute))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "new", sessions[0].SessionID)
}

func TestRecentEventsCapAndOrder(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	var batch []*Event
	for i := 0; i < 20; i++ {
		batch = append(batch, makeEvent("s1", "click", "/", now.Add(time.Duration(i)*time.Second)))
	}
	batch = append(batch, makeEvent("s2", "pageview", "/other", now))
	batch = append(batch, makeEvent("s3", "pageview", "/excluded", now))
	require.NoError(t, db.InsertEventBatch(batch))

	events, err := db.RecentEvents([]string{"s1", "s2"}, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 10, "query cap bounds the result")

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.After(events[i-1].Timestamp), "most recent first")
	}
	for _, e := range events {
		assert.NotEqual(t, "s3", e.SessionID)
	}

	none, err := db.RecentEvents(nil, now, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCleanupOldData(t *testing.T) {
	db := newTestDB(t)

	old := time.Now().AddDate(0, 0, -30)
	fresh := time.Now()
	require.NoError(t, db.InsertEventBatch([]*Event{
		makeEvent("s1", "pageview", "/", old),
		makeEvent("s1", "pageview", "/", fresh),
	}))
	require.NoError(t, db.UpsertSession(&Session{
		SessionID: "idle", UserID: "u", LastActivity: old, CreatedAt: old,
	}))
	require.NoError(t, db.UpsertSession(&Session{
		SessionID: "live", UserID: "u", IsActive: true, LastActivity: fresh, CreatedAt: fresh,
	}))

	require.NoError(t, db.CleanupOldData(7))

	count, err := db.GetEventCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	var sessionCount int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM sessions").Scan(&sessionCount))
	assert.Equal(t, 1, sessionCount)
}
