package sessionlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/session"
	"github.com/mattjoyce/voicecmd/internal/storage"
)

func openTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func result(id, command string, state session.State, ended time.Time) *session.Result {
	return &session.Result{
		SessionID: id,
		Command:   command,
		Locale:    "en-US",
		State:     state,
		Outcome:   "success",
		StartedAt: ended.Add(-50 * time.Millisecond),
		EndedAt:   ended,
	}
}

func TestRecordAndGet(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	r := result("s1", "openBible", session.StateCompleted, now)
	r.LaunchArg = intent.Launch("")
	r.Heartbeats = 2
	r.Messages = 3
	require.NoError(t, s.Record(ctx, r))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "openBible", got.Command)
	assert.Equal(t, session.StateCompleted, got.State)
	assert.Equal(t, 2, got.Heartbeats)
	assert.Equal(t, 3, got.Messages)
	require.NotNil(t, got.LaunchArg, "empty launch argument must survive the round trip")
	assert.Equal(t, "", *got.LaunchArg)
	assert.True(t, got.EndedAt.Equal(now.UTC()))
}

func TestRecordFailure(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	r := result("s2", "slow", session.StateCancelled, time.Now())
	r.Outcome = ""
	r.ErrorCode = session.CodeCancelled
	r.Reason = "user dismissed"
	r.Abandoned = true
	require.NoError(t, s.Record(ctx, r))

	got, err := s.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, session.CodeCancelled, got.ErrorCode)
	assert.Equal(t, "user dismissed", got.Reason)
	assert.True(t, got.Abandoned)
	assert.Nil(t, got.LaunchArg)
}

func TestRecordRejectsEmptyID(t *testing.T) {
	s, _ := openTestStore(t)
	assert.Error(t, s.Record(context.Background(), &session.Result{}))
	assert.Error(t, s.Record(context.Background(), nil))
}

func TestGetNotFound(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentOrderingAndFilters(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	require.NoError(t, s.Record(ctx, result("a", "openBible", session.StateCompleted, base)))
	require.NoError(t, s.Record(ctx, result("b", "thankYouBible", session.StateCompleted, base.Add(time.Second))))
	require.NoError(t, s.Record(ctx, result("c", "openBible", session.StateFailed, base.Add(2*time.Second))))

	all, err := s.Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].SessionID, all[1].SessionID, all[2].SessionID})

	open, err := s.Recent(ctx, Filter{Command: "openBible"})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	failed, err := s.Recent(ctx, Filter{State: session.StateFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "c", failed[0].SessionID)

	limited, err := s.Recent(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[session.StateCompleted])
	assert.Equal(t, 1, counts[session.StateFailed])
}

func TestPrune(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, result("old", "openBible", session.StateCompleted, time.Now().Add(-48*time.Hour))))
	require.NoError(t, s.Record(ctx, result("new", "openBible", session.StateCompleted, time.Now())))

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "new")
	assert.NoError(t, err)
}
