package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "modmail.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestThreadLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.RecordOpen(ctx, ThreadLog{RecipientID: "u1", ChannelID: "c1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := s.CountClosed(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.RecordClose(ctx, CloseRecord{LogID: id, CloserID: "staff", Message: "done"}))
	// Close of a thread recovered without a log id inserts a closed row.
	require.NoError(t, s.RecordClose(ctx, CloseRecord{RecipientID: "u1", ChannelID: "c2"}))

	n, err = s.CountClosed(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	logs, err := s.ThreadLogs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.False(t, l.Open())
	}

	_, err = s.RecordOpen(ctx, ThreadLog{})
	assert.Error(t, err)
}

func TestPruneClosedBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	old := time.Now().Add(-72 * time.Hour)
	oldID, err := s.RecordOpen(ctx, ThreadLog{RecipientID: "u1", ChannelID: "c1", OpenedAt: old})
	require.NoError(t, err)
	require.NoError(t, s.RecordClose(ctx, CloseRecord{LogID: oldID, ClosedAt: old}))
	_, err = s.RecordOpen(ctx, ThreadLog{RecipientID: "u1", ChannelID: "c2", OpenedAt: old})
	require.NoError(t, err)

	removed, err := s.PruneClosedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	logs, err := s.ThreadLogs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Open())
}

func TestSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	v, err := s.Setting(ctx, "fallback_category_id")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetSetting(ctx, "fallback_category_id", "123"))
	require.NoError(t, s.SetSetting(ctx, "fallback_category_id", "456"))
	v, err = s.Setting(ctx, "fallback_category_id")
	require.NoError(t, err)
	assert.Equal(t, "456", v)
}

func TestClosures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	fire := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.SaveClosure(ctx, Closure{RecipientID: "u1", Kind: "manual", FireAt: fire, CloserID: "staff", Silent: true}))
	require.NoError(t, s.SaveClosure(ctx, Closure{RecipientID: "u1", Kind: "idle", FireAt: fire.Add(time.Hour)}))
	require.NoError(t, s.SaveClosure(ctx, Closure{RecipientID: "u2", Kind: "manual", FireAt: fire.Add(-time.Minute)}))

	list, err := s.ListClosures(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "u2", list[0].RecipientID)
	assert.True(t, list[1].Silent)
	assert.True(t, list[1].FireAt.Equal(fire))

	require.NoError(t, s.DeleteClosure(ctx, "u1", "manual"))
	list, err = s.ListClosures(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteClosure(ctx, "u1", ""))
	list, err = s.ListClosures(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u2", list[0].RecipientID)
}
