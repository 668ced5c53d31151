package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveGetAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	started := time.Date(2025, 7, 7, 10, 30, 0, 0, time.UTC)
	rec := Record{RunID: uuid.NewString(), StartedAt: started, IssueCount: 3}
	require.NoError(t, s.Save(ctx, rec))

	rec.Version = "2025-07-07_10-30"
	rec.FinishedAt = started.Add(2 * time.Second)
	rec.Files = map[string]string{"json": "summary_2025-07-07_10-30.json"}
	rec.Complete = true
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, got.Version)
	assert.True(t, got.Complete)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.FinishedAt.Equal(rec.FinishedAt))
	assert.Equal(t, rec.Files, got.Files)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	base := time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		id := uuid.NewString()
		ids = append(ids, id)
		require.NoError(t, s.Save(ctx, Record{RunID: id, StartedAt: base.Add(time.Duration(i) * 500 * time.Millisecond)}))
	}

	recs, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, ids[3], recs[0].RunID)
	assert.Equal(t, ids[2], recs[1].RunID)
	assert.Equal(t, ids[1], recs[2].RunID)
}

func TestSaveRequiresRunID(t *testing.T) {
	assert.Error(t, openTemp(t).Save(context.Background(), Record{}))
}

func TestRebindForPostgres(t *testing.T) {
	s := &SQLStore{postgres: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
}
