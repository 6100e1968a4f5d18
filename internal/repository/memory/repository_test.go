package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-briefing/internal/model"
)

func TestInMemoryStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryStateRepository()

	last, err := repo.LastRunTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, repo.MarkProcessed(ctx, "a", "b"))
	processed, _ := repo.IsProcessed(ctx, "a")
	assert.True(t, processed)
	processed, _ = repo.IsProcessed(ctx, "c")
	assert.False(t, processed)
	assert.Equal(t, 2, repo.ProcessedCount())

	t1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(12 * time.Hour)
	require.NoError(t, repo.RecordRun(ctx, model.NewRunRecord(t2, t2, 2)))
	require.NoError(t, repo.RecordRun(ctx, model.NewRunRecord(t2, t1, 0)))

	last, err = repo.LastRunTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, t2.Equal(*last))
	assert.Len(t, repo.Runs(), 2)

	require.NoError(t, repo.Close())
	assert.True(t, repo.Closed())
}
