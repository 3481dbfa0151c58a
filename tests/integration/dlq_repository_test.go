package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/dlq"
	"hookrelay/pkg/models"
)

func newDLQEntry(id, source, agent string) models.DeadLetterEntry {
	return models.DeadLetterEntry{
		ID:           id,
		EventID:      "evt-" + id,
		Source:       source,
		Type:         "pull_request",
		TargetAgent:  agent,
		Payload:      map[string]interface{}{"action": "opened"},
		Error:        "agent returned 503",
		AttemptCount: 3,
		MaxAttempts:  3,
		FailedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestDLQRepository_InsertAndGet(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	ctx := context.Background()

	repo := dlq.NewRepository(infra.MongoDB)
	entry := newDLQEntry("dl-1", "github", "ci-agent")
	require.NoError(t, repo.Insert(ctx, entry))

	got, found, err := repo.Get(ctx, "dl-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.EventID, got.EventID)
	assert.Equal(t, entry.TargetAgent, got.TargetAgent)
	assert.Equal(t, entry.Error, got.Error)
	assert.Nil(t, got.ReplayedAt)
}

func TestDLQRepository_GetMissing(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	ctx := context.Background()

	repo := dlq.NewRepository(infra.MongoDB)
	_, found, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDLQRepository_ListFiltersBySourceAndAgent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	ctx := context.Background()

	repo := dlq.NewRepository(infra.MongoDB)
	require.NoError(t, repo.Insert(ctx, newDLQEntry("dl-1", "github", "ci-agent")))
	require.NoError(t, repo.Insert(ctx, newDLQEntry("dl-2", "github", "review-agent")))
	require.NoError(t, repo.Insert(ctx, newDLQEntry("dl-3", "gitlab", "ci-agent")))

	entries, err := repo.List(ctx, dlq.ListFilter{Source: "github"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = repo.List(ctx, dlq.ListFilter{Source: "github", TargetAgent: "ci-agent"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dl-1", entries[0].ID)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDLQRepository_MarkReplayed(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	ctx := context.Background()

	repo := dlq.NewRepository(infra.MongoDB)
	require.NoError(t, repo.Insert(ctx, newDLQEntry("dl-1", "github", "ci-agent")))

	replayedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.MarkReplayed(ctx, "dl-1", replayedAt))

	got, found, err := repo.Get(ctx, "dl-1")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, got.ReplayedAt)
	assert.WithinDuration(t, replayedAt, *got.ReplayedAt, time.Second)

	err = repo.MarkReplayed(ctx, "missing", replayedAt)
	require.Error(t, err)
}

func TestDLQRepository_Delete(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	ctx := context.Background()

	repo := dlq.NewRepository(infra.MongoDB)
	require.NoError(t, repo.Insert(ctx, newDLQEntry("dl-1", "github", "ci-agent")))
	require.NoError(t, repo.Delete(ctx, "dl-1"))

	_, found, err := repo.Get(ctx, "dl-1")
	require.NoError(t, err)
	assert.False(t, found)
}
