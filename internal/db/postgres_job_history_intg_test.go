//go:build integration
// +build integration

package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/pkg/model"
)

func TestJobHistory(t *testing.T) {
	ctx := context.Background()
	pgDB := MustResolveTestPostgres(t)
	// Migrating twice is harmless.
	require.NoError(t, pgDB.Migrate(ctx))

	folder := "Textures/" + uuid.NewString()
	source := folder + "/Rock_diff.tif"
	now := time.Now().UTC().Truncate(time.Millisecond)
	for i, state := range []string{"failed", "completed"} {
		require.NoError(t, AddJobHistory(ctx, pgDB.Bun(), &model.JobHistory{
			RunKey:       uint64(i + 1),
			SourcePath:   source,
			RelativePath: source,
			Platform:     "pc",
			JobKey:       "Compile",
			State:        state,
			CreatedAt:    now,
			CompletedAt:  now.Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := JobHistoryForSource(ctx, pgDB.Bun(), source, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "completed", history[0].State)
	require.True(t, history[0].Succeeded())

	history, err = JobHistoryForSource(ctx, pgDB.Bun(), source, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)

	for _, term := range []string{source, "rock_diff.tif"} {
		exists, err := ProductExists(ctx, pgDB.Bun(), "pc", term)
		require.NoError(t, err)
		require.True(t, exists, term)
	}
	exists, err := ProductExists(ctx, pgDB.Bun(), "ios", source)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, RemoveSourceProducts(ctx, pgDB.Bun(), strings.ToLower(folder), true))
	exists, err = ProductExists(ctx, pgDB.Bun(), "pc", source)
	require.NoError(t, err)
	require.False(t, exists)
	history, err = JobHistoryForSource(ctx, pgDB.Bun(), source, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}
