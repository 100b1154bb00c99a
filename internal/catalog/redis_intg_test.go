//go:build integration
// +build integration

package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/internal/config"
	"github.com/determined-ai/rcq/pkg/model"
)

func TestRedisCatalog(t *testing.T) {
	ctx := context.Background()
	c := config.DefaultCatalogConfig().Redis
	if addr := os.Getenv("RCQ_INTEGRATION_REDIS_ADDR"); addr != "" {
		c.Addr = addr
	}
	c.KeyPrefix = "rcq-test-" + uuid.NewString()
	c.HistoryLen = 2

	r, err := NewRedis(ctx, &c)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	for i, state := range []string{"failed", "failed", "completed"} {
		require.NoError(t, r.RecordJob(ctx, model.JobHistory{
			RunKey:       uint64(i + 1),
			SourcePath:   "Textures/Rock_diff.tif",
			RelativePath: "Textures/Rock_diff.tif",
			Platform:     "pc",
			State:        state,
			CompletedAt:  time.Now(),
		}))
	}

	history, err := r.JobHistory(ctx, "textures/rock_diff.tif")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, uint64(3), history[0].RunKey)

	for _, term := range []string{"textures/rock_diff.tif", "rock_diff.tif"} {
		exists, err := r.AssetExists(ctx, "pc", term)
		require.NoError(t, err)
		require.True(t, exists, term)
	}
	exists, err := r.AssetExists(ctx, "ios", "rock_diff.tif")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, r.RecordJob(ctx, model.JobHistory{
		RunKey:       4,
		SourcePath:   "Textures/Stone/Granite.tif",
		RelativePath: "Textures/Stone/Granite.tif",
		Platform:     "pc",
		State:        "completed",
		CompletedAt:  time.Now(),
	}))

	require.NoError(t, r.RemoveSource(ctx, "textures/ROCK_diff.tif", false))
	exists, err = r.AssetExists(ctx, "pc", "rock_diff.tif")
	require.NoError(t, err)
	require.False(t, exists)
	exists, err = r.AssetExists(ctx, "pc", "granite.tif")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, r.RemoveSource(ctx, "Textures", true))
	exists, err = r.AssetExists(ctx, "pc", "granite.tif")
	require.NoError(t, err)
	require.False(t, exists)
	history, err = r.JobHistory(ctx, "textures/rock_diff.tif")
	require.NoError(t, err)
	require.Len(t, history, 2)
}
